package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ptchost.local/ptchost"
	"ptchost.local/ptchost/internal/config"
	"ptchost.local/ptchost/internal/dispatch"
	logging "ptchost.local/ptchost/internal/dispatch/logging"
	"ptchost.local/ptchost/internal/dispatch/webhook"
	"ptchost.local/ptchost/internal/execstore"
	"ptchost.local/ptchost/internal/httpapi"
	"ptchost.local/ptchost/internal/ptctypes"
)

func main() {
	logger := log.New(os.Stdout, "ptchost ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.Load(os.Getenv("PTC_HOST_CONFIG_FILE"))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	subs := []dispatch.Subscriber{logging.New(logger)}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}

	store, err := storeFromConfig(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize execution store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	client, err := ptchost.New(ptchost.Config{
		Tools:             demoTools(),
		MaxRecursionLimit: cfg.MaxRecursionLimit,
		TimeoutMS:         cfg.TimeoutMS,
		Logger:            logger,
		SandboxBaseDir:    cfg.SandboxBaseDir,
		Store:             store,
		Subscribers:       subs,
	})
	if err != nil {
		logger.Fatalf("failed to initialize ptc host: %v", err)
	}

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, client, cfg.DefaultRecentLimit)

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
}

func storeFromConfig(cfg config.PTCHostConfig) (execstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		return execstore.NewMemoryStore(), nil
	case "sqlite", "postgres":
		return execstore.NewGormStore(cfg.StoreDriver, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

// demoTools is a minimal, illustrative catalog: enough for an operator to
// exercise the Admin HTTP API against a freshly started host without
// wiring a real tool backend first.
func demoTools() []ptchost.ToolSpec {
	return []ptchost.ToolSpec{
		{
			Name:        "get_weather",
			Description: "Looks up the current weather for a city.",
			InputSchema: ptctypes.Schema{
				Kind:       "object",
				Properties: map[string]ptctypes.Schema{"city": {Kind: "string"}},
				Required:   []string{"city"},
			},
			OutputSchema: &ptctypes.Schema{
				Kind: "object",
				Properties: map[string]ptctypes.Schema{
					"city":    {Kind: "string"},
					"weather": {Kind: "string"},
				},
			},
			Invoke: func(args any) (any, error) {
				obj, _ := args.(map[string]any)
				city, _ := obj["city"].(string)
				if strings.TrimSpace(city) == "" {
					return nil, fmt.Errorf("city is required")
				}
				return map[string]any{"city": city, "weather": "sunny"}, nil
			},
		},
		{
			Name:        "calculate",
			Description: "Performs a basic arithmetic operation on two numbers.",
			InputSchema: ptctypes.Schema{
				Kind: "object",
				Properties: map[string]ptctypes.Schema{
					"a":         {Kind: "number"},
					"b":         {Kind: "number"},
					"operation": {Kind: "enum", Values: []string{"add", "subtract", "multiply", "divide"}},
				},
				Required: []string{"a", "b", "operation"},
			},
			OutputSchema: &ptctypes.Schema{Kind: "number"},
			Invoke: func(args any) (any, error) {
				obj, ok := args.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("expected an object argument")
				}
				a, _ := obj["a"].(float64)
				b, _ := obj["b"].(float64)
				op, _ := obj["operation"].(string)
				switch op {
				case "add":
					return a + b, nil
				case "subtract":
					return a - b, nil
				case "multiply":
					return a * b, nil
				case "divide":
					if b == 0 {
						return nil, fmt.Errorf("division by zero")
					}
					return a / b, nil
				default:
					return nil, fmt.Errorf("unknown operation %q", op)
				}
			},
		},
	}
}
