// Package config loads the PTC host's runtime configuration from a YAML
// file merged with environment variable overrides: typed defaults, an
// EnvOrDefault helper, and a Validate pass that turns misconfiguration
// into a startup error rather than a runtime surprise.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr         = ":8090"
	defaultSandboxProvider  = "process"
	defaultSandboxBaseDir   = ""
	defaultMaxRecursion     = 100
	defaultTimeoutMS        = 30000
	defaultStoreDriver      = "sqlite"
	defaultStoreDSN         = "ptchost.db"
	defaultAdminTenantLimit = 50
)

// PTCHostConfig is the fully-resolved configuration for one host process.
type PTCHostConfig struct {
	HTTPAddr string `yaml:"httpAddr"`

	SandboxProvider string `yaml:"sandboxProvider"` // "process" (only built-in provider)
	SandboxBaseDir  string `yaml:"sandboxBaseDir"`

	MaxRecursionLimit int           `yaml:"maxRecursionLimit"`
	TimeoutMS         int           `yaml:"timeoutMs"`
	TimeoutDuration   time.Duration `yaml:"-"`

	StoreDriver string `yaml:"storeDriver"` // "memory", "sqlite", "postgres"
	StoreDSN    string `yaml:"storeDsn"`

	WebhookURLs []string `yaml:"webhookUrls"`

	DefaultRecentLimit int `yaml:"defaultRecentLimit"`
}

// yamlFile mirrors PTCHostConfig's yaml-tagged fields for decoding; kept
// separate so environment overrides never have to fight zero-value
// ambiguity in the public struct.
type yamlFile struct {
	HTTPAddr           string   `yaml:"httpAddr"`
	SandboxProvider    string   `yaml:"sandboxProvider"`
	SandboxBaseDir     string   `yaml:"sandboxBaseDir"`
	MaxRecursionLimit  int      `yaml:"maxRecursionLimit"`
	TimeoutMS          int      `yaml:"timeoutMs"`
	StoreDriver        string   `yaml:"storeDriver"`
	StoreDSN           string   `yaml:"storeDsn"`
	WebhookURLs        []string `yaml:"webhookUrls"`
	DefaultRecentLimit int      `yaml:"defaultRecentLimit"`
}

// Load reads path (if it exists) as YAML, then applies environment
// variable overrides, then fills in defaults for anything still unset.
// A missing file is not an error: env vars and defaults alone are a
// valid configuration.
func Load(path string) (PTCHostConfig, error) {
	var doc yamlFile
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return PTCHostConfig{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &doc); err != nil {
			return PTCHostConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg := PTCHostConfig{
		HTTPAddr:           envOrDefault("PTC_HOST_HTTP_ADDR", doc.HTTPAddr, defaultHTTPAddr),
		SandboxProvider:    envOrDefault("PTC_HOST_SANDBOX_PROVIDER", doc.SandboxProvider, defaultSandboxProvider),
		SandboxBaseDir:     envOrDefault("PTC_HOST_SANDBOX_BASE_DIR", doc.SandboxBaseDir, defaultSandboxBaseDir),
		StoreDriver:        envOrDefault("PTC_HOST_STORE_DRIVER", doc.StoreDriver, defaultStoreDriver),
		StoreDSN:           envOrDefault("PTC_HOST_STORE_DSN", doc.StoreDSN, defaultStoreDSN),
		MaxRecursionLimit:  envOrDefaultInt("PTC_HOST_MAX_RECURSION_LIMIT", doc.MaxRecursionLimit, defaultMaxRecursion),
		TimeoutMS:          envOrDefaultInt("PTC_HOST_TIMEOUT_MS", doc.TimeoutMS, defaultTimeoutMS),
		DefaultRecentLimit: envOrDefaultInt("PTC_HOST_DEFAULT_RECENT_LIMIT", doc.DefaultRecentLimit, defaultAdminTenantLimit),
		WebhookURLs:        applyWebhookURLsEnv(doc.WebhookURLs),
	}
	cfg.TimeoutDuration = time.Duration(cfg.TimeoutMS) * time.Millisecond
	return cfg, nil
}

// Validate rejects configurations that would fail later in a confusing
// way.
func (c PTCHostConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("PTC_HOST_HTTP_ADDR must not be empty")
	}
	if strings.ToLower(strings.TrimSpace(c.SandboxProvider)) != "process" {
		return fmt.Errorf("PTC_HOST_SANDBOX_PROVIDER must be %q", "process")
	}
	switch strings.ToLower(strings.TrimSpace(c.StoreDriver)) {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("PTC_HOST_STORE_DRIVER must be memory, sqlite, or postgres")
	}
	if c.MaxRecursionLimit <= 0 {
		return fmt.Errorf("PTC_HOST_MAX_RECURSION_LIMIT must be > 0")
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("PTC_HOST_TIMEOUT_MS must be > 0")
	}
	if c.DefaultRecentLimit <= 0 {
		return fmt.Errorf("PTC_HOST_DEFAULT_RECENT_LIMIT must be > 0")
	}
	return nil
}

func envOrDefault(key, fromFile, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		return raw
	}
	if strings.TrimSpace(fromFile) != "" {
		return fromFile
	}
	return fallback
}

func envOrDefaultInt(key string, fromFile, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	if fromFile != 0 {
		return fromFile
	}
	return fallback
}

func applyWebhookURLsEnv(fromFile []string) []string {
	raw := strings.TrimSpace(os.Getenv("PTC_HOST_WEBHOOK_URLS"))
	if raw == "" {
		return fromFile
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
