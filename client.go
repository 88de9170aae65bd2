// Package ptchost is a Programmatic Tool Calling host: it lets an agent
// submit a single piece of source code, executes that code inside an
// isolated sandbox, and services the code's tool-call requests against a
// host-side catalog of real tool implementations. The sandbox can only
// request a tool call; it can never perform one.
package ptchost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"ptchost.local/ptchost/internal/catalog"
	"ptchost.local/ptchost/internal/dispatch"
	"ptchost.local/ptchost/internal/execstore"
	"ptchost.local/ptchost/internal/ids"
	"ptchost.local/ptchost/internal/orchestrator"
	"ptchost.local/ptchost/internal/ptctypes"
	"ptchost.local/ptchost/internal/sandbox"
)

// ToolSpec is the caller-facing shape of one tool: either a bare
// declaration or one wrapped with WithOutputSchema to add an explicit
// output schema.
type ToolSpec = ptctypes.ToolInfo

// WithOutputSchema wraps a ToolSpec with an explicit output schema.
func WithOutputSchema(tool ToolSpec, output ptctypes.Schema) ToolSpec {
	return catalog.WithOutputSchema(tool, output)
}

// Schema re-exports the schema description type so callers building
// ToolSpecs never need to import an internal package.
type Schema = ptctypes.Schema

const (
	defaultMaxRecursionLimit = 100
	defaultTimeoutMS         = 30000
)

// Config configures one Client.
type Config struct {
	Tools             []ToolSpec
	MaxRecursionLimit int // default 100
	TimeoutMS         int // default 30000

	// SandboxCredentials is opaque and forwarded to the sandbox provider
	// if it implements CredentialedProvider; the built-in process
	// provider ignores it.
	SandboxCredentials any

	Logger          *log.Logger
	SandboxProvider sandbox.Provider // default: local-process provider
	SandboxBaseDir  string           // used only when SandboxProvider is nil

	Store       execstore.Store // default: in-memory store
	TenantID    string          // default: "default"
	Subscribers []dispatch.Subscriber
}

// CredentialedProvider is implemented by sandbox providers that accept
// out-of-band credentials (API keys, service tokens) rather than reading
// them from process environment.
type CredentialedProvider interface {
	sandbox.Provider
	SetCredentials(any)
}

// Client is the public entry point: one Client serves any number of
// concurrent Execute calls against one fixed tool catalog.
type Client struct {
	logger     *log.Logger
	catalog    *catalog.Catalog
	orch       *orchestrator.Orchestrator
	store      execstore.Store
	dispatcher *dispatch.Dispatcher
	tenantID   string

	activeMu sync.Mutex
	active   map[string]bool
}

// New builds a Client from Config. Duplicate tool names, invalid tool
// names, or a nil Invoke function fail construction.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	cat, err := catalog.New(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("ptchost: %w", err)
	}

	provider := cfg.SandboxProvider
	if provider == nil {
		provider = sandbox.NewProcessProvider(logger, cfg.SandboxBaseDir)
	}
	if cfg.SandboxCredentials != nil {
		if credentialed, ok := provider.(CredentialedProvider); ok {
			credentialed.SetCredentials(cfg.SandboxCredentials)
		}
	}

	store := cfg.Store
	if store == nil {
		store = execstore.NewMemoryStore()
	}

	dispatcher := dispatch.New(logger, cfg.Subscribers)

	tenantID := strings.TrimSpace(cfg.TenantID)
	if tenantID == "" {
		tenantID = "default"
	}

	c := &Client{
		logger:     logger,
		catalog:    cat,
		store:      store,
		dispatcher: dispatcher,
		tenantID:   tenantID,
		active:     make(map[string]bool),
	}

	orchCfg := orchestrator.Config{
		MaxRecursionLimit: cfg.MaxRecursionLimit,
		TimeoutMS:         cfg.TimeoutMS,
	}
	if orchCfg.MaxRecursionLimit <= 0 {
		orchCfg.MaxRecursionLimit = defaultMaxRecursionLimit
	}
	if orchCfg.TimeoutMS <= 0 {
		orchCfg.TimeoutMS = defaultTimeoutMS
	}
	c.orch = orchestrator.New(logger, provider, cat, orchCfg, c.observe)

	return c, nil
}

// Execute assembles, runs, and tears down one sandboxed execution of
// source against the catalog, returning within Config.TimeoutMS. It also
// records a best-effort ExecutionRecord to the configured Store; a store
// failure never affects the returned result.
func (c *Client) Execute(ctx context.Context, source string) ptctypes.ExecutionResult {
	return c.ExecuteWithID(ctx, ids.New(), source)
}

// ExecuteWithID behaves like Execute but lets the caller mint
// executionID up front, so a concurrently opened Execution Stream
// connection (see internal/httpapi) can observe lifecycle events for
// this execution as they happen rather than only after it completes.
func (c *Client) ExecuteWithID(ctx context.Context, executionID string, source string) ptctypes.ExecutionResult {
	start := time.Now()
	result := c.orch.Execute(ctx, executionID, source)
	c.recordExecution(executionID, source, result, time.Since(start))
	return result
}

// CatalogText renders the prompt-injection text listing every registered
// tool with its projected input/output types and description.
func (c *Client) CatalogText() string {
	return c.catalog.CatalogText()
}

// Dispatcher exposes the lifecycle dispatcher so an HTTP layer can
// register per-execution stream subscribers.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Store exposes the execution store so an HTTP layer can serve recent
// execution history.
func (c *Client) Store() execstore.Store {
	return c.store
}

// IsActive reports whether executionID belongs to an in-flight
// execution. The Execution Stream API uses this to close immediately
// for an unknown or already-completed execution ID rather than hang.
func (c *Client) IsActive(executionID string) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.active[executionID]
}

func (c *Client) markActive(executionID string) {
	c.activeMu.Lock()
	c.active[executionID] = true
	c.activeMu.Unlock()
}

func (c *Client) markInactive(executionID string) {
	c.activeMu.Lock()
	delete(c.active, executionID)
	c.activeMu.Unlock()
}

func (c *Client) observe(kind string, executionID string, payload map[string]any) {
	if kind == dispatch.KindExecutionStarted {
		c.markActive(executionID)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = json.RawMessage("null")
	}
	c.dispatcher.Dispatch(context.Background(), dispatch.LifecycleEvent{
		EventID:     ids.New(),
		ExecutionID: executionID,
		OccurredAt:  time.Now().UTC(),
		Kind:        kind,
		Payload:     encoded,
	})

	if kind == dispatch.KindExecutionCompleted || kind == dispatch.KindExecutionFailed {
		c.markInactive(executionID)
	}
}

func (c *Client) recordExecution(executionID string, source string, result ptctypes.ExecutionResult, elapsed time.Duration) {
	record := execstore.ExecutionRecord{
		ExecutionID:   executionID,
		TenantID:      c.tenantID,
		CodeHash:      hashSource(source),
		ToolCallCount: result.ToolCalls,
		DurationMS:    elapsed.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	if result.Success {
		record.Status = execstore.StatusOK
		record.ResultSummary = summarize(result.Result)
	} else {
		record.Status = execstore.StatusError
		record.ErrorMessage = truncate(result.Error, 500)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.RecordExecution(ctx, record); err != nil {
		c.logger.Printf("execution store warning execution_id=%s err=%v", record.ExecutionID, err)
	}
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func summarize(result any) string {
	encoded, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return truncate(string(encoded), 500)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
