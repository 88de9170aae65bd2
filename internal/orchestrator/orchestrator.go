// Package orchestrator implements the Sandbox Orchestrator (C6): it
// assembles the sandbox program, provisions and tears down the sandbox,
// streams and multiplexes sandbox stdout, services tool-call requests
// against the catalog, and enforces the recursion, time, and shape
// limits the rest of the host relies on.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"ptchost.local/ptchost/internal/assembler"
	"ptchost.local/ptchost/internal/cachekey"
	"ptchost.local/ptchost/internal/catalog"
	"ptchost.local/ptchost/internal/classifier"
	"ptchost.local/ptchost/internal/protocol"
	"ptchost.local/ptchost/internal/ptctypes"
	"ptchost.local/ptchost/internal/sandbox"
	"ptchost.local/ptchost/internal/schema"
)

// Observer receives lifecycle notifications for one execution. It must
// never block for long: the orchestrator calls it synchronously from each
// tool-dispatch goroutine for tool-call events and from the Execute
// goroutine for start/end events. A nil Observer disables
// notification entirely.
type Observer func(kind string, executionID string, payload map[string]any)

// Config holds the tunables from the public Client config that this
// package needs.
type Config struct {
	MaxRecursionLimit int
	TimeoutMS         int
}

const (
	defaultMaxRecursionLimit = 100
	defaultTimeoutMS         = 30000
	entryCommandName         = "ptc-runner" // external transpiler/runner collaborator
)

// Orchestrator runs single-shot executions against one tool catalog and
// one sandbox provider. It holds no execution-scoped state: every field
// is read-only after construction, so one Orchestrator safely serves any
// number of concurrent Execute calls, each getting its own sandbox.
type Orchestrator struct {
	logger   *log.Logger
	provider sandbox.Provider
	catalog  *catalog.Catalog
	cfg      Config
	observer Observer
}

// New builds an Orchestrator. observer may be nil.
func New(logger *log.Logger, provider sandbox.Provider, cat *catalog.Catalog, cfg Config, observer Observer) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxRecursionLimit <= 0 {
		cfg.MaxRecursionLimit = defaultMaxRecursionLimit
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = defaultTimeoutMS
	}
	return &Orchestrator{logger: logger, provider: provider, catalog: cat, cfg: cfg, observer: observer}
}

// execution holds all state for one Execute call. It is created at
// Execute entry and discarded before return; nothing here is ever shared
// across calls.
type execution struct {
	id       string
	orch     *Orchestrator
	sbox     sandbox.Sandbox
	cmd      sandbox.Command
	stdout   strings.Builder
	stderr   strings.Builder
	mu       sync.Mutex // guards stdout/stderr/toolCalls; the stream callbacks write them while awaitCompletion and Execute read them from other goroutines
	toolCalls int

	once    sync.Once
	resultC chan ptctypes.ExecutionResult

	dispatchWG sync.WaitGroup
}

func (e *execution) notify(kind string, payload map[string]any) {
	if e.orch.observer == nil {
		return
	}
	e.orch.observer(kind, e.id, payload)
}

func (e *execution) resolve(result ptctypes.ExecutionResult) {
	e.once.Do(func() {
		result.ToolCalls = e.toolCallCount()
		e.resultC <- result
	})
}

func (e *execution) toolCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.toolCalls
}

// Execute assembles, runs, and tears down one execution of source
// against the orchestrator's catalog, returning within cfg.TimeoutMS.
// executionID is minted by the caller (typically the Client) so it can
// be correlated with lifecycle events and audit records before the
// execution completes.
func (o *Orchestrator) Execute(ctx context.Context, executionID string, source string) ptctypes.ExecutionResult {
	execID := executionID
	o.logger.Printf("execution start id=%s", execID)
	o.notifyStart(execID)

	files, err := assembler.Assemble(source, o.catalog.List())
	if err != nil {
		result := ptctypes.ExecutionResult{Success: false, Error: err.Error()}
		o.logger.Printf("execution assembly failed id=%s err=%v", execID, err)
		o.notifyEnd(execID, result)
		return result
	}

	e := &execution{
		id:      execID,
		orch:    o,
		resultC: make(chan ptctypes.ExecutionResult, 1),
	}

	sbox, err := o.provider.Create(ctx)
	if err != nil {
		result := ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("sandbox provisioning failed: %v", err)}
		o.notifyEnd(execID, result)
		return result
	}
	e.sbox = sbox

	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if e.cmd != nil {
			_ = e.cmd.Kill()
		}
		if err := sbox.Kill(teardownCtx); err != nil {
			o.logger.Printf("execution teardown warning id=%s err=%v", execID, err)
		}
	}()

	if err := e.writeFiles(ctx, files); err != nil {
		result := ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("sandbox provisioning failed: %v", err)}
		o.notifyEnd(execID, result)
		return result
	}

	cmd, err := sbox.Run(ctx, []string{entryCommandName, protocol.MainPath(assembler.Ext)}, sandbox.RunOptions{
		Background: true,
		OnStdout:   e.onStdoutLine,
		OnStderr:   e.onStderrLine,
	})
	if err != nil {
		result := ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("sandbox provisioning failed: %v", err)}
		o.notifyEnd(execID, result)
		return result
	}
	e.cmd = cmd

	go e.awaitCompletion(ctx)

	timeout := time.Duration(o.cfg.TimeoutMS) * time.Millisecond
	select {
	case result := <-e.resultC:
		e.dispatchWG.Wait()
		o.notifyEnd(execID, result)
		return result
	case <-time.After(timeout):
		if e.cmd != nil {
			_ = e.cmd.Kill()
		}
		result := ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("Execution timed out after %dms", o.cfg.TimeoutMS), ToolCalls: e.toolCallCount()}
		e.resolve(result)
		o.notifyEnd(execID, result)
		return result
	case <-ctx.Done():
		if e.cmd != nil {
			_ = e.cmd.Kill()
		}
		result := ptctypes.ExecutionResult{Success: false, Error: ctx.Err().Error(), ToolCalls: e.toolCallCount()}
		e.resolve(result)
		o.notifyEnd(execID, result)
		return result
	}
}

func (o *Orchestrator) notifyStart(execID string) {
	if o.observer == nil {
		return
	}
	o.observer("execution.started", execID, nil)
}

func (o *Orchestrator) notifyEnd(execID string, result ptctypes.ExecutionResult) {
	if o.observer == nil {
		return
	}
	kind := "execution.completed"
	payload := map[string]any{"success": result.Success}
	if !result.Success {
		kind = "execution.failed"
		payload["error"] = result.Error
	}
	o.observer(kind, execID, payload)
}

func (e *execution) writeFiles(ctx context.Context, files assembler.Files) error {
	ext := assembler.Ext
	writes := []struct {
		path    string
		content string
	}{
		{protocol.StubsPath(ext), files.Stubs},
		{protocol.RuntimePath(ext), files.Runtime},
		{protocol.MainPath(ext), files.Main},
		{protocol.CachePath(ext), "{}"},
	}
	for _, w := range writes {
		if err := e.sbox.WriteFile(ctx, w.path, w.content); err != nil {
			return err
		}
	}
	return nil
}

// awaitCompletion waits for the background command to exit. If neither a
// final nor error sentinel resolved the execution by the time the
// process exits, this determines the outcome from exit status and
// buffered output.
func (e *execution) awaitCompletion(ctx context.Context) {
	code, err := e.cmd.Wait(ctx)

	e.mu.Lock()
	stdout := e.stdout.String()
	stderr := e.stderr.String()
	e.mu.Unlock()

	if err != nil {
		e.resolve(ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("sandbox command error: %v", err)})
		return
	}

	if code != 0 {
		message := classifier.Classify(stderr + "\n" + stdout)
		e.resolve(ptctypes.ExecutionResult{Success: false, Error: message})
		return
	}

	head := stdout
	if len(head) > 1024 {
		head = head[:1024]
	}
	e.resolve(ptctypes.ExecutionResult{Success: false, Error: fmt.Sprintf("program exited without a result; first output: %s", head)})
}

// onStdoutLine is the single synchronous consumer of sandbox stdout. It
// is invoked once per line by the sandbox's stream reader, so sentinel
// detection and the tool-call counter increment never race with each
// other.
func (e *execution) onStdoutLine(line string) {
	e.mu.Lock()
	e.stdout.WriteString(line)
	e.mu.Unlock()

	trimmed := strings.TrimRight(line, "\n")

	switch {
	case strings.HasPrefix(trimmed, protocol.SentinelToolRequest):
		requestID := strings.TrimPrefix(trimmed, protocol.SentinelToolRequest)
		e.handleToolRequestSentinel(requestID)
	case strings.HasPrefix(trimmed, protocol.SentinelFinal):
		payload := strings.TrimPrefix(trimmed, protocol.SentinelFinal)
		e.handleFinalSentinel(payload)
	case strings.HasPrefix(trimmed, protocol.SentinelError):
		payload := strings.TrimPrefix(trimmed, protocol.SentinelError)
		e.handleErrorSentinel(payload)
	}
}

func (e *execution) onStderrLine(line string) {
	e.mu.Lock()
	e.stderr.WriteString(line)
	e.mu.Unlock()
}

func (e *execution) handleFinalSentinel(payload string) {
	var result any
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		e.resolve(ptctypes.ExecutionResult{Success: false, Error: "Runtime error: malformed final payload"})
		return
	}
	e.resolve(ptctypes.ExecutionResult{Success: true, Result: result})
}

func (e *execution) handleErrorSentinel(payload string) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil || body.Message == "" {
		// Malformed error payload: fall through to exit-status handling
		// in awaitCompletion rather than resolving with a useless error.
		return
	}
	e.resolve(ptctypes.ExecutionResult{Success: false, Error: body.Message})
}

func (e *execution) handleToolRequestSentinel(requestID string) {
	e.mu.Lock()
	e.toolCalls++
	count := e.toolCalls
	e.mu.Unlock()

	if count > e.orch.cfg.MaxRecursionLimit {
		e.resolve(ptctypes.ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("maximum iteration limit (%d) reached", e.orch.cfg.MaxRecursionLimit),
		})
		if e.cmd != nil {
			_ = e.cmd.Kill()
		}
		return
	}

	e.dispatchWG.Add(1)
	go func() {
		defer e.dispatchWG.Done()
		e.dispatchToolCall(requestID)
	}()
}

// dispatchToolCall reads the request file, validates and invokes the
// tool, and writes the response file. It never resolves the execution
// itself — a tool error is reported back into the sandbox so the agent's
// program can observe and handle it.
func (e *execution) dispatchToolCall(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	raw, err := e.sbox.ReadFile(ctx, protocol.RequestPath(requestID))
	if err != nil {
		e.orch.logger.Printf("execution id=%s tool request read failed request_id=%s err=%v", e.id, requestID, err)
		return
	}

	var req ptctypes.ToolRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		e.writeResponse(ctx, requestID, ptctypes.ToolResponse{
			RequestID: requestID, Success: false,
			Error: "malformed tool request payload",
		})
		return
	}

	e.notify("tool_call.requested", map[string]any{"request_id": requestID, "tool": req.Tool})

	// The sandbox is untrusted: recompute the cache key from tool+args
	// rather than relying on the one it reported. A mismatch doesn't
	// fail the call — the sandbox's own cache lookup already uses its
	// key consistently — but it is worth a log line since it would mean
	// the request/response cache silently forked.
	if recomputed, err := cachekey.Compute(req.Tool, req.Args); err != nil {
		e.orch.logger.Printf("execution id=%s cache key recompute failed request_id=%s err=%v", e.id, requestID, err)
	} else if recomputed != req.CacheKey {
		e.orch.logger.Printf("execution id=%s cache key mismatch request_id=%s reported=%s recomputed=%s", e.id, requestID, req.CacheKey, recomputed)
	}

	tool, ok := e.orch.catalog.ByName(req.Tool)
	if !ok {
		msg := fmt.Sprintf("Unknown tool %q. Available tools: %s", req.Tool, strings.Join(e.orch.catalog.Names(), ", "))
		e.writeResponse(ctx, requestID, ptctypes.ToolResponse{RequestID: requestID, Success: false, Error: msg})
		e.notify("tool_call.failed", map[string]any{"request_id": requestID, "tool": req.Tool, "error": msg})
		return
	}

	if failures := schema.Validate(req.Args, tool.InputSchema); len(failures) > 0 {
		msg := formatValidationFailures(req.Tool, failures)
		e.writeResponse(ctx, requestID, ptctypes.ToolResponse{RequestID: requestID, Success: false, Error: msg})
		e.notify("tool_call.failed", map[string]any{"request_id": requestID, "tool": req.Tool, "error": msg})
		return
	}

	result, err := tool.Invoke(req.Args)
	if err != nil {
		msg := fmt.Sprintf("Tool %q execution failed: %v", req.Tool, err)
		e.writeResponse(ctx, requestID, ptctypes.ToolResponse{RequestID: requestID, Success: false, Error: msg})
		e.notify("tool_call.failed", map[string]any{"request_id": requestID, "tool": req.Tool, "error": msg})
		return
	}

	e.writeResponse(ctx, requestID, ptctypes.ToolResponse{RequestID: requestID, Success: true, Result: result})
	e.notify("tool_call.completed", map[string]any{"request_id": requestID, "tool": req.Tool})
}

func (e *execution) writeResponse(ctx context.Context, requestID string, resp ptctypes.ToolResponse) {
	buf, err := json.Marshal(resp)
	if err != nil {
		e.orch.logger.Printf("execution id=%s response marshal failed request_id=%s err=%v", e.id, requestID, err)
		return
	}
	if err := e.sbox.WriteFile(ctx, protocol.ResponsePath(requestID), string(buf)); err != nil {
		e.orch.logger.Printf("execution id=%s response write failed request_id=%s err=%v", e.id, requestID, err)
	}
}

func formatValidationFailures(tool string, failures []ptctypes.ValidationFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.Message
	}
	return fmt.Sprintf("Invalid arguments for tool %q: %s", tool, strings.Join(parts, "; "))
}

