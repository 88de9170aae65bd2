package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"ptchost.local/ptchost/internal/catalog"
	"ptchost.local/ptchost/internal/protocol"
	"ptchost.local/ptchost/internal/ptctypes"
	"ptchost.local/ptchost/internal/sandbox"
)

// fakeCommand simulates a background sandbox command that only exits when
// Kill is called, matching how the orchestrator tears a sandbox down after
// a sentinel has already resolved the execution.
type fakeCommand struct {
	done chan struct{}
	once sync.Once
	code int
	err  error
}

func newFakeCommand() *fakeCommand {
	return &fakeCommand{done: make(chan struct{})}
}

func (c *fakeCommand) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.done:
		return c.code, c.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *fakeCommand) Kill() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeSandbox stands in for a real sandbox: an in-memory file map plus a
// caller-supplied script that drives OnStdout the way the in-sandbox
// runtime would.
type fakeSandbox struct {
	mu      sync.Mutex
	files   map[string]string
	waiters map[string]chan struct{}

	script func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand
}

func newFakeSandbox(script func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand) *fakeSandbox {
	return &fakeSandbox{
		files:   make(map[string]string),
		waiters: make(map[string]chan struct{}),
		script:  script,
	}
}

func (s *fakeSandbox) WriteFile(_ context.Context, path string, content string) error {
	s.mu.Lock()
	s.files[path] = content
	waiter := s.waiters[path]
	delete(s.waiters, path)
	s.mu.Unlock()
	if waiter != nil {
		close(waiter)
	}
	return nil
}

func (s *fakeSandbox) ReadFile(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return "", fs.ErrNotExist
	}
	return content, nil
}

func (s *fakeSandbox) RemoveFile(_ context.Context, _ string) error { return nil }

func (s *fakeSandbox) Run(_ context.Context, _ []string, opts sandbox.RunOptions) (sandbox.Command, error) {
	return s.script(s, opts), nil
}

func (s *fakeSandbox) Kill(_ context.Context) error { return nil }

// waitForFile blocks until path has been written.
func (s *fakeSandbox) waitForFile(path string) {
	s.mu.Lock()
	if _, ok := s.files[path]; ok {
		s.mu.Unlock()
		return
	}
	waiter := make(chan struct{})
	s.waiters[path] = waiter
	s.mu.Unlock()
	<-waiter
}

type fakeProvider struct {
	sbox *fakeSandbox
}

func (p *fakeProvider) Create(context.Context) (sandbox.Sandbox, error) {
	return p.sbox, nil
}

func weatherTool() ptctypes.ToolInfo {
	return ptctypes.ToolInfo{
		Name:        "get_weather",
		InputSchema: ptctypes.Schema{Kind: "object", Properties: map[string]ptctypes.Schema{"city": {Kind: "string"}}, Required: []string{"city"}},
		Invoke: func(args any) (any, error) {
			obj := args.(map[string]any)
			return map[string]any{"weather": "sunny", "city": obj["city"]}, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, sbox *fakeSandbox, cfg Config, observer Observer) *Orchestrator {
	t.Helper()
	cat, err := catalog.New([]ptctypes.ToolInfo{weatherTool()})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return New(log.Default(), &fakeProvider{sbox: sbox}, cat, cfg, observer)
}

func TestExecuteReturnsFinalValue(t *testing.T) {
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		cmd := newFakeCommand()
		go opts.OnStdout(protocol.SentinelFinal + `{"message":"hello"}` + "\n")
		return cmd
	})
	orch := newTestOrchestrator(t, sbox, Config{}, nil)

	result := orch.Execute(context.Background(), "exec-1", `return {message:"hello"};`)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	got, ok := result.Result.(map[string]any)
	if !ok || got["message"] != "hello" {
		t.Fatalf("unexpected result: %#v", result.Result)
	}
}

func TestExecuteServicesToolCall(t *testing.T) {
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		cmd := newFakeCommand()
		go func() {
			requestID := "req-1"
			argsJSON, _ := json.Marshal(map[string]any{"city": "london"})
			reqBody, _ := json.Marshal(ptctypes.ToolRequest{RequestID: requestID, Tool: "get_weather", Args: json.RawMessage(argsJSON), CacheKey: "k"})
			_ = s.WriteFile(context.Background(), protocol.RequestPath(requestID), string(reqBody))
			opts.OnStdout(protocol.SentinelToolRequest + requestID + "\n")

			s.waitForFile(protocol.ResponsePath(requestID))
			var resp ptctypes.ToolResponse
			raw, _ := s.ReadFile(context.Background(), protocol.ResponsePath(requestID))
			_ = json.Unmarshal([]byte(raw), &resp)

			final, _ := json.Marshal(map[string]any{"w": resp.Result})
			opts.OnStdout(protocol.SentinelFinal + string(final) + "\n")
		}()
		return cmd
	})

	var events []string
	var mu sync.Mutex
	observer := func(kind string, executionID string, payload map[string]any) {
		mu.Lock()
		events = append(events, kind)
		mu.Unlock()
	}

	orch := newTestOrchestrator(t, sbox, Config{}, observer)
	result := orch.Execute(context.Background(), "exec-1", `const w = await get_weather({city:"london"}); return {w};`)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	got := result.Result.(map[string]any)["w"].(map[string]any)
	if got["weather"] != "sunny" {
		t.Fatalf("expected sunny weather, got %#v", got)
	}
	if result.ToolCalls != 1 {
		t.Fatalf("expected ToolCalls to be 1, got %d", result.ToolCalls)
	}

	mu.Lock()
	defer mu.Unlock()
	if !containsAll(events, "execution.started", "tool_call.requested", "tool_call.completed", "execution.completed") {
		t.Fatalf("expected full lifecycle event sequence, got %v", events)
	}
}

func TestExecuteUnknownToolListsAvailableNames(t *testing.T) {
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		cmd := newFakeCommand()
		go func() {
			requestID := "req-1"
			reqBody, _ := json.Marshal(ptctypes.ToolRequest{RequestID: requestID, Tool: "does_not_exist", Args: map[string]any{}, CacheKey: "k"})
			_ = s.WriteFile(context.Background(), protocol.RequestPath(requestID), string(reqBody))
			opts.OnStdout(protocol.SentinelToolRequest + requestID + "\n")

			s.waitForFile(protocol.ResponsePath(requestID))
			raw, _ := s.ReadFile(context.Background(), protocol.ResponsePath(requestID))
			var resp ptctypes.ToolResponse
			_ = json.Unmarshal([]byte(raw), &resp)
			payload, _ := json.Marshal(map[string]string{"message": fmt.Sprintf("Tool call error: %s", resp.Error)})
			opts.OnStdout(protocol.SentinelError + string(payload) + "\n")
		}()
		return cmd
	})

	orch := newTestOrchestrator(t, sbox, Config{}, nil)
	result := orch.Execute(context.Background(), "exec-1", `await does_not_exist({});`)
	if result.Success {
		t.Fatal("expected failure for an unknown tool")
	}
	if !strings.Contains(result.Error, "get_weather") {
		t.Fatalf("expected the error to list available tools, got %q", result.Error)
	}
}

func TestExecuteEnforcesRecursionLimit(t *testing.T) {
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		cmd := newFakeCommand()
		go func() {
			for i := 0; i < 5; i++ {
				opts.OnStdout(fmt.Sprintf("%sreq-%d\n", protocol.SentinelToolRequest, i))
			}
		}()
		return cmd
	})

	orch := newTestOrchestrator(t, sbox, Config{MaxRecursionLimit: 2}, nil)
	result := orch.Execute(context.Background(), "exec-1", `loop forever`)
	if result.Success {
		t.Fatal("expected the recursion limit to fail the execution")
	}
	if !strings.Contains(result.Error, "maximum iteration limit (2)") {
		t.Fatalf("expected a recursion limit message, got %q", result.Error)
	}
}

func TestExecuteHonorsHostTimeout(t *testing.T) {
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		return newFakeCommand() // never emits anything, never exits on its own
	})

	orch := newTestOrchestrator(t, sbox, Config{TimeoutMS: 20}, nil)
	start := time.Now()
	result := orch.Execute(context.Background(), "exec-1", `while(true){}`)
	if result.Success {
		t.Fatal("expected a timeout failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Fatalf("expected a timeout message, got %q", result.Error)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected the host timeout to fire quickly, took %s", elapsed)
	}
}

func TestExecuteRejectsUnbalancedSourceBeforeProvisioning(t *testing.T) {
	provisioned := false
	sbox := newFakeSandbox(func(s *fakeSandbox, opts sandbox.RunOptions) *fakeCommand {
		provisioned = true
		return newFakeCommand()
	})

	orch := newTestOrchestrator(t, sbox, Config{}, nil)
	result := orch.Execute(context.Background(), "exec-1", `if (true) { return 1;`)
	if result.Success {
		t.Fatal("expected an assembly failure")
	}
	if provisioned {
		t.Fatal("expected the sandbox never to be provisioned for source that fails assembly")
	}
}

func containsAll(items []string, wanted ...string) bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	for _, w := range wanted {
		if !set[w] {
			return false
		}
	}
	return true
}
