package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	name string

	mu     sync.Mutex
	events []LifecycleEvent
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Handle(_ context.Context, event LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type failingSubscriber struct {
	name string
	mu   sync.Mutex
	seen int
}

func (s *failingSubscriber) Name() string { return s.name }

func (s *failingSubscriber) Handle(_ context.Context, _ LifecycleEvent) error {
	s.mu.Lock()
	s.seen++
	s.mu.Unlock()
	return errors.New("boom")
}

func (s *failingSubscriber) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

func testEvent(executionID string, kind string) LifecycleEvent {
	return LifecycleEvent{
		EventID:     "evt-1",
		ExecutionID: executionID,
		OccurredAt:  time.Time{},
		Kind:        kind,
		Payload:     json.RawMessage("null"),
	}
}

func TestDispatchDeliversToEveryFixedSubscriber(t *testing.T) {
	subA := &recordingSubscriber{name: "a"}
	subB := &recordingSubscriber{name: "b"}
	d := New(log.Default(), []Subscriber{subA, subB})

	d.Dispatch(context.Background(), testEvent("exec-1", KindExecutionStarted))

	waitFor(t, func() bool { return subA.count() == 1 && subB.count() == 1 })
}

func TestDispatchRetriesFailingSubscriberThenGivesUp(t *testing.T) {
	sub := &failingSubscriber{name: "flaky"}
	d := New(log.Default(), []Subscriber{sub})
	d.retryBackoff = time.Millisecond

	d.Dispatch(context.Background(), testEvent("exec-1", KindExecutionStarted))

	waitFor(t, func() bool { return sub.attempts() == d.retryCount })
	time.Sleep(10 * time.Millisecond)
	if got := sub.attempts(); got != d.retryCount {
		t.Fatalf("expected exactly %d attempts, got %d", d.retryCount, got)
	}
}

func TestDispatchDeliversToRegisteredStream(t *testing.T) {
	d := New(log.Default(), nil)
	stream := NewStreamSubscriber()
	d.RegisterStream("exec-1", stream)
	defer d.UnregisterStream("exec-1")

	d.Dispatch(context.Background(), testEvent("exec-1", KindToolCallRequested))

	select {
	case event := <-stream.Frames():
		if event.ExecutionID != "exec-1" {
			t.Fatalf("expected exec-1, got %s", event.ExecutionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream frame")
	}
}

func TestDispatchIgnoresUnrelatedExecutionStream(t *testing.T) {
	d := New(log.Default(), nil)
	stream := NewStreamSubscriber()
	d.RegisterStream("exec-1", stream)
	defer d.UnregisterStream("exec-1")

	d.Dispatch(context.Background(), testEvent("exec-2", KindExecutionStarted))

	select {
	case event := <-stream.Frames():
		t.Fatalf("expected no frame for an unrelated execution, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterStreamClosesFramesChannel(t *testing.T) {
	d := New(log.Default(), nil)
	stream := NewStreamSubscriber()
	d.RegisterStream("exec-1", stream)
	d.UnregisterStream("exec-1")

	_, open := <-stream.Frames()
	if open {
		t.Fatal("expected the frames channel to be closed after Unregister")
	}
}

func TestStreamSubscriberDropsFramesWhenFull(t *testing.T) {
	stream := NewStreamSubscriber()
	for i := 0; i < 64; i++ {
		stream.deliver(testEvent("exec-1", KindToolCallRequested))
	}
	// Should not deadlock or panic; excess frames beyond the buffer are dropped.
	if len(stream.frames) == 0 {
		t.Fatal("expected at least the buffered frames to be retained")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
