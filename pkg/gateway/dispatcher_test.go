package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelmux/modelmux/pkg/protocol"
	"github.com/modelmux/modelmux/pkg/providers"
)

// fakeAdapter is a scriptable backend for dispatch tests.
type fakeAdapter struct {
	name       protocol.Provider
	configured bool
	completion *protocol.Completion
	err        error
	block      bool
	calls      atomic.Int64
}

func (f *fakeAdapter) Name() protocol.Provider { return f.name }
func (f *fakeAdapter) DefaultModel() string    { return "fake-default" }
func (f *fakeAdapter) Configured() bool        { return f.configured }

func (f *fakeAdapter) Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

func echoDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewWithRegistry(
		providers.NewRegistry(providers.NewEchoAdapter()),
		protocol.ProviderEcho,
		time.Second,
	)
}

func collect(t *testing.T, ch <-chan protocol.Event) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestDispatchEchoLifecycle(t *testing.T) {
	d := echoDispatcher(t)
	req := protocol.Request{
		Model: "echo:echo-1",
		Input: []protocol.Message{protocol.UserMessage("hi there")},
	}

	events := collect(t, d.Dispatch(context.Background(), req, "trace-1"))

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (created, delta, completed)", len(events))
	}
	if events[0].Type != protocol.EventCreated {
		t.Errorf("first event = %q, want created", events[0].Type)
	}
	if events[1].Type != protocol.EventDelta || events[1].TextFragment != "[echo::echo-1] hi there" {
		t.Errorf("delta = %+v", events[1])
	}
	if events[2].Type != protocol.EventCompleted || events[2].FinalText != "[echo::echo-1] hi there" {
		t.Errorf("completed = %+v", events[2])
	}

	for i, ev := range events {
		if ev.SequenceNo != i {
			t.Errorf("event %d SequenceNo = %d", i, ev.SequenceNo)
		}
		if ev.TraceID != "trace-1" {
			t.Errorf("event %d TraceID = %q", i, ev.TraceID)
		}
		if ev.Type != protocol.EventFailed && ev.ResponseID == "" {
			t.Errorf("event %d missing ResponseID", i)
		}
	}
	if events[2].Usage == nil || events[2].Usage.InputTokens != 2 {
		t.Errorf("completed usage = %+v", events[2].Usage)
	}
}

func TestDispatchSameInputSameEvents(t *testing.T) {
	d := echoDispatcher(t)
	req := protocol.Request{
		Model: "echo:echo-1",
		Input: []protocol.Message{protocol.UserMessage("repeat me")},
	}

	first := collect(t, d.Dispatch(context.Background(), req, "trace-a"))
	second := collect(t, d.Dispatch(context.Background(), req, "trace-a"))

	if len(first) != len(second) {
		t.Fatalf("event counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type ||
			first[i].SequenceNo != second[i].SequenceNo ||
			first[i].TextFragment != second[i].TextFragment ||
			first[i].FinalText != second[i].FinalText {
			t.Errorf("event %d diverged: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDispatchUnknownProviderPrefix(t *testing.T) {
	d := echoDispatcher(t)
	req := protocol.Request{
		Model: "bogus:some-model",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}

	events := collect(t, d.Dispatch(context.Background(), req, "trace-x"))

	if len(events) != 1 {
		t.Fatalf("events = %d, want lone failure with no created", len(events))
	}
	ev := events[0]
	if ev.Type != protocol.EventFailed || ev.SequenceNo != 0 {
		t.Errorf("event = %+v", ev)
	}
	if ev.ErrorKind != protocol.ErrInvalidProvider {
		t.Errorf("ErrorKind = %q", ev.ErrorKind)
	}
}

func TestDispatchUnconfiguredProvider(t *testing.T) {
	fake := &fakeAdapter{name: protocol.ProviderOpenAI, configured: false}
	d := NewWithRegistry(providers.NewRegistry(fake), protocol.ProviderOpenAI, time.Second)

	events := collect(t, d.Dispatch(context.Background(), protocol.Request{
		Model: "openai:gpt-4o-mini",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t"))

	if len(events) != 1 || events[0].Type != protocol.EventFailed {
		t.Fatalf("events = %+v, want lone failure", events)
	}
	if events[0].ErrorKind != protocol.ErrProviderNotConfigured {
		t.Errorf("ErrorKind = %q", events[0].ErrorKind)
	}
	if fake.calls.Load() != 0 {
		t.Errorf("adapter calls = %d, want 0", fake.calls.Load())
	}
}

func TestDispatchAdapterFailure(t *testing.T) {
	fake := &fakeAdapter{
		name:       protocol.ProviderOpenAI,
		configured: true,
		err:        &protocol.GatewayError{Kind: protocol.ErrUpstream, Message: "backend down"},
	}
	d := NewWithRegistry(providers.NewRegistry(fake), protocol.ProviderOpenAI, time.Second)

	events := collect(t, d.Dispatch(context.Background(), protocol.Request{
		Model: "openai:m",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t"))

	if len(events) != 2 {
		t.Fatalf("events = %d, want created then failed", len(events))
	}
	if events[0].Type != protocol.EventCreated {
		t.Errorf("first = %q", events[0].Type)
	}
	if events[1].Type != protocol.EventFailed || events[1].ErrorKind != protocol.ErrUpstream {
		t.Errorf("terminal = %+v", events[1])
	}
	if events[1].Message != "backend down" {
		t.Errorf("Message = %q", events[1].Message)
	}
}

func TestDispatchTimeout(t *testing.T) {
	fake := &fakeAdapter{name: protocol.ProviderOpenAI, configured: true, block: true}
	d := NewWithRegistry(providers.NewRegistry(fake), protocol.ProviderOpenAI, 20*time.Millisecond)

	events := collect(t, d.Dispatch(context.Background(), protocol.Request{
		Model: "openai:m",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t"))

	terminal := events[len(events)-1]
	if terminal.Type != protocol.EventFailed {
		t.Fatalf("terminal = %q", terminal.Type)
	}
	if terminal.ErrorKind != protocol.ErrUpstreamTimeout {
		t.Errorf("ErrorKind = %q, want %q", terminal.ErrorKind, protocol.ErrUpstreamTimeout)
	}
}

func TestResolve(t *testing.T) {
	fake := &fakeAdapter{name: protocol.ProviderOpenAI, configured: true}
	d := NewWithRegistry(
		providers.NewRegistry(providers.NewEchoAdapter(), fake),
		protocol.ProviderEcho,
		time.Second,
	)

	tests := []struct {
		model        string
		wantProvider protocol.Provider
		wantModel    string
		wantErr      bool
	}{
		{"echo:echo-1", protocol.ProviderEcho, "echo-1", false},
		{"openai:gpt-4o", protocol.ProviderOpenAI, "gpt-4o", false},
		{"openai:", protocol.ProviderOpenAI, "fake-default", false},
		{"bare-model", protocol.ProviderEcho, "bare-model", false},
		{"OPENAI:gpt-4o", protocol.ProviderOpenAI, "gpt-4o", false},
		{"bogus:m", "", "", true},
		{"gemini:m", "", "", true}, // registered set here has no gemini
	}
	for _, tt := range tests {
		adapter, model, err := d.Resolve(tt.model)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Resolve(%q): want error", tt.model)
			} else if protocol.KindOf(err) != protocol.ErrInvalidProvider {
				t.Errorf("Resolve(%q): kind = %q", tt.model, protocol.KindOf(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.model, err)
			continue
		}
		if adapter.Name() != tt.wantProvider || model != tt.wantModel {
			t.Errorf("Resolve(%q) = %q, %q; want %q, %q",
				tt.model, adapter.Name(), model, tt.wantProvider, tt.wantModel)
		}
	}
}

func TestCompleteBuffersStream(t *testing.T) {
	d := echoDispatcher(t)
	result, err := d.Complete(context.Background(), protocol.Request{
		Model: "echo:echo-1",
		Input: []protocol.Message{protocol.UserMessage("buffered")},
	}, "trace-b")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Text != "[echo::echo-1] buffered" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Provider != protocol.ProviderEcho || result.Model != "echo-1" {
		t.Errorf("result = %+v", result)
	}
	if result.TraceID != "trace-b" {
		t.Errorf("TraceID = %q", result.TraceID)
	}
	if result.ResponseID == "" {
		t.Error("missing ResponseID")
	}
}

func TestCompleteSurfacesFailure(t *testing.T) {
	d := echoDispatcher(t)
	_, err := d.Complete(context.Background(), protocol.Request{
		Model: "bogus:m",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t")
	if err == nil {
		t.Fatal("expected error")
	}
	var gerr *protocol.GatewayError
	if !errors.As(err, &gerr) || gerr.Kind != protocol.ErrInvalidProvider {
		t.Errorf("error = %v", err)
	}
}

func TestCompleteCancelledMidFlight(t *testing.T) {
	fake := &fakeAdapter{name: protocol.ProviderOpenAI, configured: true, block: true}
	d := NewWithRegistry(providers.NewRegistry(fake), protocol.ProviderOpenAI, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := d.Complete(ctx, protocol.Request{
		Model: "openai:m",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t")
	if err == nil {
		t.Fatalf("want error after cancellation, got result %+v", result)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on error", result)
	}
}

func TestNewTraceIDShape(t *testing.T) {
	id := NewTraceID()
	if len(id) != 32 {
		t.Errorf("trace id length = %d, want 32", len(id))
	}
	if id == NewTraceID() {
		t.Error("trace ids must be unique")
	}
}
