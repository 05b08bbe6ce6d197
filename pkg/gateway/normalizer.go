package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelmux/modelmux/pkg/protocol"
	"github.com/modelmux/modelmux/pkg/providers"
)

// normalizer enforces the lifecycle invariants on one request's event
// stream, regardless of which adapter produced the data: exactly one
// Created first, sequence numbers strictly increasing from 0, exactly one
// terminal event last. It buffers nothing beyond the event in flight.
type normalizer struct {
	ctx      context.Context
	out      chan<- protocol.Event
	traceID  string
	provider protocol.Provider
	model    string

	responseID string
	seq        int
	created    bool
	terminal   bool
}

func newNormalizer(ctx context.Context, out chan<- protocol.Event, traceID string, provider protocol.Provider, model string) *normalizer {
	return &normalizer{
		ctx:        ctx,
		out:        out,
		traceID:    traceID,
		provider:   provider,
		model:      model,
		responseID: "resp_" + NewTraceID(),
	}
}

func (n *normalizer) emit(ev protocol.Event) bool {
	if n.terminal {
		return false
	}
	ev.SequenceNo = n.seq
	ev.TraceID = n.traceID
	n.seq++
	if ev.Terminal() {
		n.terminal = true
	}
	select {
	case n.out <- ev:
		return true
	case <-n.ctx.Done():
		// Caller went away; stop producing. The cancelled context also
		// aborts the upstream call.
		n.terminal = true
		return false
	}
}

// Created opens the lifecycle. Safe against double invocation.
func (n *normalizer) Created() {
	if n.created {
		return
	}
	n.created = true
	n.emit(protocol.Event{
		Type:       protocol.EventCreated,
		ResponseID: n.responseID,
		Provider:   n.provider,
		Model:      n.model,
	})
}

// Delta emits one text fragment. An empty fragment is dropped rather than
// producing a hollow event.
func (n *normalizer) Delta(text string) {
	if text == "" {
		return
	}
	n.Created()
	n.emit(protocol.Event{
		Type:         protocol.EventDelta,
		ResponseID:   n.responseID,
		Provider:     n.provider,
		Model:        n.model,
		TextFragment: text,
	})
}

// Complete closes the lifecycle with the final text and usage.
func (n *normalizer) Complete(completion *protocol.Completion) {
	n.Created()
	usage := completion.Usage
	n.emit(protocol.Event{
		Type:       protocol.EventCompleted,
		ResponseID: n.responseID,
		Provider:   n.provider,
		Model:      n.model,
		FinalText:  completion.Text,
		Usage:      &usage,
	})
}

// Fail closes the lifecycle with a terminal failure.
func (n *normalizer) Fail(err error) {
	n.Created()
	msg := err.Error()
	var gerr *protocol.GatewayError
	if errors.As(err, &gerr) {
		msg = gerr.Message
	}
	n.emit(protocol.Event{
		Type:       protocol.EventFailed,
		ResponseID: n.responseID,
		Provider:   n.provider,
		Model:      n.model,
		ErrorKind:  protocol.KindOf(err),
		Message:    msg,
	})
}

// Pipe consumes a raw upstream chunk stream in a single pass, holding only
// the chunk in flight. The final chunk carries the complete text and usage;
// a stream that ends without one was cut mid-flight, and the caller still
// observes a terminal event.
func (n *normalizer) Pipe(chunks <-chan providers.Chunk) error {
	for chunk := range chunks {
		if chunk.Final {
			usage := protocol.Usage{}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			n.Complete(&protocol.Completion{
				Provider: n.provider,
				Model:    n.model,
				Text:     chunk.Text,
				Usage:    usage,
			})
			return nil
		}
		n.Delta(chunk.Text)
		if n.terminal {
			return fmt.Errorf("caller disconnected mid-stream")
		}
	}

	err := protocol.Errf(protocol.ErrUpstream, "upstream stream ended before completion")
	n.Fail(err)
	return err
}
