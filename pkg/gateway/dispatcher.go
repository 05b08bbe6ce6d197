// Package gateway implements the provider dispatch path: model-prefix
// resolution, credential checks, the upstream call, and normalization of
// whatever the backend returns into the canonical event sequence.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/pkg/config"
	"github.com/modelmux/modelmux/pkg/logger"
	"github.com/modelmux/modelmux/pkg/protocol"
	"github.com/modelmux/modelmux/pkg/providers"
)

// Dispatcher routes canonical requests to provider adapters. It holds no
// mutable per-request state; the outbound HTTP connection pool is the only
// shared resource and all adapters read it concurrently.
type Dispatcher struct {
	registry        *providers.Registry
	defaultProvider protocol.Provider
	timeout         time.Duration
}

// New wires the full adapter set from configuration. One outbound client is
// shared by every adapter.
func New(cfg *config.Config) *Dispatcher {
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	registry := providers.NewRegistry(
		providers.NewEchoAdapter(),
		providers.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBase, httpClient),
		providers.NewGeminiAdapter(cfg.GeminiKey, cfg.GeminiBase, httpClient),
		providers.NewClaudeAdapter(cfg.ClaudeKey, cfg.ClaudeBase, httpClient),
	)
	defaultProvider, _ := protocol.ParseProvider(cfg.DefaultProvider)
	return NewWithRegistry(registry, defaultProvider, cfg.Timeout())
}

// NewWithRegistry builds a dispatcher around an injected adapter set. Tests
// use this to swap in fakes without any network surface.
func NewWithRegistry(registry *providers.Registry, defaultProvider protocol.Provider, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:        registry,
		defaultProvider: defaultProvider,
		timeout:         timeout,
	}
}

// NewTraceID generates the per-request correlation token: opaque hex, never
// parsed, only compared.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Registry exposes the adapter set for health reporting.
func (d *Dispatcher) Registry() *providers.Registry { return d.registry }

// DefaultProvider returns the provider used for bare model names.
func (d *Dispatcher) DefaultProvider() protocol.Provider { return d.defaultProvider }

// Resolve parses a "provider:model" identifier. A bare model name falls
// back to the default provider; an empty model after the prefix falls back
// to the adapter's default model. Resolution completes before any stream
// begins, so resolution failures never emit a Created event.
func (d *Dispatcher) Resolve(model string) (providers.Adapter, string, error) {
	providerName := d.defaultProvider
	upstreamModel := model
	if prefix, rest, ok := strings.Cut(model, ":"); ok {
		parsed, known := protocol.ParseProvider(prefix)
		if !known {
			return nil, "", protocol.Errf(protocol.ErrInvalidProvider, "unknown provider prefix %q", prefix)
		}
		providerName = parsed
		upstreamModel = rest
	}

	adapter, ok := d.registry.Get(providerName)
	if !ok {
		return nil, "", protocol.Errf(protocol.ErrInvalidProvider, "provider %q is not registered", providerName)
	}
	if upstreamModel == "" {
		upstreamModel = adapter.DefaultModel()
	}
	return adapter, upstreamModel, nil
}

// Dispatch executes one request and returns its canonical event stream.
// The channel always reaches exactly one terminal event and is then closed;
// callers that stop reading must cancel ctx to release the upstream call.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Request, traceID string) <-chan protocol.Event {
	if traceID == "" {
		traceID = NewTraceID()
	}
	out := make(chan protocol.Event, 8)

	go func() {
		defer close(out)
		start := time.Now()

		adapter, model, err := d.Resolve(req.Model)
		if err != nil {
			// Terminal failure before the lifecycle starts: no Created.
			emitPreStreamFailure(ctx, out, traceID, err)
			return
		}
		if !adapter.Configured() {
			err := protocol.Errf(protocol.ErrProviderNotConfigured,
				"provider %q has no credential configured", adapter.Name())
			emitPreStreamFailure(ctx, out, traceID, err)
			return
		}

		req.Model = model
		norm := newNormalizer(ctx, out, traceID, adapter.Name(), model)
		norm.Created()

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		// Natively streaming backends pipe raw chunks through the
		// normalizer; everything else is the one-chunk degenerate case.
		if streamer, ok := adapter.(providers.Streamer); ok {
			chunks, err := streamer.Stream(callCtx, req, traceID)
			if err != nil {
				norm.Fail(err)
				d.logOutcome(traceID, adapter.Name(), model, start, err)
				return
			}
			err = norm.Pipe(chunks)
			d.logOutcome(traceID, adapter.Name(), model, start, err)
			return
		}

		completion, err := adapter.Complete(callCtx, req, traceID)
		if err != nil {
			norm.Fail(err)
			d.logOutcome(traceID, adapter.Name(), model, start, err)
			return
		}
		norm.Delta(completion.Text)
		norm.Complete(completion)
		d.logOutcome(traceID, adapter.Name(), model, start, nil)
	}()

	return out
}

// Result is the buffered terminal state for non-streaming callers.
type Result struct {
	ResponseID string            `json:"response_id"`
	TraceID    string            `json:"trace_id"`
	Provider   protocol.Provider `json:"provider"`
	Model      string            `json:"model"`
	Text       string            `json:"text"`
	Usage      protocol.Usage    `json:"usage"`
}

// Complete runs the same dispatch path with stream=false semantics: the
// event sequence is drained to its terminal state and materialized. A
// stream that closes without a terminal event (caller cancellation mid-
// flight) surfaces as an error, never as a partial result.
func (d *Dispatcher) Complete(ctx context.Context, req protocol.Request, traceID string) (*Result, error) {
	result := &Result{}
	var text strings.Builder
	completed := false

	for ev := range d.Dispatch(ctx, req, traceID) {
		switch ev.Type {
		case protocol.EventCreated:
			result.ResponseID = ev.ResponseID
			result.Provider = ev.Provider
			result.Model = ev.Model
		case protocol.EventDelta:
			text.WriteString(ev.TextFragment)
		case protocol.EventCompleted:
			completed = true
			result.TraceID = ev.TraceID
			if ev.Usage != nil {
				result.Usage = *ev.Usage
			}
		case protocol.EventFailed:
			return nil, &protocol.GatewayError{Kind: ev.ErrorKind, Message: ev.Message}
		}
	}
	if !completed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, protocol.Errf(protocol.ErrUpstream, "dispatch ended without a terminal event")
	}
	result.Text = text.String()
	return result, nil
}

// emitPreStreamFailure sends the lone Failed event for requests that never
// reached a provider.
func emitPreStreamFailure(ctx context.Context, out chan<- protocol.Event, traceID string, err error) {
	kind := protocol.KindOf(err)
	msg := err.Error()
	var gerr *protocol.GatewayError
	if errors.As(err, &gerr) {
		msg = gerr.Message
	}
	select {
	case out <- protocol.Event{
		Type:       protocol.EventFailed,
		SequenceNo: 0,
		TraceID:    traceID,
		ErrorKind:  kind,
		Message:    msg,
	}:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) logOutcome(traceID string, provider protocol.Provider, model string, start time.Time, err error) {
	fields := map[string]interface{}{
		"trace_id":    traceID,
		"provider":    provider,
		"model":       model,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error_kind"] = protocol.KindOf(err)
		fields["error"] = err.Error()
		logger.WarnCF("gateway", "Dispatch failed", fields)
		return
	}
	logger.InfoCF("gateway", "Dispatch complete", fields)
}
