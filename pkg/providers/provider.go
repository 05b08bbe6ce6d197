// Package providers contains the backend adapters. Each adapter translates
// the canonical request into its backend's wire format, performs the upstream
// call, and returns a normalized completion. The provider catalog is closed:
// the registry is built once with exactly the known adapters.
package providers

import (
	"context"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// Adapter is the contract every backend implements.
type Adapter interface {
	// Name returns the provider identifier used in model prefixes.
	Name() protocol.Provider

	// DefaultModel returns the model used when the request names none.
	DefaultModel() string

	// Configured reports whether the adapter has the credential it needs.
	// The dispatcher fails fast on unconfigured adapters — no upstream
	// call is ever attempted.
	Configured() bool

	// Complete executes the request and returns the normalized one-shot
	// result. traceID is attached as a correlation header where the
	// backend protocol allows arbitrary headers.
	Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error)
}

// Chunk is one raw fragment from a natively streaming backend. The final
// chunk carries the complete text plus usage; a stream that closes without
// one was cut upstream.
type Chunk struct {
	Text  string
	Usage *protocol.Usage
	Final bool
}

// Streamer is the optional capability for backends that emit multiple
// chunks. None of the current backends stream natively — the one-shot
// Complete path is the degenerate single-chunk case — but the normalizer
// already consumes this shape so a streaming backend needs no protocol
// change.
type Streamer interface {
	Stream(ctx context.Context, req protocol.Request, traceID string) (<-chan Chunk, error)
}

// Pinger is the optional capability for adapters that can verify upstream
// reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry holds the closed adapter set keyed by provider name.
type Registry struct {
	adapters map[protocol.Provider]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[protocol.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p protocol.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Available lists providers that are registered and configured.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.adapters))
	for p, a := range r.adapters {
		if a.Configured() {
			names = append(names, string(p))
		}
	}
	return names
}

// truncate caps upstream error bodies so log lines and Failed events stay
// bounded.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...[truncated]"
}
