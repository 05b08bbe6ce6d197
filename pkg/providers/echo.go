package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// EchoAdapter is a deterministic local backend: it derives its output from
// the last user message with no network I/O. Used for tests and CI runs
// that have no provider credentials.
type EchoAdapter struct{}

// NewEchoAdapter creates the echo backend.
func NewEchoAdapter() *EchoAdapter {
	return &EchoAdapter{}
}

func (a *EchoAdapter) Name() protocol.Provider { return protocol.ProviderEcho }

func (a *EchoAdapter) DefaultModel() string { return "echo-1" }

// Configured is always true — echo needs no credential.
func (a *EchoAdapter) Configured() bool { return true }

// Complete echoes the latest user message. Same request in, byte-identical
// text out: no hidden state.
func (a *EchoAdapter) Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latest := req.LastUserText()
	output := fmt.Sprintf("[echo::%s] %s", req.Model, latest)

	return &protocol.Completion{
		Provider: protocol.ProviderEcho,
		Model:    req.Model,
		Text:     output,
		Usage: protocol.Usage{
			InputTokens:  int64(len(strings.Fields(latest))),
			OutputTokens: int64(len(output)),
		},
	}, nil
}

var _ Adapter = (*EchoAdapter)(nil)
