package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelmux/modelmux/pkg/protocol"
)

const claudeDefaultMaxTokens = 1024

// ClaudeAdapter targets the Anthropic Messages API. System-role messages are
// lifted out of the message list into the top-level system field, as the
// Messages schema requires.
type ClaudeAdapter struct {
	apiKey string
	client anthropic.Client
}

// NewClaudeAdapter creates the adapter on the shared outbound HTTP client.
func NewClaudeAdapter(apiKey, baseURL string, httpClient *http.Client) *ClaudeAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ClaudeAdapter{apiKey: apiKey, client: anthropic.NewClient(opts...)}
}

func (a *ClaudeAdapter) Name() protocol.Provider { return protocol.ProviderClaude }

func (a *ClaudeAdapter) DefaultModel() string { return "claude-sonnet-4-5" }

func (a *ClaudeAdapter) Configured() bool { return a.apiKey != "" }

func (a *ClaudeAdapter) Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error) {
	if !a.Configured() {
		return nil, protocol.Errf(protocol.ErrProviderNotConfigured, "CLAUDE_KEY is not configured")
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  translateClaudeMessages(req.Input),
	}
	if system := systemText(req.Input); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params, option.WithHeader("x-trace-id", traceID))
	if err != nil {
		return nil, translateClaudeError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &protocol.Completion{
		Provider:          protocol.ProviderClaude,
		Model:             string(msg.Model),
		Text:              sb.String(),
		Usage:             protocol.Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
		UpstreamRequestID: msg.ID,
	}, nil
}

// systemText joins the text of all system-role messages.
func systemText(input []protocol.Message) string {
	var parts []string
	for _, msg := range input {
		if msg.Role == protocol.RoleSystem {
			parts = append(parts, msg.Text())
		}
	}
	return strings.Join(parts, "\n")
}

func translateClaudeMessages(input []protocol.Message) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(input))
	for _, msg := range input {
		if msg.Role == protocol.RoleSystem {
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, part := range msg.Content {
			switch part.Kind {
			case protocol.PartText:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case protocol.PartImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					part.MediaType, base64.StdEncoding.EncodeToString(part.ImageData)))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case protocol.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	return msgs
}

func translateClaudeError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &protocol.GatewayError{
			Kind:           protocol.ErrUpstream,
			Message:        fmt.Sprintf("Claude error: %s", truncate(apierr.Error(), 2000)),
			UpstreamStatus: apierr.StatusCode,
		}
	}
	if kind := protocol.KindOf(err); kind != protocol.ErrUpstream {
		return protocol.Errf(kind, "Claude call failed: %v", err)
	}
	return protocol.Errf(protocol.ErrUpstream, "Claude call failed: %v", err)
}

var _ Adapter = (*ClaudeAdapter)(nil)
