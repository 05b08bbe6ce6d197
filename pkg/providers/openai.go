package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/modelmux/modelmux/pkg/protocol"
)

const openaiProbeURL = "https://api.openai.com/"

// OpenAIAdapter targets the OpenAI Responses API. The canonical request maps
// almost 1:1 — reasoning controls and response format pass straight through.
type OpenAIAdapter struct {
	apiKey     string
	client     openai.Client
	httpClient *http.Client
}

// NewOpenAIAdapter creates the adapter. httpClient is the process-wide
// outbound client shared by all adapters; baseURL overrides the public
// endpoint for tests.
func NewOpenAIAdapter(apiKey, baseURL string, httpClient *http.Client) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIAdapter{
		apiKey:     apiKey,
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
	}
}

func (a *OpenAIAdapter) Name() protocol.Provider { return protocol.ProviderOpenAI }

func (a *OpenAIAdapter) DefaultModel() string { return "gpt-4o-mini" }

func (a *OpenAIAdapter) Configured() bool { return a.apiKey != "" }

func (a *OpenAIAdapter) Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error) {
	if !a.Configured() {
		return nil, protocol.Errf(protocol.ErrProviderNotConfigured, "OPENAI_KEY is not configured")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: translateOpenAIInput(req.Input)},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if effort, ok := req.Reasoning["effort"].(string); ok && effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(effort)}
	}

	opts := []option.RequestOption{option.WithHeader("x-trace-id", traceID)}
	if len(req.ResponseFormat) > 0 {
		opts = append(opts, option.WithJSONSet("text.format", req.ResponseFormat))
	}

	resp, err := a.client.Responses.New(ctx, params, opts...)
	if err != nil {
		return nil, translateOpenAIError(err)
	}

	return &protocol.Completion{
		Provider:          protocol.ProviderOpenAI,
		Model:             string(resp.Model),
		Text:              resp.OutputText(),
		Usage:             protocol.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		UpstreamRequestID: resp.ID,
	}, nil
}

// Ping probes the OpenAI edge for readiness checks. Any response below 500
// counts as reachable.
func (a *OpenAIAdapter) Ping(ctx context.Context) error {
	client := a.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, openaiProbeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("openai edge returned %d", resp.StatusCode)
	}
	return nil
}

func translateOpenAIInput(input []protocol.Message) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(input))
	for _, msg := range input {
		items = append(items, responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Role:    responses.EasyInputMessageRole(string(msg.Role)),
				Content: translateOpenAIContent(msg),
			},
		})
	}
	return items
}

func translateOpenAIContent(msg protocol.Message) responses.EasyInputMessageContentUnionParam {
	if text, ok := msg.PlainText(); ok {
		return responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)}
	}

	list := make(responses.ResponseInputMessageContentListParam, 0, len(msg.Content))
	for _, part := range msg.Content {
		switch part.Kind {
		case protocol.PartText:
			list = append(list, responses.ResponseInputContentUnionParam{
				OfInputText: &responses.ResponseInputTextParam{Text: part.Text},
			})
		case protocol.PartImage:
			list = append(list, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					ImageURL: openai.String(part.DataURL()),
					Detail:   responses.ResponseInputImageDetailAuto,
				},
			})
		}
	}
	return responses.EasyInputMessageContentUnionParam{OfInputItemContentList: list}
}

func translateOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &protocol.GatewayError{
			Kind:           protocol.ErrUpstream,
			Message:        fmt.Sprintf("OpenAI error: %s", truncate(apierr.Error(), 2000)),
			UpstreamStatus: apierr.StatusCode,
		}
	}
	if kind := protocol.KindOf(err); kind != protocol.ErrUpstream {
		return protocol.Errf(kind, "OpenAI call failed: %v", err)
	}
	return protocol.Errf(protocol.ErrUpstream, "OpenAI call failed: %v", err)
}

var _ Adapter = (*OpenAIAdapter)(nil)
var _ Pinger = (*OpenAIAdapter)(nil)
