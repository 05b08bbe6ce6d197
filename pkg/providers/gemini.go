package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelmux/modelmux/pkg/protocol"
)

const (
	geminiDefaultBase  = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-pro"
)

// GeminiAdapter targets the generateContent endpoint with plain JSON over
// the shared HTTP client. Gemini has no system role on this endpoint: user
// messages stay "user", everything else maps to "model".
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiAdapter creates the adapter. baseURL overrides the public
// endpoint for tests.
func NewGeminiAdapter(apiKey, baseURL string, httpClient *http.Client) *GeminiAdapter {
	if baseURL == "" {
		baseURL = geminiDefaultBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiAdapter{apiKey: apiKey, baseURL: baseURL, client: httpClient}
}

func (a *GeminiAdapter) Name() protocol.Provider { return protocol.ProviderGemini }

func (a *GeminiAdapter) DefaultModel() string { return geminiDefaultModel }

func (a *GeminiAdapter) Configured() bool { return a.apiKey != "" }

// --- wire format ---

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPayload struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (a *GeminiAdapter) Complete(ctx context.Context, req protocol.Request, traceID string) (*protocol.Completion, error) {
	if !a.Configured() {
		return nil, protocol.Errf(protocol.ErrProviderNotConfigured, "GEMINI_KEY is not configured")
	}

	model := normalizeGeminiModel(req.Model)
	payload := translateGeminiPayload(req.Input)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, protocol.Errf(protocol.ErrInvalidRequest, "encode Gemini payload: %v", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, protocol.Errf(protocol.ErrUpstream, "build Gemini request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-trace-id", traceID)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, protocol.Errf(protocol.KindOf(err), "Gemini call failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Errf(protocol.KindOf(err), "read Gemini response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &protocol.GatewayError{
			Kind:              protocol.ErrUpstream,
			Message:           fmt.Sprintf("Gemini error %d: %s", resp.StatusCode, truncate(string(respBody), 2000)),
			UpstreamStatus:    resp.StatusCode,
			UpstreamRequestID: resp.Header.Get("x-request-id"),
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, protocol.Errf(protocol.ErrInvalidResponse, "decode Gemini response: %v", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, protocol.Errf(protocol.ErrInvalidResponse, "Gemini response carried no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return &protocol.Completion{
		Provider: protocol.ProviderGemini,
		Model:    model,
		Text:     sb.String(),
		Usage: protocol.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		UpstreamRequestID: resp.Header.Get("x-request-id"),
	}, nil
}

func translateGeminiPayload(input []protocol.Message) geminiPayload {
	contents := make([]geminiContent, 0, len(input))
	for _, msg := range input {
		role := "model"
		if msg.Role == protocol.RoleUser {
			role = "user"
		}

		parts := make([]geminiPart, 0, len(msg.Content))
		for _, part := range msg.Content {
			switch part.Kind {
			case protocol.PartText:
				parts = append(parts, geminiPart{Text: part.Text})
			case protocol.PartImage:
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: part.MediaType,
					Data:     base64.StdEncoding.EncodeToString(part.ImageData),
				}})
			}
		}
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}
	return geminiPayload{Contents: contents}
}

// normalizeGeminiModel strips the resource prefix some clients send.
func normalizeGeminiModel(model string) string {
	return strings.TrimPrefix(model, "models/")
}

var _ Adapter = (*GeminiAdapter)(nil)
