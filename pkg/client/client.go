// Package client is a small Go client for the gateway's HTTP API. It speaks
// the same wire shapes the server publishes: JSON for buffered responses,
// Server-Sent Events for streams, and the agent bus endpoints.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// Client talks to one gateway instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey attaches the bearer credential to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient swaps the transport. The default client carries no
// timeout because streams are open-ended; cancel via context instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is the buffered result of a non-streaming request.
type Response struct {
	ID         string            `json:"id"`
	Provider   protocol.Provider `json:"provider"`
	Model      string            `json:"model"`
	OutputText string            `json:"output_text"`
	Usage      protocol.Usage    `json:"usage"`
	TraceID    string            `json:"trace_id"`
}

type apiError struct {
	Error struct {
		Code    protocol.ErrorKind `json:"code"`
		Message string             `json:"message"`
	} `json:"error"`
}

// wireRequest is the server's inbound schema for POST /v1/responses. The
// canonical Request is translated into it before posting: content goes out
// as a bare string where possible, otherwise as typed input_text /
// input_image parts.
type wireRequest struct {
	Model           string                 `json:"model"`
	Input           []wireMessage          `json:"input"`
	Stream          bool                   `json:"stream"`
	Temperature     *float64               `json:"temperature,omitempty"`
	MaxOutputTokens int                    `json:"max_output_tokens,omitempty"`
	ResponseFormat  map[string]interface{} `json:"response_format,omitempty"`
	Reasoning       map[string]interface{} `json:"reasoning,omitempty"`
}

type wireMessage struct {
	Role    protocol.Role `json:"role"`
	Content interface{}   `json:"content"`
}

type wirePart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

func toWireRequest(req protocol.Request) wireRequest {
	input := make([]wireMessage, 0, len(req.Input))
	for _, msg := range req.Input {
		input = append(input, wireMessage{Role: msg.Role, Content: toWireContent(msg)})
	}
	return wireRequest{
		Model:           req.Model,
		Input:           input,
		Stream:          req.Stream,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		ResponseFormat:  req.ResponseFormat,
		Reasoning:       req.Reasoning,
	}
}

func toWireContent(msg protocol.Message) interface{} {
	if text, ok := msg.PlainText(); ok {
		return text
	}
	parts := make([]wirePart, 0, len(msg.Content))
	for _, part := range msg.Content {
		switch part.Kind {
		case protocol.PartText:
			parts = append(parts, wirePart{Type: "input_text", Text: part.Text})
		case protocol.PartImage:
			parts = append(parts, wirePart{
				Type:        "input_image",
				ImageBase64: base64.StdEncoding.EncodeToString(part.ImageData),
				MediaType:   part.MediaType,
			})
		}
	}
	return parts
}

// BuildUserMessage assembles a user message from text plus optional local
// image files. Image bytes are read here, before the request leaves the
// process.
func BuildUserMessage(text string, imagePaths ...string) (protocol.Message, error) {
	parts := []protocol.ContentPart{protocol.TextPart(text)}
	for _, path := range imagePaths {
		part, err := protocol.ImagePartFromFile(path)
		if err != nil {
			return protocol.Message{}, err
		}
		parts = append(parts, part)
	}
	return protocol.Message{Role: protocol.RoleUser, Content: parts}, nil
}

// Complete executes a buffered request.
func (c *Client) Complete(ctx context.Context, req protocol.Request) (*Response, error) {
	req.Stream = false
	httpResp, err := c.post(ctx, "/v1/responses", toWireRequest(req))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(httpResp)
	}
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Stream executes a streaming request and invokes onEvent for every
// lifecycle event, in order. It returns once a terminal event arrives; a
// Failed event is surfaced as a GatewayError after delivery.
func (c *Client) Stream(ctx context.Context, req protocol.Request, onEvent func(protocol.Event)) error {
	req.Stream = true
	httpResp, err := c.post(ctx, "/v1/responses", toWireRequest(req))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeAPIError(httpResp)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev protocol.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		onEvent(ev)
		if ev.Type == protocol.EventFailed {
			return &protocol.GatewayError{Kind: ev.ErrorKind, Message: ev.Message}
		}
		if ev.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal event")
}

// PublishMessage appends a payload to an agent's log and returns the
// assigned message id.
func (c *Client) PublishMessage(ctx context.Context, agentID string, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	httpResp, err := c.post(ctx, "/v1/agents/messages", map[string]interface{}{
		"agent_id": agentID,
		"payload":  json.RawMessage(raw),
	})
	if err != nil {
		return 0, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusAccepted {
		return 0, decodeAPIError(httpResp)
	}
	var ack struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&ack); err != nil {
		return 0, fmt.Errorf("decode ack: %w", err)
	}
	return ack.MessageID, nil
}

// BusMessage mirrors the server's stored message shape.
type BusMessage struct {
	AgentID   string          `json:"agent_id"`
	MessageID int64           `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReadMessages fetches an agent's messages with id > since. Pass since=-1
// for the full log.
func (c *Client) ReadMessages(ctx context.Context, agentID string, since int64) ([]BusMessage, error) {
	url := fmt.Sprintf("%s/v1/agents/%s/messages?since=%d", c.baseURL, agentID, since)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(httpResp)
	}
	var page struct {
		Messages []BusMessage `json:"messages"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return page.Messages, nil
}

// Health fetches the health probe document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	var doc map[string]interface{}
	if err := json.NewDecoder(httpResp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	return c.httpClient.Do(httpReq)
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &protocol.GatewayError{Kind: apiErr.Error.Code, Message: apiErr.Error.Message}
	}
	return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
