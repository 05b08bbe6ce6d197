package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelmux/modelmux/pkg/events"
	"github.com/modelmux/modelmux/pkg/logger"
	"github.com/modelmux/modelmux/pkg/protocol"
)

const (
	// maxRequestBytes bounds the request body read off the wire.
	maxRequestBytes = 256_000
	// maxInputTokens bounds the estimated prompt size (chars/4 heuristic).
	maxInputTokens = 6_000
)

// responseRequest is the wire shape of POST /v1/responses.
type responseRequest struct {
	Model           string                 `json:"model"`
	Input           []wireMessage          `json:"input"`
	Stream          bool                   `json:"stream"`
	Temperature     *float64               `json:"temperature,omitempty"`
	MaxOutputTokens int                    `json:"max_output_tokens,omitempty"`
	ResponseFormat  map[string]interface{} `json:"response_format,omitempty"`
	Reasoning       map[string]interface{} `json:"reasoning,omitempty"`
}

// wireMessage accepts content as either a bare string or a part list.
type wireMessage struct {
	Role    protocol.Role   `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wirePart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

// handleResponses is the unified entry point. stream=true answers with an
// SSE event sequence; stream=false buffers to a single JSON document.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	traceID := traceIDFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var wireReq responseRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReq); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, protocol.ErrInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes))
			return
		}
		writeError(w, protocol.ErrInvalidRequest, "malformed JSON body: "+err.Error())
		return
	}

	req, err := decodeRequest(wireReq)
	if err != nil {
		writeError(w, protocol.KindOf(err), err.Error())
		return
	}

	s.wsHub.Broadcast(events.RequestCreated, events.RequestEventData{
		TraceID: traceID,
		Model:   req.Model,
		Stream:  req.Stream,
	})

	if req.Stream {
		s.streamResponse(w, r, req, traceID)
		return
	}
	s.bufferedResponse(w, r, req, traceID)
}

// streamResponse resolves the provider before committing to the SSE
// content type, so pre-stream failures surface as plain JSON errors with
// proper status codes.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, req protocol.Request, traceID string) {
	adapter, _, err := s.dispatcher.Resolve(req.Model)
	if err == nil && !adapter.Configured() {
		err = protocol.Errf(protocol.ErrProviderNotConfigured,
			"provider %q has no credential configured", adapter.Name())
	}
	if err != nil {
		s.broadcastFailure(traceID, req, err)
		writeError(w, protocol.KindOf(err), errorMessage(err))
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, protocol.ErrInvalidRequest, "streaming is not supported by this connection")
		return
	}

	start := time.Now()
	var firstDelta time.Duration
	var terminal protocol.Event

	for ev := range s.dispatcher.Dispatch(r.Context(), req, traceID) {
		if ev.Type == protocol.EventDelta && firstDelta == 0 {
			firstDelta = time.Since(start)
		}
		if ev.Terminal() {
			terminal = ev
		}
		if err := sse.WriteEvent(ev); err != nil {
			logger.DebugCF("api", "Client disconnected mid-stream", map[string]interface{}{
				"trace_id": traceID,
			})
			return
		}
	}

	fields := map[string]interface{}{
		"trace_id":    traceID,
		"model":       req.Model,
		"duration_ms": time.Since(start).Milliseconds(),
		"ttft_ms":     firstDelta.Milliseconds(),
	}
	switch terminal.Type {
	case protocol.EventCompleted:
		if terminal.Usage != nil {
			fields["output_tokens"] = terminal.Usage.OutputTokens
		}
		logger.InfoCF("api", "Stream complete", fields)
		s.wsHub.Broadcast(events.RequestCompleted, requestOutcome(traceID, req, terminal, time.Since(start)))
	case protocol.EventFailed:
		fields["error_kind"] = terminal.ErrorKind
		logger.WarnCF("api", "Stream failed", fields)
		s.wsHub.Broadcast(events.RequestFailed, requestOutcome(traceID, req, terminal, time.Since(start)))
	}
}

func (s *Server) bufferedResponse(w http.ResponseWriter, r *http.Request, req protocol.Request, traceID string) {
	start := time.Now()
	result, err := s.dispatcher.Complete(r.Context(), req, traceID)
	if err != nil {
		s.broadcastFailure(traceID, req, err)
		logger.WarnCF("api", "Request failed", errFields(traceID, err))
		writeError(w, protocol.KindOf(err), errorMessage(err))
		return
	}

	s.wsHub.Broadcast(events.RequestCompleted, events.RequestEventData{
		TraceID:      traceID,
		Provider:     result.Provider,
		Model:        result.Model,
		DurationMS:   time.Since(start).Milliseconds(),
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          result.ResponseID,
		"object":      "response",
		"provider":    result.Provider,
		"model":       result.Model,
		"output_text": result.Text,
		"usage":       result.Usage,
		"trace_id":    result.TraceID,
	})
}

func (s *Server) broadcastFailure(traceID string, req protocol.Request, err error) {
	s.wsHub.Broadcast(events.RequestFailed, events.RequestEventData{
		TraceID:   traceID,
		Model:     req.Model,
		Stream:    req.Stream,
		ErrorKind: protocol.KindOf(err),
		Error:     errorMessage(err),
	})
}

func requestOutcome(traceID string, req protocol.Request, terminal protocol.Event, elapsed time.Duration) events.RequestEventData {
	data := events.RequestEventData{
		TraceID:    traceID,
		Provider:   terminal.Provider,
		Model:      terminal.Model,
		Stream:     req.Stream,
		DurationMS: elapsed.Milliseconds(),
		ErrorKind:  terminal.ErrorKind,
		Error:      terminal.Message,
	}
	if terminal.Usage != nil {
		data.InputTokens = terminal.Usage.InputTokens
		data.OutputTokens = terminal.Usage.OutputTokens
	}
	return data
}

func errorMessage(err error) string {
	var gerr *protocol.GatewayError
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return err.Error()
}

// decodeRequest validates and converts the wire request into the canonical
// form. Guard order: shape first, then roles, then the size heuristic.
func decodeRequest(wireReq responseRequest) (protocol.Request, error) {
	if len(wireReq.Input) == 0 {
		return protocol.Request{}, protocol.Errf(protocol.ErrInvalidRequest, "input must not be empty")
	}

	input := make([]protocol.Message, 0, len(wireReq.Input))
	var inputChars int
	for i, wm := range wireReq.Input {
		if !protocol.ValidRole(wm.Role) {
			return protocol.Request{}, protocol.Errf(protocol.ErrInvalidRequest,
				"input[%d]: invalid role %q", i, wm.Role)
		}
		parts, chars, err := decodeContent(wm.Content)
		if err != nil {
			return protocol.Request{}, protocol.Errf(protocol.ErrInvalidRequest,
				"input[%d]: %v", i, err)
		}
		inputChars += chars
		input = append(input, protocol.Message{Role: wm.Role, Content: parts})
	}

	if estimated := inputChars / 4; estimated > maxInputTokens {
		return protocol.Request{}, protocol.Errf(protocol.ErrInvalidRequest,
			"input too large: ~%d tokens exceeds limit of %d", estimated, maxInputTokens)
	}

	return protocol.Request{
		Model:           wireReq.Model,
		Input:           input,
		Stream:          wireReq.Stream,
		Temperature:     wireReq.Temperature,
		MaxOutputTokens: wireReq.MaxOutputTokens,
		ResponseFormat:  wireReq.ResponseFormat,
		Reasoning:       wireReq.Reasoning,
	}, nil
}

// decodeContent accepts either the compact string form or the part list.
// Returns the text character count for the size heuristic.
func decodeContent(raw json.RawMessage) ([]protocol.ContentPart, int, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("content is required")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []protocol.ContentPart{protocol.TextPart(text)}, len(text), nil
	}

	var wireParts []wirePart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil, 0, fmt.Errorf("content must be a string or an array of parts")
	}
	if len(wireParts) == 0 {
		return nil, 0, fmt.Errorf("content parts must not be empty")
	}

	parts := make([]protocol.ContentPart, 0, len(wireParts))
	var chars int
	for _, wp := range wireParts {
		switch wp.Type {
		case "input_text":
			parts = append(parts, protocol.TextPart(wp.Text))
			chars += len(wp.Text)
		case "input_image":
			part, err := decodeImagePart(wp)
			if err != nil {
				return nil, 0, err
			}
			parts = append(parts, part)
		default:
			return nil, 0, fmt.Errorf("unknown content part type %q", wp.Type)
		}
	}
	return parts, chars, nil
}

// decodeImagePart takes image bytes as base64 or as a data URL.
func decodeImagePart(wp wirePart) (protocol.ContentPart, error) {
	if wp.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(wp.ImageBase64)
		if err != nil {
			return protocol.ContentPart{}, fmt.Errorf("invalid image_base64: %v", err)
		}
		return protocol.ImagePart(data, wp.MediaType), nil
	}
	if strings.HasPrefix(wp.ImageURL, "data:") {
		meta, encoded, ok := strings.Cut(strings.TrimPrefix(wp.ImageURL, "data:"), ",")
		if !ok {
			return protocol.ContentPart{}, fmt.Errorf("malformed image data URL")
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return protocol.ContentPart{}, fmt.Errorf("invalid image data URL: %v", err)
		}
		mediaType := strings.TrimSuffix(meta, ";base64")
		return protocol.ImagePart(data, mediaType), nil
	}
	return protocol.ContentPart{}, fmt.Errorf("image part needs image_base64 or a data URL")
}
