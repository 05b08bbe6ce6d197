package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelmux/modelmux/pkg/protocol"
)

func TestClaudeNotConfiguredSkipsNetwork(t *testing.T) {
	transport := &countingTransport{}
	adapter := NewClaudeAdapter("", "", &http.Client{Transport: transport})

	_, err := adapter.Complete(context.Background(), protocol.Request{
		Model: "claude-sonnet-4-5",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t")

	if kind := protocol.KindOf(err); kind != protocol.ErrProviderNotConfigured {
		t.Errorf("KindOf = %q, want %q", kind, protocol.ErrProviderNotConfigured)
	}
	if n := transport.calls.Load(); n != 0 {
		t.Errorf("transport calls = %d, want 0", n)
	}
}

func TestClaudeCompleteSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "msg_test_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-5",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Hello from Claude"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int64{"input_tokens": 9, "output_tokens": 3},
		})
	}))
	defer srv.Close()

	adapter := NewClaudeAdapter("sk-ant-test", srv.URL, srv.Client())
	got, err := adapter.Complete(context.Background(), protocol.Request{
		Model: "claude-sonnet-4-5",
		Input: []protocol.Message{
			protocol.SystemMessage("be brief"),
			protocol.UserMessage("hi"),
		},
	}, "trace-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.Text != "Hello from Claude" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Usage.InputTokens != 9 || got.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", got.Usage)
	}
	if got.UpstreamRequestID != "msg_test_1" {
		t.Errorf("UpstreamRequestID = %q", got.UpstreamRequestID)
	}

	// The Messages schema forbids system-role entries in messages: they must
	// be lifted to the top-level system field.
	if _, ok := gotBody["system"]; !ok {
		t.Error("system message was not lifted to the system field")
	}
	msgs, _ := gotBody["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Errorf("messages length = %d, want 1 (system lifted out)", len(msgs))
	}
	if gotBody["max_tokens"] != float64(claudeDefaultMaxTokens) {
		t.Errorf("max_tokens = %v, want default %d", gotBody["max_tokens"], claudeDefaultMaxTokens)
	}
}

func TestClaudeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "bad model"}}`))
	}))
	defer srv.Close()

	adapter := NewClaudeAdapter("sk-ant-test", srv.URL, srv.Client())
	_, err := adapter.Complete(context.Background(), protocol.Request{
		Model: "nope",
		Input: []protocol.Message{protocol.UserMessage("hi")},
	}, "t")
	if err == nil {
		t.Fatal("expected error")
	}

	var gerr *protocol.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("error type = %T", err)
	}
	if gerr.Kind != protocol.ErrUpstream {
		t.Errorf("Kind = %q", gerr.Kind)
	}
	if gerr.UpstreamStatus != http.StatusBadRequest {
		t.Errorf("UpstreamStatus = %d", gerr.UpstreamStatus)
	}
}

func TestSystemText(t *testing.T) {
	input := []protocol.Message{
		protocol.SystemMessage("first"),
		protocol.UserMessage("hi"),
		protocol.SystemMessage("second"),
	}
	if got := systemText(input); got != "first\nsecond" {
		t.Errorf("systemText = %q", got)
	}
	if got := systemText([]protocol.Message{protocol.UserMessage("hi")}); got != "" {
		t.Errorf("systemText with no system messages = %q", got)
	}
}

func TestTranslateClaudeMessagesSkipsSystemAndEmpty(t *testing.T) {
	input := []protocol.Message{
		protocol.SystemMessage("sys"),
		protocol.UserMessage("question"),
		{Role: protocol.RoleAssistant},
		protocol.AssistantMessage("answer"),
	}
	msgs := translateClaudeMessages(input)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
}
