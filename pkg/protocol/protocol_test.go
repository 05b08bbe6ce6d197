package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in     string
		want   Provider
		wantOK bool
	}{
		{"openai", ProviderOpenAI, true},
		{"gemini", ProviderGemini, true},
		{"claude", ProviderClaude, true},
		{"echo", ProviderEcho, true},
		{"OpenAI", ProviderOpenAI, true},
		{"anthropic", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseProvider(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseProvider(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	var netTimeout net.Error = timeoutError{}
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"gateway error", Errf(ErrInvalidProvider, "x"), ErrInvalidProvider},
		{"wrapped gateway error", fmt.Errorf("outer: %w", Errf(ErrUpstreamTimeout, "x")), ErrUpstreamTimeout},
		{"deadline", context.DeadlineExceeded, ErrUpstreamTimeout},
		{"net timeout", netTimeout, ErrUpstreamTimeout},
		{"json syntax", &json.SyntaxError{}, ErrInvalidResponse},
		{"plain error", errors.New("boom"), ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{ErrInvalidProvider, http.StatusBadRequest},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrProviderNotConfigured, http.StatusFailedDependency},
		{ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{ErrUpstream, http.StatusBadGateway},
		{ErrInvalidResponse, http.StatusBadGateway},
		{ErrorKind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%q.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestMessageText(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Content: []ContentPart{
			TextPart("see "),
			ImagePart([]byte{1, 2}, "image/png"),
			TextPart("this"),
		},
	}
	if got := msg.Text(); got != "see this" {
		t.Errorf("Text = %q", got)
	}
	if _, ok := msg.PlainText(); ok {
		t.Error("PlainText should report false for mixed content")
	}
	if text, ok := UserMessage("plain").PlainText(); !ok || text != "plain" {
		t.Errorf("PlainText = %q, %v", text, ok)
	}
}

func TestLastUserText(t *testing.T) {
	req := Request{Input: []Message{
		UserMessage("first"),
		AssistantMessage("mid"),
		UserMessage("last"),
		AssistantMessage("tail"),
	}}
	if got := req.LastUserText(); got != "last" {
		t.Errorf("LastUserText = %q", got)
	}
	if got := (Request{}).LastUserText(); got != "" {
		t.Errorf("empty input LastUserText = %q", got)
	}
}

func TestImagePartFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	part, err := ImagePartFromFile(path)
	if err != nil {
		t.Fatalf("ImagePartFromFile: %v", err)
	}
	if part.Kind != PartImage || part.MediaType != "image/png" {
		t.Errorf("part = %+v", part)
	}
	if !strings.HasPrefix(part.DataURL(), "data:image/png;base64,") {
		t.Errorf("DataURL = %q", part.DataURL())
	}

	if _, err := ImagePartFromFile(filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEventTerminal(t *testing.T) {
	tests := []struct {
		typ  EventType
		want bool
	}{
		{EventCreated, false},
		{EventDelta, false},
		{EventCompleted, true},
		{EventFailed, true},
	}
	for _, tt := range tests {
		if got := (Event{Type: tt.typ}).Terminal(); got != tt.want {
			t.Errorf("%q.Terminal() = %v", tt.typ, got)
		}
	}
}

func TestGatewayErrorString(t *testing.T) {
	err := &GatewayError{Kind: ErrUpstream, Message: "boom", UpstreamStatus: 502}
	if got := err.Error(); !strings.Contains(got, "upstream_error") || !strings.Contains(got, "502") {
		t.Errorf("Error() = %q", got)
	}
}
