// Package protocol defines the gateway's canonical request/response types.
// Every provider backend is translated to and from these shapes; nothing
// backend-specific leaks past this package.
package protocol

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Provider identifies an LLM backend. The set is closed.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderEcho   Provider = "echo"
)

// ParseProvider maps a lowercase provider prefix to a known Provider.
func ParseProvider(name string) (Provider, bool) {
	switch Provider(strings.ToLower(name)) {
	case ProviderOpenAI:
		return ProviderOpenAI, true
	case ProviderGemini:
		return ProviderGemini, true
	case ProviderClaude:
		return ProviderClaude, true
	case ProviderEcho:
		return ProviderEcho, true
	default:
		return "", false
	}
}

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ValidRole reports whether the role belongs to the closed role set.
func ValidRole(r Role) bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// PartKind is the discriminator tag for ContentPart.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one piece of message content: either text or an inline
// image. Image bytes are resolved at construction time; request handling
// never touches the filesystem.
type ContentPart struct {
	Kind      PartKind `json:"kind"`
	Text      string   `json:"text,omitempty"`
	ImageData []byte   `json:"image_data,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart creates an image content part from raw bytes.
func ImagePart(data []byte, mediaType string) ContentPart {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return ContentPart{Kind: PartImage, ImageData: data, MediaType: mediaType}
}

// ImagePartFromFile reads a local image into an inline content part.
func ImagePartFromFile(path string) (ContentPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ContentPart{}, fmt.Errorf("read image %s: %w", path, err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	return ImagePart(data, mediaType), nil
}

// DataURL renders an image part as a base64 data URL for backends that
// take images by URL.
func (p ContentPart) DataURL() string {
	if p.Kind != PartImage {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", p.MediaType, base64.StdEncoding.EncodeToString(p.ImageData))
}

// Message is one entry of a conversation.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == PartText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// PlainText reports the message text when the message carries text parts
// only, letting adapters use the compact string form of their wire schema.
func (m Message) PlainText() (string, bool) {
	for _, part := range m.Content {
		if part.Kind != PartText {
			return "", false
		}
	}
	return m.Text(), true
}

// SystemMessage creates a system message with text content.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// UserMessage creates a user message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage creates an assistant message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// Request is the canonical inbound request. Immutable once constructed;
// the dispatcher and adapters only ever read it.
type Request struct {
	Model           string                 `json:"model"`
	Input           []Message              `json:"input"`
	Stream          bool                   `json:"stream"`
	Temperature     *float64               `json:"temperature,omitempty"`
	MaxOutputTokens int                    `json:"max_output_tokens,omitempty"`
	ResponseFormat  map[string]interface{} `json:"response_format,omitempty"`
	Reasoning       map[string]interface{} `json:"reasoning,omitempty"`
}

// LastUserText returns the text of the most recent user message.
func (r Request) LastUserText() string {
	for i := len(r.Input) - 1; i >= 0; i-- {
		if r.Input[i].Role == RoleUser {
			return r.Input[i].Text()
		}
	}
	return ""
}

// Usage tracks token consumption for one completed request.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Completion is the normalized one-shot result an adapter returns. The
// normalizer expands it into the canonical event sequence.
type Completion struct {
	Provider          Provider `json:"provider"`
	Model             string   `json:"model"`
	Text              string   `json:"text"`
	Usage             Usage    `json:"usage"`
	UpstreamRequestID string   `json:"upstream_request_id,omitempty"`
}
