package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ContentType tags a ContentPart.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImageURL ContentType = "image_url"
)

// ImageDetail is the resolution hint sent with an image reference.
type ImageDetail string

const (
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
	ImageDetailAuto ImageDetail = "auto"
)

// ImageURL is the payload of an image_url content part.
type ImageURL struct {
	URL    string      `json:"url"`
	Detail ImageDetail `json:"detail,omitempty"`
}

// ContentPart is either a text fragment or an image reference.
// Exactly one of Text or ImageURL is meaningful, selected by Type.
type ContentPart struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *ImageURL   `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImagePart returns an image reference content part.
func ImagePart(url string, detail ImageDetail) ContentPart {
	if detail == "" {
		detail = ImageDetailAuto
	}
	return ContentPart{Type: ContentTypeImageURL, ImageURL: &ImageURL{URL: url, Detail: detail}}
}

// Message represents a single message in the chat
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// NewTextMessage builds a message holding a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{TextPart(text)}}
}

// UnmarshalJSON accepts both the structured content array and the
// plain-string shorthand that most OpenAI-compatible clients send.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		m.Content = []ContentPart{TextPart(text)}
		return nil
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return fmt.Errorf("invalid message content: %w", err)
	}
	return nil
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var buf bytes.Buffer
	for _, p := range m.Content {
		if p.Type == ContentTypeText {
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

// ReasoningEffort is the coarse reasoning budget understood by OpenAI-style APIs.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// ReasoningConfig holds both reasoning knobs; the shaper picks which one
// is sent for a given target.
type ReasoningConfig struct {
	Effort    ReasoningEffort `json:"effort,omitempty" yaml:"effort"`
	MaxTokens int             `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// ReasoningPayload is the reasoning object placed in an upstream body.
// At most one field is set.
type ReasoningPayload struct {
	Effort    ReasoningEffort `json:"effort,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

// GenerationConfig carries the model and sampling parameters of a request.
type GenerationConfig struct {
	Model            string           `json:"model" yaml:"model"`
	MaxTokens        int              `json:"max_tokens" yaml:"max_tokens"`
	Temperature      float64          `json:"temperature" yaml:"temperature"`
	PresencePenalty  float64          `json:"presence_penalty" yaml:"presence_penalty"`
	TopP             float64          `json:"top_p" yaml:"top_p"`
	FrequencyPenalty float64          `json:"frequency_penalty" yaml:"frequency_penalty"`
	Reasoning        *ReasoningConfig `json:"reasoning,omitempty" yaml:"reasoning"`
}

const (
	DefaultModel              = "anthropic/claude-sonnet-4.5"
	DefaultMaxTokens          = 16384
	DefaultReasoningMaxTokens = 31000
)

// DefaultGenerationConfig returns the configuration used when a caller
// does not supply one.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Model:            DefaultModel,
		MaxTokens:        DefaultMaxTokens,
		Temperature:      1,
		PresencePenalty:  0,
		TopP:             1,
		FrequencyPenalty: 0,
		Reasoning: &ReasoningConfig{
			Effort:    ReasoningEffortMedium,
			MaxTokens: DefaultReasoningMaxTokens,
		},
	}
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model represents a single model in the models list
type Model struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	OwnedBy       string   `json:"owned_by"`
	ContextWindow int      `json:"context_window,omitempty"`
	InputType     string   `json:"input_type,omitempty"`
	Pricing       *Pricing `json:"pricing,omitempty"`
}

// Pricing is the per-million-token price of a model in USD.
type Pricing struct {
	InputPerMtok  float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMtok float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
}

// ModelsResponse represents the response from the /v1/models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
