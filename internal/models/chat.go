package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message kinds carried in the "type" discriminator of a chat message.
const (
	MessageSimpleText = "simple_text_message"
	MessageParts      = "parts_message"
)

// Content part kinds carried in the "type" discriminator of a message part.
const (
	PartText       = "text_content"
	PartFileURI    = "file_uri_content"
	PartInlineData = "inline_data_content"
)

// ContentPart is one piece of a multi-part message. The Type field selects
// which of the remaining fields are meaningful.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	URI        string `json:"uri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Base64Data string `json:"base64Data,omitempty"`
}

// ToolCallFunction mirrors the OpenAI tool-call function fragment.
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCall mirrors the OpenAI tool-call fragment attached to a message.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ChatMessage is one turn of the conversation. Type discriminates between a
// plain-text message (Content) and a multi-part message (Parts).
type ChatMessage struct {
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Name       string        `json:"name,omitempty"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// PlainText flattens the message into plain text: the Content field for
// simple messages, the concatenated text parts for parts messages.
func (m *ChatMessage) PlainText() string {
	if m.Type == MessageSimpleText {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// ThinkingConfig carries provider thinking controls (Gemini).
type ThinkingConfig struct {
	IncludeThoughts *bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int  `json:"thinkingBudget,omitempty"`
}

// GenerationConfig groups sampling knobs; fields left nil are omitted from
// upstream payloads.
type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ChatRequest is the client-facing chat payload, submitted as the
// chat_request_json multipart form field.
type ChatRequest struct {
	APIAddress            string                     `json:"apiAddress,omitempty"`
	Messages              []ChatMessage              `json:"messages"`
	Provider              string                     `json:"provider"`
	Model                 string                     `json:"model"`
	APIKey                string                     `json:"apiKey"`
	Temperature           *float64                   `json:"temperature,omitempty"`
	TopP                  *float64                   `json:"topP,omitempty"`
	MaxTokens             *int                       `json:"maxTokens,omitempty"`
	GenerationConfig      *GenerationConfig          `json:"generationConfig,omitempty"`
	Tools                 []map[string]interface{}   `json:"tools,omitempty"`
	ToolChoice            json.RawMessage            `json:"toolChoice,omitempty"`
	UseWebSearch          bool                       `json:"use_web_search,omitempty"`
	QwenEnableSearch      *bool                      `json:"qwenEnableSearch,omitempty"`
	ForceCustomReasoning  bool                       `json:"forceCustomReasoningPrompt,omitempty"`
	CustomModelParameters map[string]json.RawMessage `json:"customModelParameters,omitempty"`
	CustomExtraBody       map[string]json.RawMessage `json:"customExtraBody,omitempty"`
}

// Validate checks the fields the proxy cannot operate without.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if r.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, msg := range r.Messages {
		switch msg.Type {
		case MessageSimpleText, MessageParts:
		default:
			return fmt.Errorf("message %d: unknown type %q", i, msg.Type)
		}
		if msg.Role == "" {
			return fmt.Errorf("message %d: role is required", i)
		}
	}
	return nil
}

// IsGeminiModel reports whether the request targets the Gemini REST path.
func (r *ChatRequest) IsGeminiModel() bool {
	return strings.Contains(strings.ToLower(r.Model), "gemini")
}

// LastUserText returns the plain text of the most recent user message, used
// as the web-search query.
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].PlainText()
		}
	}
	return ""
}
