// Package request builds the upstream HTTP requests for both provider
// families: the OpenAI-compatible chat completions path and the Gemini
// streamGenerateContent REST path.
package request

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/eztalk/eztalk-proxy/internal/models"
)

// Options carries the configured upstream endpoints and credentials.
type Options struct {
	DefaultOpenAIBaseURL string
	OpenAICompatiblePath string
	GoogleBaseURL        string
	GoogleAPIKey         string
}

// Prepared is a ready-to-send upstream request.
type Prepared struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// ConvertMessagesOpenAI flattens chat messages into the OpenAI wire shape.
// docContext, when non-empty, is prepended to the text of the last user
// message; extraParts (uploaded multimodal content already converted to
// image_url parts) are appended to it.
func ConvertMessagesOpenAI(msgs []models.ChatMessage, docContext string, extraParts []map[string]interface{}, rid string) []map[string]interface{} {
	converted := make([]map[string]interface{}, 0, len(msgs))

	for i, msg := range msgs {
		isLastUser := i == len(msgs)-1 && msg.Role == "user"

		var parts []map[string]interface{}
		switch msg.Type {
		case models.MessageSimpleText:
			if msg.Content != "" {
				parts = append(parts, map[string]interface{}{"type": "text", "text": msg.Content})
			}
		case models.MessageParts:
			for _, part := range msg.Parts {
				switch part.Type {
				case models.PartText:
					if part.Text != "" {
						parts = append(parts, map[string]interface{}{"type": "text", "text": part.Text})
					}
				case models.PartInlineData:
					uri := fmt.Sprintf("data:%s;base64,%s", part.MimeType, part.Base64Data)
					parts = append(parts, map[string]interface{}{
						"type":      "image_url",
						"image_url": map[string]interface{}{"url": uri},
					})
				default:
					logrus.Warnf("RID-%s: skipping unsupported part type %q in message %d", rid, part.Type, i)
				}
			}
		}

		if isLastUser {
			if docContext != "" {
				injected := false
				for _, p := range parts {
					if p["type"] == "text" {
						p["text"] = docContext + p["text"].(string)
						injected = true
						break
					}
				}
				if !injected {
					parts = append([]map[string]interface{}{{"type": "text", "text": docContext}}, parts...)
				}
			}
			parts = append(parts, extraParts...)
		}

		out := map[string]interface{}{"role": msg.Role}
		switch {
		case len(parts) == 0:
			out["content"] = ""
		case len(parts) == 1 && parts[0]["type"] == "text":
			out["content"] = parts[0]["text"]
		default:
			out["content"] = parts
		}
		if msg.Name != "" {
			out["name"] = msg.Name
		}
		if msg.ToolCallID != "" {
			out["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			out["tool_calls"] = msg.ToolCalls
		}
		converted = append(converted, out)
	}

	return converted
}

// InjectSystemContext prepends context (web search results) to the system
// message, creating one at the head of the list if absent.
func InjectSystemContext(messages []map[string]interface{}, context string) []map[string]interface{} {
	for _, msg := range messages {
		if msg["role"] == "system" {
			if content, ok := msg["content"].(string); ok {
				msg["content"] = context + "\n\n" + content
			}
			return messages
		}
	}
	return append([]map[string]interface{}{{"role": "system", "content": context}}, messages...)
}

// PrepareOpenAI assembles the chat completions request. A trailing '#' on
// the client-supplied API address bypasses path joining and is used as the
// full URL verbatim.
func PrepareOpenAI(opts Options, req *models.ChatRequest, messages []map[string]interface{}, rid string) (*Prepared, error) {
	var targetURL string
	if strings.HasSuffix(req.APIAddress, "#") {
		targetURL = strings.TrimSuffix(req.APIAddress, "#")
		logrus.Infof("RID-%s: overriding API URL to: %s", rid, targetURL)
	} else {
		baseURL := strings.TrimRight(strings.TrimSpace(req.APIAddress), "/")
		if baseURL == "" {
			baseURL = strings.TrimRight(opts.DefaultOpenAIBaseURL, "/")
		}
		targetURL = baseURL + "/" + strings.TrimLeft(opts.OpenAICompatiblePath, "/")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + req.APIKey,
		"Content-Type":  "application/json",
		"Accept":        "text/event-stream",
	}

	final := injectFormattingInstruction(messages, req.Model)

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": final,
		"stream":   true,
	}

	temperature, topP, maxTokens := req.Temperature, req.TopP, req.MaxTokens
	if gc := req.GenerationConfig; gc != nil {
		if gc.Temperature != nil {
			temperature = gc.Temperature
		}
		if gc.TopP != nil {
			topP = gc.TopP
		}
		if gc.MaxOutputTokens != nil {
			maxTokens = gc.MaxOutputTokens
		}
	}
	if temperature != nil {
		payload["temperature"] = *temperature
	}
	if topP != nil {
		payload["top_p"] = *topP
	}
	if maxTokens != nil {
		payload["max_tokens"] = *maxTokens
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if len(req.ToolChoice) > 0 {
		payload["tool_choice"] = req.ToolChoice
	}

	modelLower := strings.ToLower(req.Model)
	if strings.Contains(modelLower, "qwen") && req.QwenEnableSearch != nil {
		payload["enable_search"] = *req.QwenEnableSearch
	}

	for key, value := range req.CustomModelParameters {
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions payload: %w", err)
	}

	// customExtraBody overrides everything, including standard fields.
	for key, raw := range req.CustomExtraBody {
		body, err = sjson.SetRawBytes(body, escapeKey(key), raw)
		if err != nil {
			return nil, fmt.Errorf("apply custom extra body key %q: %w", key, err)
		}
	}

	return &Prepared{URL: targetURL, Headers: headers, Body: body}, nil
}

// injectFormattingInstruction appends the KaTeX instruction to the system
// message, creating one if the conversation has none. The input slice is not
// modified.
func injectFormattingInstruction(messages []map[string]interface{}, model string) []map[string]interface{} {
	modelLower := strings.ToLower(model)
	instruction := KatexFormattingInstruction
	switch {
	case strings.Contains(modelLower, "qwen"):
		instruction = QwenKatexFormattingInstruction
	case strings.Contains(modelLower, "deepseek"):
		instruction = DeepseekKatexFormattingInstruction
	}

	final := make([]map[string]interface{}, len(messages))
	copy(final, messages)

	for i, msg := range final {
		if msg["role"] != "system" {
			continue
		}
		if content, ok := msg["content"].(string); ok && !strings.Contains(content, instruction) {
			patched := make(map[string]interface{}, len(msg))
			for k, v := range msg {
				patched[k] = v
			}
			patched["content"] = strings.TrimSpace(content + "\n\n" + instruction)
			final[i] = patched
		}
		return final
	}

	return append([]map[string]interface{}{{"role": "system", "content": instruction}}, final...)
}

// escapeKey protects literal dots in user-supplied keys from being treated
// as path separators by sjson.
func escapeKey(key string) string {
	key = strings.ReplaceAll(key, `.`, `\.`)
	return strings.ReplaceAll(key, `*`, `\*`)
}
