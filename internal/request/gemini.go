package request

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/models"
)

// PrepareGemini assembles the streamGenerateContent request for the Gemini
// REST path. The server key takes precedence over the client-supplied key
// when configured. extraParts holds uploaded multimodal content already in
// the REST part shape; it is appended to the last user turn.
func PrepareGemini(opts Options, req *models.ChatRequest, docContext string, extraParts []map[string]interface{}, rid string) (*Prepared, error) {
	apiKey := opts.GoogleAPIKey
	if apiKey == "" {
		apiKey = req.APIKey
	}
	baseURL := strings.TrimRight(opts.GoogleBaseURL, "/")
	targetURL := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", baseURL, req.Model, apiKey)

	contents := convertMessagesGemini(req.Messages, docContext, extraParts, rid)
	if len(contents) == 0 {
		logrus.Errorf("RID-%s: no processable messages for Gemini request", rid)
		contents = []map[string]interface{}{}
	}

	payload := map[string]interface{}{
		"contents": contents,
		"system_instruction": map[string]interface{}{
			"parts": []map[string]interface{}{{"text": GeminiSystemInstruction}},
		},
	}

	generationConfig := buildGenerationConfig(req)
	if len(generationConfig) > 0 {
		payload["generationConfig"] = generationConfig
	}

	var tools []map[string]interface{}
	if req.UseWebSearch {
		tools = append(tools, map[string]interface{}{"googleSearch": map[string]interface{}{}})
		logrus.Infof("RID-%s: enabled Google Search tool for Gemini", rid)
	}
	if declarations := convertToolDeclarations(req.Tools); len(declarations) > 0 {
		tools = append(tools, map[string]interface{}{"functionDeclarations": declarations})
	}
	if len(tools) > 0 {
		payload["tools"] = tools
		if toolConfig := convertToolChoice(req.ToolChoice); toolConfig != nil {
			if generationConfig == nil {
				generationConfig = map[string]interface{}{}
				payload["generationConfig"] = generationConfig
			}
			generationConfig["toolConfig"] = map[string]interface{}{"functionCallingConfig": toolConfig}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal Gemini payload: %w", err)
	}

	logrus.Infof("RID-%s: prepared Gemini request for model %s", rid, req.Model)
	return &Prepared{
		URL:     targetURL,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// convertMessagesGemini maps chat messages onto REST contents. Roles map
// assistant to model and tool to function; anything else becomes user.
func convertMessagesGemini(msgs []models.ChatMessage, docContext string, extraParts []map[string]interface{}, rid string) []map[string]interface{} {
	var contents []map[string]interface{}

	for i, msg := range msgs {
		isLastUser := i == len(msgs)-1 && msg.Role == "user"

		var parts []map[string]interface{}
		appendText := func(text string) {
			if text != "" {
				parts = append(parts, map[string]interface{}{"text": text})
			}
		}
		switch msg.Type {
		case models.MessageSimpleText:
			appendText(msg.Content)
		case models.MessageParts:
			for _, part := range msg.Parts {
				switch part.Type {
				case models.PartText:
					appendText(part.Text)
				case models.PartInlineData:
					parts = append(parts, map[string]interface{}{
						"inlineData": map[string]interface{}{
							"mimeType": part.MimeType,
							"data":     part.Base64Data,
						},
					})
				case models.PartFileURI:
					if strings.HasPrefix(part.URI, "gs://") {
						parts = append(parts, map[string]interface{}{
							"fileData": map[string]interface{}{
								"mimeType": part.MimeType,
								"fileUri":  part.URI,
							},
						})
					} else {
						logrus.Warnf("RID-%s: skipping non-gs:// file URI %q for Gemini REST", rid, part.URI)
					}
				default:
					logrus.Warnf("RID-%s: skipping unknown part type %q in message %d", rid, part.Type, i)
				}
			}
		}

		if isLastUser {
			if docContext != "" {
				if len(parts) > 0 {
					if text, ok := parts[0]["text"].(string); ok {
						parts[0]["text"] = docContext + text
					} else {
						parts = append([]map[string]interface{}{{"text": docContext}}, parts...)
					}
				} else {
					parts = append(parts, map[string]interface{}{"text": docContext})
				}
			}
			parts = append(parts, extraParts...)
		}

		if len(parts) == 0 {
			logrus.Warnf("RID-%s: message from role %s at index %d produced no parts, skipping", rid, msg.Role, i)
			continue
		}

		role := msg.Role
		switch role {
		case "assistant":
			role = "model"
		case "tool":
			role = "function"
		}
		if role != "user" && role != "model" && role != "function" {
			logrus.Warnf("RID-%s: mapping role %q to user for Gemini contents", rid, msg.Role)
			role = "user"
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	return contents
}

// buildGenerationConfig merges nested generation config with the top-level
// sampling knobs; nested values win. The thinking budget is only honored on
// models that support it.
func buildGenerationConfig(req *models.ChatRequest) map[string]interface{} {
	out := map[string]interface{}{}
	if gc := req.GenerationConfig; gc != nil {
		if gc.Temperature != nil {
			out["temperature"] = *gc.Temperature
		}
		if gc.TopP != nil {
			out["topP"] = *gc.TopP
		}
		if gc.MaxOutputTokens != nil {
			out["maxOutputTokens"] = *gc.MaxOutputTokens
		}
		if tc := gc.ThinkingConfig; tc != nil {
			thinking := map[string]interface{}{}
			if tc.IncludeThoughts != nil {
				thinking["includeThoughts"] = *tc.IncludeThoughts
			}
			if tc.ThinkingBudget != nil && supportsThinkingBudget(req.Model) {
				thinking["thinkingBudget"] = *tc.ThinkingBudget
			}
			if len(thinking) > 0 {
				out["thinkingConfig"] = thinking
			}
		}
	}
	if _, ok := out["temperature"]; !ok && req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if _, ok := out["topP"]; !ok && req.TopP != nil {
		out["topP"] = *req.TopP
	}
	if _, ok := out["maxOutputTokens"]; !ok && req.MaxTokens != nil {
		out["maxOutputTokens"] = *req.MaxTokens
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func supportsThinkingBudget(model string) bool {
	model = strings.ToLower(model)
	return strings.Contains(model, "flash") || strings.Contains(model, "gemini-2.5")
}

// convertToolDeclarations rewrites OpenAI function tools into Gemini
// function declarations. Entries without a name and description are dropped.
func convertToolDeclarations(tools []map[string]interface{}) []map[string]interface{} {
	var declarations []map[string]interface{}
	for _, entry := range tools {
		if entry["type"] != "function" {
			continue
		}
		fn, ok := entry["function"].(map[string]interface{})
		if !ok {
			continue
		}
		declaration := map[string]interface{}{}
		for _, key := range []string{"name", "description", "parameters"} {
			if v, present := fn[key]; present && v != nil {
				declaration[key] = v
			}
		}
		if declaration["name"] != nil && declaration["description"] != nil {
			declarations = append(declarations, declaration)
		}
	}
	return declarations
}

// convertToolChoice maps the OpenAI tool_choice value to a Gemini function
// calling config. Returns nil when the value carries no usable constraint.
func convertToolChoice(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch strings.ToUpper(asString) {
		case "AUTO", "ANY", "NONE":
			return map[string]interface{}{"mode": strings.ToUpper(asString)}
		case "REQUIRED":
			return map[string]interface{}{"mode": "ANY"}
		}
		return nil
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil
	}
	if asObject["type"] != "function" {
		return nil
	}
	fn, ok := asObject["function"].(map[string]interface{})
	if !ok {
		return nil
	}
	name, _ := fn["name"].(string)
	if name == "" {
		return nil
	}
	return map[string]interface{}{"mode": "ANY", "allowedFunctionNames": []string{name}}
}
