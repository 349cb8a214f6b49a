package translate

import (
	"encoding/json"
	"fmt"
)

// OpenAIChatRequest is the subset of the chat-completions request body
// this gateway forwards upstream.
type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
}

type OpenAITool struct {
	Type     string                 `json:"type"`
	Function OpenAIFunctionDef      `json:"function"`
}

type OpenAIFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIMessage's Content may be a bare string or an array of multimodal
// content parts; UnmarshalJSON normalizes both into Text.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Text    string `json:"-"`
	RawJSON json.RawMessage
}

func (m *OpenAIMessage) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	m.Role = probe.Role
	m.RawJSON = data

	var asString string
	if err := json.Unmarshal(probe.Content, &asString); err == nil {
		m.Text = asString
		return nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(probe.Content, &parts); err == nil {
		var buf []byte
		for _, p := range parts {
			if p.Type == "text" {
				buf = append(buf, []byte(p.Text)...)
			}
		}
		m.Text = string(buf)
		return nil
	}
	return nil
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessageOut `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIMessageOut struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIStreamChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
}

type OpenAIStreamChoice struct {
	Index        int              `json:"index"`
	Delta        OpenAIMessageOut `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

// OpenAIToGemini builds the upstream Gemini request from an OpenAI chat
// request already resolved to an upstream model name and project id.
func OpenAIToGemini(req OpenAIChatRequest, resolvedModel, projectID string) GeminiRequest {
	var contents []GeminiContent
	var system *GeminiContent
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = &GeminiContent{Role: "user", Parts: []GeminiPart{{Text: m.Text}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: m.Text}}})
	}

	var tools []ToolDefinition
	for _, t := range req.Tools {
		tools = append(tools, ToolDefinition{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}

	return GeminiRequest{
		Model:   resolvedModel,
		Project: projectID,
		Request: GeminiRequestPayload{
			Contents:          contents,
			SystemInstruction: system,
			GenerationConfig:  buildGenerationConfig(req.Temperature, req.TopP, req.MaxTokens),
			Tools:             ConvertToolsToGemini(tools),
		},
	}
}

func buildGenerationConfig(temperature, topP *float64, maxTokens *int) *GeminiGenerationConfig {
	if temperature == nil && topP == nil && maxTokens == nil {
		return nil
	}
	return &GeminiGenerationConfig{Temperature: temperature, TopP: topP, MaxOutputTokens: maxTokens}
}

// GeminiToOpenAI flattens a (possibly SSE-merged) Gemini response into a
// single OpenAI chat-completion body. Handles both the nested
// response.candidates Cloud-Code shape and a direct candidates shape.
func GeminiToOpenAI(geminiResp map[string]interface{}, model string) ([]byte, error) {
	respData, ok := geminiResp["response"].(map[string]interface{})
	if !ok {
		respData = geminiResp
	}

	var text string
	finishReason := "stop"
	if candidates, ok := respData["candidates"].([]interface{}); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]interface{}); ok {
			if fr, ok := candidate["finishReason"].(string); ok && fr != "" {
				finishReason = mapFinishReason(fr)
			}
			if content, ok := candidate["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok {
					for _, p := range parts {
						if pm, ok := p.(map[string]interface{}); ok {
							if thought, _ := pm["thought"].(bool); thought {
								continue
							}
							if t, ok := pm["text"].(string); ok {
								text += t
							}
						}
					}
				}
			}
		}
	}

	usage := OpenAIUsage{}
	if um, ok := respData["usageMetadata"].(map[string]interface{}); ok {
		usage.PromptTokens = intFromAny(um["promptTokenCount"])
		usage.CompletionTokens = intFromAny(um["candidatesTokenCount"])
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	out := OpenAIChatResponse{
		ID:     "chatcmpl-" + shortID(text),
		Object: "chat.completion",
		Model:  model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      OpenAIMessageOut{Role: "assistant", Content: text},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
	return json.Marshal(out)
}

func mapFinishReason(geminiReason string) string {
	switch geminiReason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return "stop"
	}
}

func intFromAny(v interface{}) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func shortID(seed string) string {
	return fmt.Sprintf("%x", len(seed))
}
