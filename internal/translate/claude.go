package translate

import "encoding/json"

// ClaudeRequest is the Anthropic /v1/messages request shape this gateway
// accepts.
type ClaudeRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []ClaudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
	Tools     []ClaudeTool    `json:"tools,omitempty"`
}

type ClaudeTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type ClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ClaudeResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Role       string               `json:"role"`
	Model      string               `json:"model"`
	Content    []ClaudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      ClaudeUsage          `json:"usage"`
}

type ClaudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeToGemini builds the upstream Gemini request from an Anthropic
// messages request. A system message becomes a synthetic "[System]: ..."
// user-role message rather than Gemini's systemInstruction field, which
// behaves inconsistently for premium models.
func ClaudeToGemini(req ClaudeRequest, resolvedModel, projectID string) GeminiRequest {
	var contents []GeminiContent
	if req.System != "" {
		contents = append(contents, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: "[System]: " + req.System}}})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: m.Content}}})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var tools []ToolDefinition
	for _, t := range req.Tools {
		tools = append(tools, ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	return GeminiRequest{
		Model:   resolvedModel,
		Project: projectID,
		Request: GeminiRequestPayload{
			Contents:         contents,
			GenerationConfig: &GeminiGenerationConfig{MaxOutputTokens: &maxTokens},
			Tools:            ConvertToolsToGemini(tools),
		},
	}
}

// GeminiToClaude flattens a (possibly SSE-merged) Gemini response into a
// single Anthropic message response.
func GeminiToClaude(geminiResp map[string]interface{}, model string) ([]byte, error) {
	respData, ok := geminiResp["response"].(map[string]interface{})
	if !ok {
		respData = geminiResp
	}

	var blocks []ClaudeContentBlock
	stopReason := "end_turn"
	var outputTokens int

	if candidates, ok := respData["candidates"].([]interface{}); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]interface{}); ok {
			if fr, ok := candidate["finishReason"].(string); ok && fr == "MAX_TOKENS" {
				stopReason = "max_tokens"
			}
			if content, ok := candidate["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok {
					for _, p := range parts {
						pm, ok := p.(map[string]interface{})
						if !ok {
							continue
						}
						if thought, _ := pm["thought"].(bool); thought {
							continue
						}
						if t, ok := pm["text"].(string); ok {
							blocks = append(blocks, ClaudeContentBlock{Type: "text", Text: t})
						}
					}
				}
			}
		}
	}
	if um, ok := respData["usageMetadata"].(map[string]interface{}); ok {
		outputTokens = intFromAny(um["candidatesTokenCount"])
	}
	if len(blocks) == 0 {
		blocks = []ClaudeContentBlock{{Type: "text", Text: ""}}
	}

	out := ClaudeResponse{
		ID:         "msg_" + shortID(blocks[0].Text),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: stopReason,
		Usage:      ClaudeUsage{OutputTokens: outputTokens},
	}
	return json.Marshal(out)
}
