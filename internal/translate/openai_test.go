package translate

import (
	"strings"
	"testing"
)

func TestOpenAIToGemini_SystemMessageBecomesLeadingUserContent(t *testing.T) {
	req := OpenAIChatRequest{
		Model: "gpt-4",
		Messages: []OpenAIMessage{
			{Role: "system", Text: "be terse"},
			{Role: "user", Text: "hello"},
		},
	}
	gr := OpenAIToGemini(req, "gemini-2.5-pro", "proj-1")
	if gr.Request.SystemInstruction == nil {
		t.Fatalf("expected a system instruction to be set")
	}
	if gr.Request.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("unexpected system instruction: %+v", gr.Request.SystemInstruction)
	}
	if len(gr.Request.Contents) != 1 || gr.Request.Contents[0].Role != "user" {
		t.Fatalf("expected exactly the user message in contents: %+v", gr.Request.Contents)
	}
}

func TestGeminiToOpenAI_FlattensTextAndSkipsThoughts(t *testing.T) {
	resp := map[string]interface{}{
		"candidates": []interface{}{map[string]interface{}{
			"content": map[string]interface{}{"parts": []interface{}{
				map[string]interface{}{"text": "secret reasoning", "thought": true},
				map[string]interface{}{"text": "visible answer"},
			}},
			"finishReason": "STOP",
		}},
	}
	out, err := GeminiToOpenAI(resp, "gpt-4")
	if err != nil {
		t.Fatalf("GeminiToOpenAI() error = %v", err)
	}
	if !strings.Contains(string(out), `"content":"visible answer"`) {
		t.Fatalf("expected only the non-thought text in output: %s", out)
	}
	if strings.Contains(string(out), "secret reasoning") {
		t.Fatalf("thought parts must not leak into the flattened response: %s", out)
	}
}
