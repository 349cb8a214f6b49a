package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sovereign-gateway/core/internal/translate"
)

func TestLastUserText_SkipsTrailingAssistantMessage(t *testing.T) {
	messages := []translate.OpenAIMessage{
		{Role: "user", Text: "first"},
		{Role: "assistant", Text: "reply"},
	}
	if got := lastUserText(messages); got != "first" {
		t.Fatalf("expected the last user message, got %q", got)
	}
}

func TestLastUserText_NoUserMessageReturnsEmpty(t *testing.T) {
	messages := []translate.OpenAIMessage{{Role: "assistant", Text: "reply"}}
	if got := lastUserText(messages); got != "" {
		t.Fatalf("expected empty string with no user message, got %q", got)
	}
}

func TestHandleChatCompletions_RejectsMissingModel(t *testing.T) {
	s := &Server{}
	body := strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing model, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChatCompletions_RejectsMalformedJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}
