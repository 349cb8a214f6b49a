package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sovereign-gateway/core/internal/translate"
)

func TestLastClaudeUserText_SkipsTrailingAssistantMessage(t *testing.T) {
	messages := []translate.ClaudeMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
	}
	if got := lastClaudeUserText(messages); got != "first" {
		t.Fatalf("expected the last user message, got %q", got)
	}
}

func TestHandleMessages_RejectsMissingModel(t *testing.T) {
	s := &Server{}
	body := strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	rec := httptest.NewRecorder()

	s.handleMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing model, got %d: %s", rec.Code, rec.Body.String())
	}
}
