package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/sovereign-gateway/core/internal/translate"
)

// handleMessages implements POST /v1/messages in the Anthropic shape.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req translate.ClaudeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, protocolAnthropic, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		writeProtocolError(w, protocolAnthropic, "model is required", http.StatusBadRequest)
		return
	}

	s.dispatch(w, r, protocolAnthropic, dispatchRequest{
		RequestedModel:  req.Model,
		LastUserMessage: lastClaudeUserText(req.Messages),
		Stream:          req.Stream,
		BuildGeminiRequest: func(resolvedModel, projectID string) translate.GeminiRequest {
			return translate.ClaudeToGemini(req, resolvedModel, projectID)
		},
	})
}

func lastClaudeUserText(messages []translate.ClaudeMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
