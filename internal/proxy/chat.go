package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/sovereign-gateway/core/internal/translate"
)

// handleChatCompletions implements POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req translate.OpenAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, protocolOpenAI, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		writeProtocolError(w, protocolOpenAI, "model is required", http.StatusBadRequest)
		return
	}

	s.dispatch(w, r, protocolOpenAI, dispatchRequest{
		RequestedModel:  req.Model,
		LastUserMessage: lastUserText(req.Messages),
		Stream:          req.Stream,
		BuildGeminiRequest: func(resolvedModel, projectID string) translate.GeminiRequest {
			return translate.OpenAIToGemini(req, resolvedModel, projectID)
		},
	})
}

func lastUserText(messages []translate.OpenAIMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text
		}
	}
	return ""
}
