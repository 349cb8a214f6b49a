package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
)

type protocol int

const (
	protocolOpenAI protocol = iota
	protocolAnthropic
)

func protocolForPath(path string) protocol {
	if strings.HasPrefix(path, "/v1/messages") {
		return protocolAnthropic
	}
	return protocolOpenAI
}

// writeProtocolError renders an error envelope in the caller's expected
// shape: OpenAI error.type="server_error"/"invalid_request_error",
// Anthropic error.type="api_error"/"invalid_request_error", chosen by
// status code.
func writeProtocolError(w http.ResponseWriter, p protocol, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errType := "server_error"
	if status >= 400 && status < 500 {
		errType = "invalid_request_error"
	}
	if p == protocolAnthropic {
		if errType == "server_error" {
			errType = "api_error"
		} else {
			errType = "invalid_request_error"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": errType, "message": message},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"type": errType, "message": message},
	})
}
