// Package translate is the bidirectional wire-format mapper between the
// OpenAI chat-completions shape, the Anthropic messages shape, and
// Gemini's internal Cloud-Code request/response shape, plus the SSE
// state machine that streams the Gemini reply back out in either
// caller-facing protocol, using explicit tagged-union event types rather
// than a free-form map[string]interface{} intermediate shape.
package translate

import "strings"

// ResolveModel maps a caller-requested model name to the upstream Gemini
// model via a small case-insensitive substring table. Local-provider
// accounts never reach this — their upstream model is the account's own
// stored model identifier.
func ResolveModel(requested string) string {
	lower := strings.ToLower(requested)
	switch {
	case strings.Contains(lower, "sonnet"), strings.Contains(lower, "thinking"), strings.Contains(lower, "opus"):
		return "gemini-3-pro-preview"
	case strings.Contains(lower, "haiku"):
		return "gemini-2.0-flash-exp"
	case strings.Contains(lower, "claude"):
		return "gemini-2.5-flash-thinking"
	default:
		return requested
	}
}

// generateToolUseID mints an Anthropic-shaped tool_use id when the
// upstream Gemini functionCall part carries none, keeping tool-call ids
// stable within one response.
func generateToolUseID(seed int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 24)
	n := seed
	for i := range b {
		n = n*1103515245 + 12345
		b[i] = alphabet[(n>>16)&0x3f%len(alphabet)]
	}
	return "toolu_" + string(b)
}
