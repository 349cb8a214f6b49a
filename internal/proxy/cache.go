package proxy

import (
	"context"
	"net/http"

	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/translate"
)

// checkCache looks up prompt against the exact-match cache first, falling
// back to a semantic (embedding-similarity) lookup. Embedding failure
// (Embed returning nil) just skips the semantic step — it is not treated
// as an error.
func (s *Server) checkCache(ctx context.Context, prompt string) *store.CacheResult {
	if prompt == "" {
		return nil
	}
	if hit, err := s.store.CacheFindExact(prompt); err == nil && hit != nil {
		return hit
	}
	if !s.embedClient.Enabled() {
		return nil
	}
	vec := s.embedClient.Embed(ctx, prompt)
	if vec == nil {
		return nil
	}
	hit, err := s.store.CacheFindSemantic(vec, store.DefaultSemanticThreshold)
	if err != nil {
		return nil
	}
	return hit
}

// saveCacheAsync writes the cache entry off the request's critical path;
// a cache write failure must never fail the response already sent to the
// caller.
func (s *Server) saveCacheAsync(prompt, responseText, model string) {
	if prompt == "" || responseText == "" {
		return
	}
	go func() {
		ctx := context.Background()
		var vec []float32
		if s.embedClient.Enabled() {
			vec = s.embedClient.Embed(ctx, prompt)
		}
		if err := s.store.CacheSave(prompt, vec, responseText, model); err != nil {
			s.log.Warn("cache save failed", "error", err)
		}
	}()
}

// writeCacheHit replies immediately from a cache hit, synthesizing a
// single-chunk stream when the caller asked for one.
func (s *Server) writeCacheHit(w http.ResponseWriter, p protocol, stream bool, model, text string) {
	if !stream {
		var out []byte
		var err error
		if p == protocolAnthropic {
			out, err = translate.GeminiToClaude(map[string]interface{}{
				"candidates": []interface{}{map[string]interface{}{
					"content":      map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": text}}},
					"finishReason": "STOP",
				}},
			}, model)
		} else {
			out, err = translate.GeminiToOpenAI(map[string]interface{}{
				"candidates": []interface{}{map[string]interface{}{
					"content":      map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": text}}},
					"finishReason": "STOP",
				}},
			}, model)
		}
		if err != nil {
			writeProtocolError(w, p, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(out)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	var events []translate.AnthropicEvent
	var chunks []translate.OpenAIChunkEvent
	if p == protocolAnthropic {
		events = translate.SyntheticAnthropicStream(text)
	} else {
		chunks = []translate.OpenAIChunkEvent{{Chunk: translate.SyntheticOpenAIChunk(model, text)}}
	}
	for _, e := range events {
		writeSSE(w, e)
	}
	for _, c := range chunks {
		writeSSE(w, c)
	}
	if p == protocolOpenAI {
		w.Write([]byte("data: [DONE]\n\n"))
	}
	if flusher != nil {
		flusher.Flush()
	}
}

type renderable interface {
	Render() ([]byte, error)
}

func writeSSE(w http.ResponseWriter, e renderable) {
	data, err := e.Render()
	if err != nil {
		return
	}
	w.Write(data)
}
