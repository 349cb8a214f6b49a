package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/translate"
	"github.com/sovereign-gateway/core/internal/upstream/gemini"
)

// streamGemini drives one upstream streamGenerateContent call and relays
// translated SSE frames to the client as they arrive. The first byte
// written commits the response, so any upstream error discovered after
// that point can only be logged, not
// turned into a retry.
func (s *Server) streamGemini(ctx context.Context, w http.ResponseWriter, p protocol, account store.Account, resolvedModel string, payload map[string]interface{}, promptText string) error {
	resp, err := s.geminiClient.SmartStreamGenerateContent(ctx, account.Token.AccessToken, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		kind := gemini.ClassifyStatus(resp.StatusCode, raw)
		underlying := errs.New(kind, "upstream returned "+http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusTooManyRequests {
			return &rateLimitedError{Err: underlying, retryAfter: gemini.ParseRetryDelay(resp.Header, raw)}
		}
		return underlying
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)

	var fullText string
	if p == protocolAnthropic {
		fullText, err = s.streamAnthropic(w, flusher, resp)
	} else {
		fullText, err = s.streamOpenAI(w, flusher, resp, resolvedModel)
	}
	if err != nil {
		s.log.Warn("stream ended with error", "error", err)
		return nil
	}

	s.saveCacheAsync(promptText, fullText, resolvedModel)
	return nil
}

func (s *Server) streamAnthropic(w http.ResponseWriter, flusher http.Flusher, resp *http.Response) (string, error) {
	proc := translate.NewPartProcessor()
	var parseErrs []error
	var fullText strings.Builder
	err := translate.ScanGeminiSSE(resp.Body, func(chunk map[string]interface{}) {
		fullText.WriteString(extractText(chunk))
		for _, ev := range proc.ProcessEvent(chunk) {
			writeSSE(w, ev)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}, func(perr error) {
		parseErrs = append(parseErrs, perr)
	})
	if err != nil {
		return "", err
	}
	tail, ferr := proc.Finish()
	if ferr != nil {
		return "", ferr
	}
	for _, ev := range tail {
		writeSSE(w, ev)
	}
	if flusher != nil {
		flusher.Flush()
	}
	return fullText.String(), nil
}

func (s *Server) streamOpenAI(w http.ResponseWriter, flusher http.Flusher, resp *http.Response, model string) (string, error) {
	state := &translate.OpenAIStreamState{Model: model}
	var fullText strings.Builder
	err := translate.ScanGeminiSSE(resp.Body, func(chunk map[string]interface{}) {
		fullText.WriteString(extractText(chunk))
		if ch := state.ProcessEvent(chunk); ch != nil {
			writeSSE(w, translate.OpenAIChunkEvent{Chunk: *ch})
			if flusher != nil {
				flusher.Flush()
			}
		}
	}, nil)
	if err != nil {
		return "", err
	}
	final, ferr := state.Finish()
	if ferr != nil {
		return "", ferr
	}
	writeSSE(w, translate.OpenAIChunkEvent{Chunk: *final})
	w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
	return fullText.String(), nil
}

type localStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// streamLocalAsAnthropic re-wraps a local provider's OpenAI-shaped SSE
// stream into the Anthropic event sequence, one content_block_delta per
// upstream delta, reusing the same PartProcessor that drives the Gemini
// streaming path.
func (s *Server) streamLocalAsAnthropic(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()
	flusher, _ := w.(http.Flusher)
	proc := translate.NewPartProcessor()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk localStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		events := proc.ProcessEvent(map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{
				"content": map[string]interface{}{"parts": []interface{}{
					map[string]interface{}{"text": chunk.Choices[0].Delta.Content},
				}},
			}},
		})
		for _, ev := range events {
			writeSSE(w, ev)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	tail, err := proc.Finish()
	if err != nil {
		return err
	}
	for _, ev := range tail {
		writeSSE(w, ev)
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
