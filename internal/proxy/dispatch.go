package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/logging"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/translate"
	"github.com/sovereign-gateway/core/internal/upstream/gemini"
	"github.com/sovereign-gateway/core/internal/upstream/local"
)

const maxAttempts = 3

var rateLimitPattern = regexp.MustCompile(`(?i)429|quota|limit|resource_exhausted`)

// rateLimitedError carries the upstream's own suggested retry delay
// (Retry-After header or Google's error-detail shape) alongside the
// taxonomy error, so the retry loop can wait at least that long before
// the next attempt instead of guessing with backoffDelay alone.
type rateLimitedError struct {
	Err        *errs.Error
	retryAfter time.Duration
}

func (r *rateLimitedError) Error() string { return r.Err.Error() }

// dispatchRequest is the protocol-agnostic shape chat.go and messages.go
// build before handing off to dispatch, which implements the
// retry-and-translate algorithm once for both callers.
type dispatchRequest struct {
	RequestedModel  string
	LastUserMessage string
	Stream          bool
	BuildGeminiRequest func(resolvedModel, projectID string) translate.GeminiRequest
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, p protocol, req dispatchRequest) {
	ctx := r.Context()
	log := logging.WithRequest(ctx, s.log)
	resolvedModel := translate.ResolveModel(req.RequestedModel)

	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			if retryAfter > delay {
				delay = retryAfter
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		retryAfter = 0

		account, err := s.manager.GetNext(ctx, req.RequestedModel)
		if err != nil {
			writeProtocolError(w, p, "account selection failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if account == nil {
			writeProtocolError(w, p, "No available accounts for model "+req.RequestedModel, http.StatusInternalServerError)
			return
		}

		if strings.HasPrefix(account.Provider, "local-") {
			s.dispatchLocal(ctx, w, p, *account, req)
			return
		}

		if hit := s.checkCache(ctx, req.LastUserMessage); hit != nil {
			s.writeCacheHit(w, p, req.Stream, resolvedModel, hit.ResponseText)
			return
		}

		err = s.dispatchGemini(ctx, w, p, *account, resolvedModel, req)
		if err == nil {
			return
		}
		lastErr = err
		if rle, ok := err.(*rateLimitedError); ok {
			retryAfter = rle.retryAfter
		}
		if rateLimitPattern.MatchString(err.Error()) {
			s.manager.MarkRateLimited(account.Email)
			log.Warn("upstream rate limited, retrying", "account_id", account.ID, "attempt", attempt, "upstream_retry_after", retryAfter)
			continue
		}
		writeProtocolError(w, p, err.Error(), http.StatusBadGateway)
		return
	}

	writeProtocolError(w, p, "No available accounts: "+safeErr(lastErr), http.StatusInternalServerError)
}

func safeErr(err error) string {
	if err == nil {
		return "exhausted retries"
	}
	return err.Error()
}

// dispatchGemini translates req into the Gemini shape, calls upstream,
// translates the response back, and fire-and-forget saves the cache
// entry on success.
func (s *Server) dispatchGemini(ctx context.Context, w http.ResponseWriter, p protocol, account store.Account, resolvedModel string, req dispatchRequest) error {
	geminiReq := req.BuildGeminiRequest(resolvedModel, account.Token.ProjectID)
	payload := map[string]interface{}{"model": geminiReq.Model, "project": geminiReq.Project, "request": geminiReq.Request}

	if req.Stream {
		return s.streamGemini(ctx, w, p, account, resolvedModel, payload, req.LastUserMessage)
	}

	callCtx, cancel := context.WithTimeout(ctx, nonStreamTimeout)
	defer cancel()
	resp, err := s.geminiClient.SmartGenerateContent(callCtx, account.Token.AccessToken, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindUpstreamTransient, "reading upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := gemini.ClassifyStatus(resp.StatusCode, raw)
		underlying := errs.New(kind, "upstream returned "+http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusTooManyRequests {
			return &rateLimitedError{Err: underlying, retryAfter: gemini.ParseRetryDelay(resp.Header, raw)}
		}
		return underlying
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return errs.Wrap(errs.KindProtocol, "decoding upstream response", err)
	}

	var out []byte
	var text string
	if p == protocolAnthropic {
		out, err = translate.GeminiToClaude(body, resolvedModel)
		text = extractText(body)
	} else {
		out, err = translate.GeminiToOpenAI(body, resolvedModel)
		text = extractText(body)
	}
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "translating upstream response", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(out)

	s.saveCacheAsync(req.LastUserMessage, text, resolvedModel)
	return nil
}

func extractText(geminiResp map[string]interface{}) string {
	respData, ok := geminiResp["response"].(map[string]interface{})
	if !ok {
		respData = geminiResp
	}
	var text string
	candidates, _ := respData["candidates"].([]interface{})
	if len(candidates) == 0 {
		return ""
	}
	candidate, _ := candidates[0].(map[string]interface{})
	content, _ := candidate["content"].(map[string]interface{})
	parts, _ := content["parts"].([]interface{})
	for _, p := range parts {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if thought, _ := pm["thought"].(bool); thought {
			continue
		}
		if t, ok := pm["text"].(string); ok {
			text += t
		}
	}
	return text
}

// dispatchLocal forwards to a user-run OpenAI-compatible server, wrapping
// the response into the caller's expected shape.
func (s *Server) dispatchLocal(ctx context.Context, w http.ResponseWriter, p protocol, account store.Account, req dispatchRequest) {
	callCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	baseURL := account.Token.RefreshToken // local-provider accounts overload this field as the base URL
	model := account.Token.ProjectID      // and this one as the model id

	body, _ := json.Marshal(map[string]interface{}{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": req.LastUserMessage}},
		"stream":   req.Stream,
	})

	resp, err := s.localClient.ChatCompletion(callCtx, baseURL, body)
	if err != nil {
		writeProtocolError(w, p, err.Error(), http.StatusBadGateway)
		return
	}

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		if p == protocolAnthropic {
			if err := s.streamLocalAsAnthropic(w, resp); err != nil {
				s.log.Warn("local provider stream forwarding failed", "error", err)
			}
			return
		}
		if err := local.ForwardStream(w, resp); err != nil {
			s.log.Warn("local provider stream forwarding failed", "error", err)
		}
		return
	}

	data, err := local.ReadAll(resp)
	if err != nil {
		writeProtocolError(w, p, err.Error(), http.StatusBadGateway)
		return
	}

	if p == protocolOpenAI {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	var openaiResp translate.OpenAIChatResponse
	if err := json.Unmarshal(data, &openaiResp); err != nil || len(openaiResp.Choices) == 0 {
		writeProtocolError(w, p, "local provider returned malformed response", http.StatusBadGateway)
		return
	}
	claudeBody, _ := json.Marshal(map[string]interface{}{
		"id": "msg_local", "type": "message", "role": "assistant", "model": model,
		"content":     []map[string]string{{"type": "text", "text": openaiResp.Choices[0].Message.Content}},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": openaiResp.Usage.PromptTokens, "output_tokens": openaiResp.Usage.CompletionTokens},
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(claudeBody)
}
