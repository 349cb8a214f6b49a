package proxy

import (
	"errors"
	"testing"
	"time"

	"github.com/sovereign-gateway/core/internal/errs"
)

func TestRateLimitPattern_MatchesUpstreamRateLimitKind(t *testing.T) {
	err := errs.New(errs.KindUpstreamRateLimit, "upstream returned Too Many Requests")
	if !rateLimitPattern.MatchString(err.Error()) {
		t.Fatalf("expected rate-limit pattern to match KindUpstreamRateLimit text, got %q", err.Error())
	}
}

func TestRateLimitPattern_DoesNotMatchAuthOrTransient(t *testing.T) {
	for _, kind := range []errs.Kind{errs.KindUpstreamAuth, errs.KindProtocol} {
		err := errs.New(kind, "something unrelated happened")
		if rateLimitPattern.MatchString(err.Error()) {
			t.Fatalf("expected no match for %v, got %q", kind, err.Error())
		}
	}
}

func TestSafeErr_NilBecomesExhaustedRetries(t *testing.T) {
	if got := safeErr(nil); got != "exhausted retries" {
		t.Fatalf("expected sentinel text for nil error, got %q", got)
	}
}

func TestSafeErr_WrapsUnderlyingMessage(t *testing.T) {
	err := errors.New("boom")
	if got := safeErr(err); got != "boom" {
		t.Fatalf("expected underlying message, got %q", got)
	}
}

func TestExtractText_SkipsThoughtParts(t *testing.T) {
	resp := map[string]interface{}{
		"candidates": []interface{}{map[string]interface{}{
			"content": map[string]interface{}{"parts": []interface{}{
				map[string]interface{}{"text": "hidden", "thought": true},
				map[string]interface{}{"text": "shown"},
			}},
		}},
	}
	if got := extractText(resp); got != "shown" {
		t.Fatalf("expected only non-thought text, got %q", got)
	}
}

func TestExtractText_EmptyCandidatesReturnsEmptyString(t *testing.T) {
	if got := extractText(map[string]interface{}{"candidates": []interface{}{}}); got != "" {
		t.Fatalf("expected empty string for no candidates, got %q", got)
	}
}

func TestRateLimitedError_CarriesRetryAfterAndSatisfiesErrorInterface(t *testing.T) {
	var err error = &rateLimitedError{
		Err:        errs.New(errs.KindUpstreamRateLimit, "upstream returned Too Many Requests"),
		retryAfter: 30 * time.Second,
	}
	if !rateLimitPattern.MatchString(err.Error()) {
		t.Fatalf("expected the rate-limit pattern to still match through the wrapper, got %q", err.Error())
	}
	rle, ok := err.(*rateLimitedError)
	if !ok {
		t.Fatalf("expected a *rateLimitedError")
	}
	if rle.retryAfter != 30*time.Second {
		t.Fatalf("expected the retry-after to round-trip, got %v", rle.retryAfter)
	}
}

func TestExtractText_UnwrapsNestedResponseEnvelope(t *testing.T) {
	resp := map[string]interface{}{
		"response": map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{
				"content": map[string]interface{}{"parts": []interface{}{
					map[string]interface{}{"text": "nested"},
				}},
			}},
		},
	}
	if got := extractText(resp); got != "nested" {
		t.Fatalf("expected text from the nested response envelope, got %q", got)
	}
}
