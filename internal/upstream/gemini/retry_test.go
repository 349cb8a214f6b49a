package gemini

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryDelay_PrefersRetryAfterHeader(t *testing.T) {
	header := http.Header{"Retry-After": []string{"15"}}
	got := ParseRetryDelay(header, []byte(`{}`))
	if got != 15*time.Second {
		t.Fatalf("expected 15s from Retry-After, got %v", got)
	}
}

func TestParseRetryDelay_FallsBackToErrorDetailShape(t *testing.T) {
	body := []byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED",
		"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"21s"}]}}`)
	got := ParseRetryDelay(nil, body)
	if got != 21*time.Second {
		t.Fatalf("expected 21s from the error-detail shape, got %v", got)
	}
}

func TestParseRetryDelay_NoInformationReturnsZero(t *testing.T) {
	if got := ParseRetryDelay(nil, []byte(`{}`)); got != 0 {
		t.Fatalf("expected 0 with no retry information, got %v", got)
	}
}

func TestClassifyStatus_MapsStatusCodesToKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusUnauthorized, "", "UpstreamAuthError"},
		{http.StatusForbidden, "", "UpstreamAuthError"},
		{http.StatusTooManyRequests, "", "UpstreamRateLimitError"},
		{http.StatusInternalServerError, "", "UpstreamTransientError"},
		{http.StatusBadRequest, "quota exceeded for this model", "UpstreamRateLimitError"},
		{http.StatusBadRequest, "totally unrelated", "UnknownError"},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status, []byte(c.body)).String(); got != c.want {
			t.Errorf("ClassifyStatus(%d, %q) = %s, want %s", c.status, c.body, got, c.want)
		}
	}
}
