// Package local dispatches to a user-run OpenAI-compatible inference
// server (Ollama, LM Studio): a thin client posting straight to an
// OpenAI-shaped /chat/completions endpoint, reusing
// internal/upstream/keyproxy's response-streaming helper.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/upstream/keyproxy"
)

// Client is the OpenAI-compatible local inference client. BaseURL and
// Model are resolved per-account: an account's Token.RefreshToken carries
// the base URL and Token.ProjectID carries the model id, reusing the
// Token struct's existing fields rather than adding local-only ones.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 120 * time.Second}}
}

// ChatCompletion posts an already-OpenAI-shaped request body to
// <baseURL>/chat/completions. Non-streaming and streaming share this one
// call; the caller decides whether to read the whole body or forward it
// as SSE chunk by chunk.
func (c *Client) ChatCompletion(ctx context.Context, baseURL string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "building local provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, "calling local provider", err)
	}
	return resp, nil
}

// ListModels fetches <baseURL>/models in the OpenAI model-list shape.
func (c *Client) ListModels(ctx context.Context, baseURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "building local model list request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, "listing local provider models", err)
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "decoding local provider model list", err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ForwardStream streams resp's body to w chunk by chunk, reusing the
// keyproxy package's flush-aware copy instead of a second implementation
// of the same thing.
func ForwardStream(w http.ResponseWriter, resp *http.Response) error {
	return keyproxy.CopyResponse(w, resp)
}

// ReadAll drains resp's body for the non-streaming path.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, "reading local provider response", err)
	}
	return data, nil
}
