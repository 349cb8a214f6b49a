// Package embed calls the text-embedding-004 endpoint that backs the
// semantic cache's vector lookup. It reuses internal/upstream/keyproxy's
// query-param key injection since this endpoint, unlike the Cloud-Code
// ones, authenticates with a key query parameter rather than an OAuth
// bearer token.
package embed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sovereign-gateway/core/internal/upstream/keyproxy"
)

const endpoint = "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent"

type Client struct {
	httpClient *http.Client
	apiKey     string
}

func NewClient(apiKey string) *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}, apiKey: apiKey}
}

// Enabled reports whether an API key is configured; callers should treat
// an unconfigured embedder as "skip this step, not fatal."
func (c *Client) Enabled() bool { return c.apiKey != "" }

type embedRequest struct {
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the unit-normalised embedding vector for text, or nil if
// the call fails — embedding failure skips the semantic-cache step rather
// than failing the request.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	if !c.Enabled() {
		return nil
	}

	var reqBody embedRequest
	reqBody.Content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return nil
	}
	req, err := keyproxy.BuildUpstreamRequest(ctx, http.MethodPost, target, url.Values{}, http.Header{"Content-Type": {"application/json"}}, payload, c.apiKey)
	if err != nil {
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	return out.Embedding.Values
}
