// Package gemini is the upstream client for Google's internal Cloud-Code
// API: an ordered base-URL fallback list, premium-model request
// enhancement, and SSE-merge logic for models that only serve streaming
// responses, all wired through context cancellation, structured logging,
// and the shared error taxonomy.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/util"
)

var rateLimitPattern = regexp.MustCompile(`(?i)429|quota|limit|resource_exhausted`)

// BaseURLs is the ordered endpoint fallback list (daily -> prod -> sandbox),
// tried in order by doRequestWithFallback on 429/403/5xx.
var BaseURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
}

const (
	// UserAgent must match a real Antigravity build for the upstream to
	// accept the connection.
	UserAgent = "antigravity/1.11.9 windows/amd64"

	antigravitySystemInstruction = "You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.**Absolute paths only****Proactiveness**"
)

var ClientMetadata = map[string]string{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// Client talks to the Cloud-Code API on behalf of one request at a time;
// it carries no per-account state.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(log *slog.Logger, upstreamProxyURL string) (*Client, error) {
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	if upstreamProxyURL != "" {
		proxyURL, err := url.Parse(upstreamProxyURL)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, "parsing upstream proxy url", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return &Client{httpClient: httpClient, log: log}, nil
}

func isPremiumModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "claude") || strings.Contains(lower, "gemini-3-pro")
}

// SmartGenerateContent routes premium models through the streaming
// endpoint and merges the SSE into one JSON body, since those models
// reject the plain generateContent call; others go direct.
func (c *Client) SmartGenerateContent(ctx context.Context, accessToken string, payload map[string]interface{}) (*http.Response, error) {
	model, _ := payload["model"].(string)

	if isPremiumModel(model) {
		c.enhanceForPremiumModel(payload)
		resp, err := c.doRequestWithFallback(ctx, "streamGenerateContent", "alt=sse", accessToken, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return resp, nil
		}
		mergedBody, err := c.consumeAndMergeSSE(resp)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamTransient, "merging premium model SSE stream", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(mergedBody)),
			Header:     resp.Header,
		}, nil
	}

	c.ensureToolConfig(payload)
	return c.doRequestWithFallback(ctx, "generateContent", "", accessToken, payload)
}

func (c *Client) enhanceForPremiumModel(payload map[string]interface{}) {
	req, ok := payload["request"].(map[string]interface{})
	if !ok {
		return
	}
	if _, exists := req["sessionId"]; !exists {
		req["sessionId"] = fmt.Sprintf("-%d", rand.Int63n(9_000_000_000_000_000_000))
	}
	if _, exists := req["toolConfig"]; !exists {
		req["toolConfig"] = map[string]interface{}{
			"functionCallingConfig": map[string]interface{}{"mode": "VALIDATED"},
		}
	}
	if _, exists := req["systemInstruction"]; !exists {
		req["systemInstruction"] = map[string]interface{}{
			"role": "user",
			"parts": []interface{}{
				map[string]interface{}{"text": antigravitySystemInstruction},
				map[string]interface{}{"text": fmt.Sprintf("Please ignore following [ignore]%s[/ignore]", antigravitySystemInstruction)},
			},
		}
	}
}

func (c *Client) ensureToolConfig(payload map[string]interface{}) {
	req, ok := payload["request"].(map[string]interface{})
	if !ok {
		return
	}
	if _, exists := req["toolConfig"]; !exists {
		req["toolConfig"] = map[string]interface{}{
			"functionCallingConfig": map[string]interface{}{"mode": "VALIDATED"},
		}
	}
}

// consumeAndMergeSSE folds a Gemini SSE stream into one JSON response,
// preserving every part type (text, functionCall, inlineData, thought,
// thoughtSignature) the part-processor later needs to see.
func (c *Client) consumeAndMergeSSE(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var lastResponse map[string]interface{}
	var allParts []map[string]interface{}
	var textBuffer strings.Builder
	var currentIsText bool
	var traceID string
	var finishReason string
	var usageMetadata map[string]interface{}
	var role string

	flushText := func() {
		if textBuffer.Len() > 0 {
			allParts = append(allParts, map[string]interface{}{"text": textBuffer.String()})
			textBuffer.Reset()
		}
		currentIsText = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if tid, ok := chunk["traceId"].(string); ok && tid != "" {
			traceID = tid
		}

		respData, ok := chunk["response"].(map[string]interface{})
		if !ok {
			respData = chunk
		}
		lastResponse = chunk

		if usage, ok := respData["usageMetadata"].(map[string]interface{}); ok {
			usageMetadata = usage
		}

		candidates, ok := respData["candidates"].([]interface{})
		if !ok || len(candidates) == 0 {
			continue
		}
		candidate, ok := candidates[0].(map[string]interface{})
		if !ok {
			continue
		}
		if fr, ok := candidate["finishReason"].(string); ok && fr != "" {
			finishReason = fr
		}
		content, ok := candidate["content"].(map[string]interface{})
		if !ok {
			continue
		}
		if r, ok := content["role"].(string); ok && r != "" {
			role = r
		}
		parts, ok := content["parts"].([]interface{})
		if !ok {
			continue
		}

		for _, part := range parts {
			p, ok := part.(map[string]interface{})
			if !ok {
				continue
			}
			hasFunctionCall := p["functionCall"] != nil
			hasInlineData := p["inlineData"] != nil || p["inline_data"] != nil
			hasThought, _ := p["thought"].(bool)

			if hasFunctionCall || hasInlineData {
				flushText()
				if inlineData, ok := p["inline_data"]; ok {
					p["inlineData"] = inlineData
					delete(p, "inline_data")
				}
				allParts = append(allParts, p)
				continue
			}
			if text, ok := p["text"].(string); ok {
				if hasThought {
					flushText()
					allParts = append(allParts, p)
				} else {
					if !currentIsText && textBuffer.Len() > 0 {
						flushText()
					}
					textBuffer.WriteString(text)
					currentIsText = true
				}
				continue
			}
			if sig, ok := p["thoughtSignature"].(string); ok && sig != "" {
				flushText()
				allParts = append(allParts, p)
				continue
			}
			flushText()
			allParts = append(allParts, p)
		}
	}
	flushText()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning sse stream: %w", err)
	}

	if lastResponse == nil {
		return []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":""}],"role":"model"}}]}}`), nil
	}
	if len(allParts) == 0 {
		allParts = []map[string]interface{}{{"text": ""}}
	}
	partsInterface := make([]interface{}, len(allParts))
	for i, p := range allParts {
		partsInterface[i] = p
	}

	if respData, ok := lastResponse["response"].(map[string]interface{}); ok {
		if candidates, ok := respData["candidates"].([]interface{}); ok && len(candidates) > 0 {
			if candidate, ok := candidates[0].(map[string]interface{}); ok {
				if content, ok := candidate["content"].(map[string]interface{}); ok {
					content["parts"] = partsInterface
					if role != "" {
						content["role"] = role
					}
				}
				if finishReason != "" {
					candidate["finishReason"] = finishReason
				}
			}
		}
		if usageMetadata != nil {
			respData["usageMetadata"] = usageMetadata
		}
	}
	if traceID != "" {
		lastResponse["traceId"] = traceID
	}
	return json.Marshal(lastResponse)
}

// SmartStreamGenerateContent applies the same premium-model enhancement
// as SmartGenerateContent but returns the raw SSE response for the caller
// to translate chunk by chunk.
func (c *Client) SmartStreamGenerateContent(ctx context.Context, accessToken string, payload map[string]interface{}) (*http.Response, error) {
	model, _ := payload["model"].(string)
	if isPremiumModel(model) {
		c.enhanceForPremiumModel(payload)
	} else {
		c.ensureToolConfig(payload)
	}
	return c.doRequestWithFallback(ctx, "streamGenerateContent", "alt=sse", accessToken, payload)
}

func (c *Client) FetchAvailableModels(ctx context.Context, accessToken string) (*http.Response, error) {
	url := fmt.Sprintf("%s:fetchAvailableModels", BaseURLs[0])
	return c.doRequest(ctx, "POST", url, accessToken, map[string]interface{}{})
}

// LoadCodeAssist resolves the Cloud-Code project id for accessToken,
// falling back to an env var or a hard-coded default on any failure —
// this is wired as the token manager's ProjectIDFetcher.
func (c *Client) LoadCodeAssist(ctx context.Context, accessToken string) (string, error) {
	url := fmt.Sprintf("%s:loadCodeAssist", BaseURLs[0])
	resp, err := c.doRequest(ctx, "POST", url, accessToken, map[string]interface{}{
		"metadata": map[string]string{"ideType": "ANTIGRAVITY"},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Config struct {
			ProjectID string `json:"projectId"`
		} `json:"codeAssistConfig"`
	}

	defaultID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if defaultID == "" {
		defaultID = os.Getenv("DEFAULT_PROJECT_ID")
	}
	if defaultID == "" {
		defaultID = "bamboo-precept-lgxtn"
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return defaultID, nil
	}
	if result.Config.ProjectID != "" {
		return result.Config.ProjectID, nil
	}
	return defaultID, nil
}

// EnsureRequestFormat adds the userAgent/requestType fields every call
// needs, and a toolConfig only when tools are actually present — adding
// it unconditionally causes gemini-3-pro to answer with 429s.
func EnsureRequestFormat(payload map[string]interface{}) {
	if _, ok := payload["userAgent"]; !ok {
		payload["userAgent"] = "antigravity"
	}
	if _, ok := payload["requestType"]; !ok {
		payload["requestType"] = "agent"
	}

	req, ok := payload["request"].(map[string]interface{})
	if !ok {
		return
	}
	hasTools := false
	if tools, ok := req["tools"].([]interface{}); ok && len(tools) > 0 {
		hasTools = true
	}
	if !hasTools {
		return
	}
	toolConfig, ok := req["toolConfig"].(map[string]interface{})
	if !ok {
		req["toolConfig"] = map[string]interface{}{
			"functionCallingConfig": map[string]interface{}{"mode": "VALIDATED"},
		}
		return
	}
	fcc, ok := toolConfig["functionCallingConfig"].(map[string]interface{})
	if !ok {
		toolConfig["functionCallingConfig"] = map[string]interface{}{"mode": "VALIDATED"}
		return
	}
	fcc["mode"] = "VALIDATED"
}

func (c *Client) doRequestWithFallback(ctx context.Context, method, queryString, accessToken string, payload interface{}) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	if payloadMap, ok := payload.(map[string]interface{}); ok {
		EnsureRequestFormat(payloadMap)
	}

	for i, baseURL := range BaseURLs {
		var url string
		if queryString != "" {
			url = fmt.Sprintf("%s:%s?%s", baseURL, method, queryString)
		} else {
			url = fmt.Sprintf("%s:%s", baseURL, method)
		}

		resp, err := c.doRequest(ctx, "POST", url, accessToken, payload)
		if err != nil {
			lastErr = err
			c.log.Warn("upstream endpoint failed", "endpoint_index", i, "base_url", baseURL, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if i > 0 {
				c.log.Info("recovered via fallback endpoint", "endpoint_index", i)
			}
			return resp, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500 {
			c.log.Warn("upstream endpoint returned retriable status", "endpoint_index", i, "status", resp.StatusCode)
			lastResp = resp
			lastErr = fmt.Errorf("endpoint %d returned %d", i, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, errs.Wrap(errs.KindUpstreamTransient, "all fallback endpoints failed", lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, url, accessToken string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.Wrap(errs.KindProtocol, "marshaling upstream payload", err)
		}
		body = bytes.NewBuffer(jsonData)
		if c.log.Enabled(ctx, slog.LevelDebug) {
			c.log.Debug("gemini request payload", "url", url, "payload", util.TruncateBytes(jsonData))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "building upstream request", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
	clientMetadataJSON, _ := json.Marshal(ClientMetadata)
	req.Header.Set("Client-Metadata", string(clientMetadataJSON))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamTransient, "calling upstream", err)
	}
	return resp, nil
}

// ClassifyStatus maps an upstream HTTP status + body to the error
// taxonomy's upstream kinds.
func ClassifyStatus(status int, body []byte) errs.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.KindUpstreamAuth
	case status == http.StatusTooManyRequests:
		return errs.KindUpstreamRateLimit
	case status >= 500:
		return errs.KindUpstreamTransient
	}
	if rateLimitPattern.MatchString(string(body)) {
		return errs.KindUpstreamRateLimit
	}
	return errs.KindUnknown
}
