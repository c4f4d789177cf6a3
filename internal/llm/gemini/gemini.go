// Package gemini implements llm.Provider against the Gemini REST API.
//
// The client never surfaces provider-side failures as errors: a missing API
// key or a non-2xx response yields a diagnostic placeholder string so the
// pipelines keep moving with degraded content.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/astradocs/astra/internal/excerpt"
	"github.com/astradocs/astra/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements llm.Provider for the Gemini generateContent API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Gemini provider. An empty apiKey is allowed; Generate then
// returns demo placeholders and Embed falls back to the deterministic folding
// embedding.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return "gemini" }

// Generate calls models/<model>:generateContent and returns the first
// candidate's text. Provider failures come back as placeholder text, not
// errors.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if c.apiKey == "" {
		return fmt.Sprintf("[demo] Gemini (%s) not configured. Prompt preview: %s", model, preview(prompt, 240)), nil
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("[demo] Gemini (%s) unreachable: %v", model, err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("[demo] Gemini (%s) error %s: %s", model, resp.Status, preview(string(respBody), 240)), nil
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Sprintf("[demo] Gemini (%s) returned malformed response", model), nil
	}
	for _, cand := range result.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return fmt.Sprintf("[demo] Gemini (%s) returned empty response", model), nil
}

// Embed returns the deterministic folding embedding. The hosted embedding API
// is not wired up; the folding embedding keeps index and search consistent
// with each other, which is all similarity ranking needs.
func (c *Client) Embed(_ context.Context, text string) ([]float32, error) {
	return llm.FoldEmbedding(text), nil
}

func preview(s string, max int) string {
	out, _ := excerpt.TruncateChars(s, max)
	return out
}

var _ llm.Provider = (*Client)(nil)
