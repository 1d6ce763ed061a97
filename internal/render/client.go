// Package render is the client for the template render-preview service,
// used to regenerate a document body from a template and its stored
// structured inputs.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PreviewRequest carries everything the renderer needs to replay a
// document's generation.
type PreviewRequest struct {
	TemplateID      string            `json:"template_id"`
	FieldValues     map[string]string `json:"field_values,omitempty"`
	SelectedClauses []string          `json:"selected_clause_ids,omitempty"`
	CustomClauses   []string          `json:"custom_clauses,omitempty"`
	Constraints     []string          `json:"constraints,omitempty"`
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// RenderPreview renders the template with the given inputs and returns
// the resulting plain-text body. An empty result is valid; the caller
// decides what to do with it.
func (c *Client) RenderPreview(ctx context.Context, preview PreviewRequest) (string, error) {
	raw, err := json.Marshal(preview)
	if err != nil {
		return "", fmt.Errorf("marshal preview request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/render/preview", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create preview request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("render preview: renderer returned %d", resp.StatusCode)
	}
	var out struct {
		Text     string `json:"text"`
		Rendered string `json:"rendered_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode preview response: %w", err)
	}
	if out.Text != "" {
		return out.Text, nil
	}
	return out.Rendered, nil
}
