// Package remote is the client for the Redline backend's document
// persistence API. All response-shape tolerance lives here: payloads are
// normalized once, at this boundary, and the rest of the agent sees one
// Document shape.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"redline/sync/internal/content"
)

// ErrStaleWrite reports that the backend refused a save because it
// already holds a newer client timestamp. The backend guard backs the
// client-side sequencer; a stale write landing server-side is harmless.
var ErrStaleWrite = errors.New("remote: backend holds a newer version")

// Document is the normalized remote document: content, client timestamp,
// and the template/generation metadata the rehydrator reads.
type Document struct {
	ID              string
	Title           string
	Status          string
	HTML            string
	Text            string
	ClientUpdatedAt int64
	TemplateID      string
	FieldValues     map[string]string
	SelectedClauses []string
	CustomClauses   []string
	Constraints     []string
}

// GenerationContext is the recalled document-creation input: template
// plus structured values. Read-only from the agent's perspective.
type GenerationContext struct {
	TemplateID      string            `json:"templateId"`
	FieldValues     map[string]string `json:"fieldValues"`
	SelectedClauses []string          `json:"selectedClauseIds"`
	CustomClauses   []string          `json:"customClauses"`
	Constraints     []string          `json:"constraints"`
}

// SavePayload is the write unit sent to the backend.
type SavePayload struct {
	HTML            string `json:"html_content"`
	Text            string `json:"text_content"`
	ClientUpdatedAt int64  `json:"client_updated_at_ms"`
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
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// FetchDocument retrieves and normalizes the authoritative remote copy.
func (c *Client) FetchDocument(ctx context.Context, id string) (Document, error) {
	raw, status, err := c.do(ctx, http.MethodGet, "/api/documents/"+id, nil)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document %s: %w", id, err)
	}
	if status >= 300 {
		return Document{}, fmt.Errorf("fetch document %s: backend returned %d", id, status)
	}
	doc, err := normalizeDocument(raw)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return doc, nil
}

// SaveDocument writes the document content. The context carries the
// sequencer's cancellation: a superseded save may be aborted mid-flight.
func (c *Client) SaveDocument(ctx context.Context, id string, payload SavePayload) (Document, error) {
	raw, status, err := c.do(ctx, http.MethodPut, "/api/documents/"+id+"/content", payload)
	if err != nil {
		return Document{}, fmt.Errorf("save document %s: %w", id, err)
	}
	if status == http.StatusConflict {
		return Document{}, fmt.Errorf("save document %s: %w", id, ErrStaleWrite)
	}
	if status >= 300 {
		return Document{}, fmt.Errorf("save document %s: backend returned %d", id, status)
	}
	doc, err := normalizeDocument(raw)
	if err != nil {
		return Document{}, fmt.Errorf("save document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return doc, nil
}

// GenerationContext recalls the stored creation-flow input for a
// document. A missing context is not an error; ok reports presence.
func (c *Client) GenerationContext(ctx context.Context, id string) (GenerationContext, bool, error) {
	raw, status, err := c.do(ctx, http.MethodGet, "/api/documents/"+id+"/generation-context", nil)
	if err != nil {
		return GenerationContext{}, false, fmt.Errorf("fetch generation context %s: %w", id, err)
	}
	if status == http.StatusNotFound {
		return GenerationContext{}, false, nil
	}
	if status >= 300 {
		return GenerationContext{}, false, fmt.Errorf("fetch generation context %s: backend returned %d", id, status)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return GenerationContext{}, false, fmt.Errorf("decode generation context %s: %w", id, err)
	}
	payload := unwrap(envelope)
	gc := GenerationContext{
		TemplateID:      firstString(payload, "template_id", "templateId", "template"),
		FieldValues:     stringMap(payload, "field_values", "fieldValues"),
		SelectedClauses: stringList(payload, "selected_clause_ids", "selectedClauseIds"),
		CustomClauses:   stringList(payload, "custom_clauses", "customClauses"),
		Constraints:     stringList(payload, "constraints"),
	}
	return gc, true, nil
}

// NotifyChange tells the backend's list views a save landed, carrying
// the new client timestamp. Best effort; listing staleness is tolerable.
func (c *Client) NotifyChange(ctx context.Context, id string, clientUpdatedAt int64) error {
	_, status, err := c.do(ctx, http.MethodPost, "/api/documents/"+id+"/touch", map[string]int64{
		"client_updated_at_ms": clientUpdatedAt,
	})
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("notify change %s: backend returned %d", id, status)
	}
	return nil
}

// normalizeDocument converts any of the backend's known response shapes
// into a Document. Priority order, outermost first: an envelope under
// "data", then "document", then the bare object. Body from
// "html_content", then "content", then "body_html"; text from
// "text_content", then "plain_text"; timestamp from
// "client_updated_at_ms", then "client_updated_at".
func normalizeDocument(raw []byte) (Document, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Document{}, fmt.Errorf("decode document payload: %w", err)
	}
	payload := unwrap(envelope)

	doc := Document{
		ID:              firstString(payload, "id", "document_id"),
		Title:           firstString(payload, "title"),
		Status:          firstString(payload, "status"),
		HTML:            content.Sanitize(firstString(payload, "html_content", "content", "body_html")),
		Text:            firstString(payload, "text_content", "plain_text"),
		ClientUpdatedAt: firstInt(payload, "client_updated_at_ms", "client_updated_at"),
		TemplateID:      firstString(payload, "template_id", "templateId"),
		FieldValues:     stringMap(payload, "field_values", "fieldValues"),
		SelectedClauses: stringList(payload, "selected_clause_ids", "selectedClauseIds"),
		CustomClauses:   stringList(payload, "custom_clauses", "customClauses"),
		Constraints:     stringList(payload, "constraints"),
	}
	return doc, nil
}

// unwrap peels one known envelope level off a response object.
func unwrap(envelope map[string]json.RawMessage) map[string]json.RawMessage {
	for _, key := range []string{"data", "document"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err == nil && inner != nil {
			return inner
		}
	}
	return envelope
}

func firstString(payload map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(payload map[string]json.RawMessage, keys ...string) int64 {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil && n != 0 {
			return n
		}
	}
	return 0
}

func stringMap(payload map[string]json.RawMessage, keys ...string) map[string]string {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
			return m
		}
	}
	return nil
}

func stringList(payload map[string]json.RawMessage, keys ...string) []string {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			return list
		}
	}
	return nil
}
