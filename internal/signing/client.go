// Package signing drives the e-signature workflow: starting a session
// with the signing gateway, polling its status on a capped backoff until
// a terminal state, and gating access to the executed document.
package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Signer identifies one signing party.
type Signer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SignerStatus is the gateway's view of one signer's progress.
type SignerStatus struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Status   string `json:"status"`
	SignedAt string `json:"signed_at,omitempty"`
}

// StatusResponse is one poll result.
type StatusResponse struct {
	Status    string         `json:"status"`
	AllSigned bool           `json:"all_signed"`
	Signers   []SignerStatus `json:"signers"`
}

// StartRequest asks the gateway to open a signing session.
type StartRequest struct {
	DocumentID string   `json:"document_id"`
	Provider   string   `json:"provider"`
	Signers    []Signer `json:"signers"`
	Order      string   `json:"signing_order"` // "sequential" or "parallel"
}

// Gateway is the signing collaborator as the poller sees it.
type Gateway interface {
	Start(ctx context.Context, req StartRequest) (string, error)
	Status(ctx context.Context, documentID string) (StatusResponse, error)
	DownloadExecuted(ctx context.Context, documentID string) ([]byte, error)
}

// Client talks to the signing gateway over HTTP.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// Start opens a signing session and returns the signing URL the user
// must visit. The URL is validated by the caller, not here.
func (c *Client) Start(ctx context.Context, startReq StartRequest) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/signing/start", startReq)
	if err != nil {
		return "", fmt.Errorf("start signing: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("start signing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("start signing: gateway returned %d", resp.StatusCode)
	}
	var out struct {
		SigningURL string `json:"signing_url"`
		URL        string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if out.SigningURL != "" {
		return out.SigningURL, nil
	}
	return out.URL, nil
}

// Status fetches the current session state for a document.
func (c *Client) Status(ctx context.Context, documentID string) (StatusResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/signing/"+documentID+"/status", nil)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("signing status: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("signing status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return StatusResponse{}, fmt.Errorf("signing status: gateway returned %d", resp.StatusCode)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusResponse{}, fmt.Errorf("decode status response: %w", err)
	}
	return out, nil
}

// DownloadExecuted fetches the fully executed document binary.
func (c *Client) DownloadExecuted(ctx context.Context, documentID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/signing/"+documentID+"/executed", nil)
	if err != nil {
		return nil, fmt.Errorf("download executed: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download executed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download executed: gateway returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read executed document: %w", err)
	}
	return data, nil
}
