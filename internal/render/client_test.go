package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRenderPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/render/preview" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.TemplateID != "tmpl-nda" || req.FieldValues["party_a"] != "Acme" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"rendered_text":"NON-DISCLOSURE AGREEMENT\n\nBetween Acme and ..."}`))
	}))
	defer server.Close()

	client := New(server.URL, "")
	text, err := client.RenderPreview(context.Background(), PreviewRequest{
		TemplateID:  "tmpl-nda",
		FieldValues: map[string]string{"party_a": "Acme"},
	})
	if err != nil {
		t.Fatalf("RenderPreview failed: %v", err)
	}
	if text == "" {
		t.Error("expected rendered text")
	}
}

func TestRenderPreviewPrefersTextField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"primary","rendered_text":"legacy"}`))
	}))
	defer server.Close()

	client := New(server.URL, "")
	text, err := client.RenderPreview(context.Background(), PreviewRequest{TemplateID: "t"})
	if err != nil {
		t.Fatalf("RenderPreview failed: %v", err)
	}
	if text != "primary" {
		t.Errorf("text = %q, want %q", text, "primary")
	}
}

func TestRenderPreviewServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "")
	if _, err := client.RenderPreview(context.Background(), PreviewRequest{TemplateID: "t"}); err == nil {
		t.Error("expected error on 502")
	}
}
