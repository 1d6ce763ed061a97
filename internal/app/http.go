package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"redline/sync/internal/editor"
	"redline/sync/internal/remote"
	"redline/sync/internal/signing"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/documents/{id}[...]
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		documentID := parts[2]
		rest := parts[3:]

		switch {
		case len(rest) == 0 && r.Method == http.MethodGet:
			s.handleDocumentView(w, r, documentID)
			return
		case len(rest) == 1 && rest[0] == "open" && r.Method == http.MethodPost:
			s.handleOpen(w, r, documentID)
			return
		case len(rest) == 1 && rest[0] == "change" && r.Method == http.MethodPost:
			s.handleChange(w, r, documentID)
			return
		case len(rest) == 1 && rest[0] == "save" && r.Method == http.MethodPost:
			s.handleSave(w, r, documentID)
			return
		case len(rest) == 1 && rest[0] == "flush" && r.Method == http.MethodPost:
			s.handleFlush(w, r, documentID)
			return
		case len(rest) == 2 && rest[0] == "signing" && rest[1] == "start" && r.Method == http.MethodPost:
			s.handleSigningStart(w, r, documentID)
			return
		case len(rest) == 2 && rest[0] == "signing" && rest[1] == "status" && r.Method == http.MethodGet:
			s.handleSigningStatus(w, r, documentID)
			return
		case len(rest) == 2 && rest[0] == "signing" && rest[1] == "stop" && r.Method == http.MethodPost:
			s.handleSigningStop(w, r, documentID)
			return
		case len(rest) == 2 && rest[0] == "signing" && rest[1] == "executed" && r.Method == http.MethodGet:
			s.handleSigningExecuted(w, r, documentID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request, documentID string) {
	view, err := s.service.OpenDocument(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleDocumentView(w http.ResponseWriter, r *http.Request, documentID string) {
	view, err := s.service.DocumentView(documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleChange(w http.ResponseWriter, r *http.Request, documentID string) {
	var body struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.NoteChange(r.Context(), documentID, body.HTML, body.Text)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request, documentID string) {
	view, err := s.service.SaveNow(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleFlush(w http.ResponseWriter, r *http.Request, documentID string) {
	view, err := s.service.Flush(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSigningStart(w http.ResponseWriter, r *http.Request, documentID string) {
	var body struct {
		Provider string           `json:"provider"`
		Signers  []signing.Signer `json:"signers"`
		Order    string           `json:"order"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	url, err := s.service.StartSigning(r.Context(), documentID, body.Provider, body.Signers, body.Order)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signingUrl": url})
}

func (s *HTTPServer) handleSigningStatus(w http.ResponseWriter, r *http.Request, documentID string) {
	status, err := s.service.SigningStatus(documentID)
	if err != nil {
		httpStatus, code, message, details := mapError(err)
		writeError(w, httpStatus, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSigningStop(w http.ResponseWriter, r *http.Request, documentID string) {
	if err := s.service.StopSigning(documentID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func (s *HTTPServer) handleSigningExecuted(w http.ResponseWriter, r *http.Request, documentID string) {
	data, err := s.service.DownloadExecuted(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", documentID+"-executed.pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, editor.ErrNotOpen):
		return http.StatusConflict, "DOCUMENT_NOT_OPEN", "Document has not been opened", nil
	case errors.Is(err, editor.ErrEmptyContent):
		return http.StatusUnprocessableEntity, "EMPTY_CONTENT_REFUSED", "Refusing to save empty content", nil
	case errors.Is(err, remote.ErrStaleWrite):
		return http.StatusConflict, "STALE_WRITE", "Backend holds a newer version", nil
	case errors.Is(err, signing.ErrNoValidSigners):
		return http.StatusUnprocessableEntity, "NO_VALID_SIGNERS", "At least one signer with a name and email is required", nil
	case errors.Is(err, signing.ErrInvalidURL):
		return http.StatusUnprocessableEntity, "INVALID_SIGNING_URL", "Signing service returned an unusable URL", nil
	case errors.Is(err, signing.ErrSessionActive):
		return http.StatusConflict, "SIGNING_IN_PROGRESS", "A signing session is already in progress", nil
	case errors.Is(err, signing.ErrNotCompleted):
		return http.StatusConflict, "NOT_COMPLETED", "Signing session is not completed", nil
	case errors.Is(err, editor.ErrSaveFailed):
		return http.StatusBadGateway, "SAVE_FAILED", "Could not save the document", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
