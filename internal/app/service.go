package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"redline/sync/internal/editor"
	"redline/sync/internal/remote"
	"redline/sync/internal/render"
	"redline/sync/internal/signing"
	"redline/sync/internal/snapshot"
)

// Persistence is the slice of the backend client the service needs.
type Persistence interface {
	FetchDocument(ctx context.Context, id string) (remote.Document, error)
	SaveDocument(ctx context.Context, id string, payload remote.SavePayload) (remote.Document, error)
	GenerationContext(ctx context.Context, id string) (remote.GenerationContext, bool, error)
	NotifyChange(ctx context.Context, id string, clientUpdatedAt int64) error
}

// Preview renders template text for documents that lost their body.
type Preview interface {
	RenderPreview(ctx context.Context, preview render.PreviewRequest) (string, error)
}

type ServiceConfig struct {
	Debounce        time.Duration
	DefaultProvider string
	Providers       map[string]signing.Provider
	Polling         signing.Config
	OpenURL         func(string)
}

// Service owns one editor session and at most one signing poller per
// document. Everything the HTTP bridge exposes goes through here.
type Service struct {
	persistence Persistence
	preview     Preview
	gateway     signing.Gateway
	store       snapshot.Store
	archive     *signing.Archive
	cfg         ServiceConfig

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	pollers  map[string]*signing.Poller
}

// sessionEntry shares the first Open across concurrent openers of the
// same document: the losers wait on the winner's reconciliation instead
// of seeing an uninitialized view.
type sessionEntry struct {
	session *editor.Session
	open    sync.Once
	err     error
}

func NewService(persistence Persistence, preview Preview, gateway signing.Gateway, store snapshot.Store, archive *signing.Archive, cfg ServiceConfig) *Service {
	if cfg.Providers == nil {
		cfg.Providers = signing.DefaultProviders()
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "firma"
	}
	return &Service{
		persistence: persistence,
		preview:     preview,
		gateway:     gateway,
		store:       store,
		archive:     archive,
		cfg:         cfg,
		sessions:    make(map[string]*sessionEntry),
		pollers:     make(map[string]*signing.Poller),
	}
}

// OpenDocument establishes (or re-reads) the session for a document. The
// first open fetches, reconciles, and tries rehydration; later opens
// return the live view.
func (s *Service) OpenDocument(ctx context.Context, id string) (editor.View, error) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if !ok {
		entry = &sessionEntry{session: editor.NewSession(id, s.persistence, s.preview, s.store, editor.Options{
			Debounce: s.cfg.Debounce,
			OnSaved:  s.notifySaved,
		})}
		s.sessions[id] = entry
	}
	s.mu.Unlock()

	entry.open.Do(func() {
		_, entry.err = entry.session.Open(ctx)
	})
	if entry.err != nil {
		s.mu.Lock()
		if s.sessions[id] == entry {
			// Drop the failed entry so a later open can retry.
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return editor.View{}, entry.err
	}
	return entry.session.View(), nil
}

func (s *Service) notifySaved(documentID string, clientUpdatedAt int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persistence.NotifyChange(ctx, documentID, clientUpdatedAt); err != nil {
		log.Printf("service: change notification for %s failed: %v", documentID, err)
	}
}

func (s *Service) session(id string) (*editor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, editor.ErrNotOpen
	}
	return entry.session, nil
}

func (s *Service) NoteChange(ctx context.Context, id, html, text string) (editor.View, error) {
	session, err := s.session(id)
	if err != nil {
		return editor.View{}, err
	}
	if err := session.NoteEdit(ctx, html, text); err != nil {
		return editor.View{}, err
	}
	return session.View(), nil
}

func (s *Service) SaveNow(ctx context.Context, id string) (editor.View, error) {
	session, err := s.session(id)
	if err != nil {
		return editor.View{}, err
	}
	if err := session.SaveNow(ctx); err != nil {
		return session.View(), err
	}
	return session.View(), nil
}

func (s *Service) Flush(ctx context.Context, id string) (editor.View, error) {
	session, err := s.session(id)
	if err != nil {
		return editor.View{}, err
	}
	if err := session.Flush(ctx); err != nil {
		return session.View(), err
	}
	return session.View(), nil
}

func (s *Service) DocumentView(id string) (editor.View, error) {
	session, err := s.session(id)
	if err != nil {
		return editor.View{}, err
	}
	return session.View(), nil
}

// StartSigning resolves the provider profile and hands off to the
// document's poller, creating one when the provider changed or none
// exists yet. A live poller is never replaced.
func (s *Service) StartSigning(ctx context.Context, id, providerName string, signers []signing.Signer, order string) (string, error) {
	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}
	provider, ok := s.cfg.Providers[providerName]
	if !ok {
		return "", domainError(http.StatusUnprocessableEntity, "UNKNOWN_PROVIDER", "Unknown signing provider", map[string]any{"provider": providerName})
	}

	s.mu.Lock()
	poller, exists := s.pollers[id]
	if exists {
		state := poller.Status().State
		live := state == signing.StateAwaiting || state == signing.StatePolling
		if !live && poller.ProviderName() != provider.Name {
			poller = nil
			exists = false
		}
	}
	if !exists || poller == nil {
		poller = signing.NewPoller(s.gateway, provider, id, s.cfg.Polling, s.cfg.OpenURL)
		s.pollers[id] = poller
	}
	s.mu.Unlock()

	return poller.Start(ctx, signers, order)
}

func (s *Service) poller(id string) (*signing.Poller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poller, ok := s.pollers[id]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NO_SIGNING_SESSION", "No signing session for this document", nil)
	}
	return poller, nil
}

func (s *Service) SigningStatus(id string) (signing.SessionStatus, error) {
	poller, err := s.poller(id)
	if err != nil {
		return signing.SessionStatus{}, err
	}
	return poller.Status(), nil
}

func (s *Service) StopSigning(id string) error {
	poller, err := s.poller(id)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Code == "NO_SIGNING_SESSION" {
			// Nothing to stop is a successful stop.
			return nil
		}
		return err
	}
	poller.Stop()
	return nil
}

// DownloadExecuted returns the executed document once the gate allows
// it, and archives a copy when an archive is configured. Archive
// failures never block the download.
func (s *Service) DownloadExecuted(ctx context.Context, id string) ([]byte, error) {
	poller, err := s.poller(id)
	if err != nil {
		return nil, err
	}
	data, err := poller.DownloadExecuted(ctx)
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		if key, err := s.archive.StoreExecuted(ctx, id, data); err != nil {
			log.Printf("service: archiving executed document %s failed: %v", id, err)
		} else {
			log.Printf("service: archived executed document %s as %s", id, key)
		}
	}
	return data, nil
}

// Close flushes dirty sessions, stops live pollers, and closes the
// snapshot store. Used on daemon shutdown.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*editor.Session, 0, len(s.sessions))
	for _, entry := range s.sessions {
		sessions = append(sessions, entry.session)
	}
	pollers := make([]*signing.Poller, 0, len(s.pollers))
	for _, poller := range s.pollers {
		pollers = append(pollers, poller)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.Flush(ctx); err != nil {
			log.Printf("service: flush on shutdown failed: %v", err)
		}
		session.Close()
	}
	for _, poller := range pollers {
		poller.Stop()
	}
	return s.store.Close()
}
