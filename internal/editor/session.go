// Package editor owns the live state of one open document: the
// load-time reconciliation between the remote copy and the local
// durable snapshot, the autosave sequencer that keeps stale writes from
// clobbering newer ones, and the one-shot rehydration of empty
// template-generated documents.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"redline/sync/internal/content"
	"redline/sync/internal/remote"
	"redline/sync/internal/render"
	"redline/sync/internal/snapshot"
)

// ErrEmptyContent is the guarded-invariant refusal: autosave never
// persists a document that is empty by both body and text, because the
// editing surface transiently reports empty state during init.
var ErrEmptyContent = errors.New("editor: refusing to save empty content")

// ErrNotOpen reports an operation against a session that has not been
// opened yet.
var ErrNotOpen = errors.New("editor: document not opened")

// ErrSaveFailed wraps backend save failures so callers can tell them
// apart from local refusals.
var ErrSaveFailed = errors.New("editor: autosave failed")

const defaultDebounce = 900 * time.Millisecond

type persistenceClient interface {
	FetchDocument(ctx context.Context, id string) (remote.Document, error)
	SaveDocument(ctx context.Context, id string, payload remote.SavePayload) (remote.Document, error)
	GenerationContext(ctx context.Context, id string) (remote.GenerationContext, bool, error)
}

type previewClient interface {
	RenderPreview(ctx context.Context, preview render.PreviewRequest) (string, error)
}

// Options tune a session. Zero values take defaults.
type Options struct {
	Debounce time.Duration
	// OnSaved is called after each successful save with the persisted
	// client timestamp, for external collaborators such as list views.
	OnSaved func(documentID string, clientUpdatedAt int64)
}

// View is the read model handed to the editing surface.
type View struct {
	DocumentID      string `json:"documentId"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	HTML            string `json:"html"`
	Text            string `json:"text"`
	ClientUpdatedAt int64  `json:"clientUpdatedAtMs"`
	Dirty           bool   `json:"dirty"`
	Initialized     bool   `json:"initialized"`
}

// Session synchronizes one document. All mutable state sits behind one
// mutex; network calls run outside it and re-enter through the sequence
// gate.
type Session struct {
	documentID string
	remote     persistenceClient
	preview    previewClient
	store      snapshot.Store
	clock      *snapshot.EditClock
	debounce   time.Duration
	onSaved    func(string, int64)

	mu            sync.Mutex
	html          string
	text          string
	title         string
	status        string
	meta          remote.Document
	updatedAt     int64 // client timestamp of the current content
	dirty         bool
	initialized   bool
	rehydrated    bool // latched once rehydration ran or was ruled out
	seq           uint64
	inFlight      context.CancelFunc
	debounceTimer *time.Timer
}

func NewSession(documentID string, persistence persistenceClient, preview previewClient, store snapshot.Store, opts Options) *Session {
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = defaultDebounce
	}
	return &Session{
		documentID: documentID,
		remote:     persistence,
		preview:    preview,
		store:      store,
		clock:      snapshot.NewEditClock(),
		debounce:   debounce,
		onSaved:    opts.OnSaved,
	}
}

// Open fetches the authoritative remote copy, arbitrates against the
// local durable snapshot, and, when the winner is empty and the document
// came from a template, attempts one rehydration.
func (s *Session) Open(ctx context.Context) (View, error) {
	doc, err := s.remote.FetchDocument(ctx, s.documentID)
	if err != nil {
		return View{}, fmt.Errorf("open %s: %w", s.documentID, err)
	}

	local, haveLocal, err := s.store.Get(ctx, s.documentID)
	if err != nil {
		// A broken slot must not block opening; the remote copy stands.
		log.Printf("editor: read local snapshot for %s: %v", s.documentID, err)
		haveLocal = false
	}

	s.Reconcile(doc, local, haveLocal)
	s.attemptRehydrate(ctx)
	return s.View(), nil
}

// Reconcile picks the initial document state. The local snapshot wins
// only when it is strictly newer than the remote copy AND carries real
// content; an empty snapshot from a device that never had content must
// not shadow valid server state. Runs at most once: after a session is
// initialized, further calls are no-ops so they cannot overwrite edits
// made in the interim.
func (s *Session) Reconcile(doc remote.Document, local snapshot.Snapshot, haveLocal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return
	}

	html, text, updatedAt := doc.HTML, doc.Text, doc.ClientUpdatedAt
	if haveLocal &&
		local.ClientUpdatedAt > doc.ClientUpdatedAt &&
		!content.IsMeaningfullyEmpty(local.HTML, local.Text) {
		html, text, updatedAt = local.HTML, local.Text, local.ClientUpdatedAt
		log.Printf("editor: %s restored from local snapshot (local %d > remote %d)",
			s.documentID, local.ClientUpdatedAt, doc.ClientUpdatedAt)
	}

	// Body lost but text survived: degrade the plain text back to markup.
	if content.IsEmptyHTML(html) && strings.TrimSpace(text) != "" {
		html = content.HTMLFromText(text)
	}

	// Later edit stamps must never fall below the winner's timestamp.
	s.clock.Observe(updatedAt)

	s.meta = doc
	s.title = doc.Title
	s.status = doc.Status
	s.html = html
	s.text = text
	s.updatedAt = updatedAt
	s.dirty = false
	s.initialized = true
}

// NoteEdit records a change from the editing surface, refreshes the
// local durable snapshot, and (re)arms the debounced autosave.
func (s *Session) NoteEdit(ctx context.Context, html, text string) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotOpen
	}
	stamp := s.clock.Touch()
	s.html = content.Sanitize(html)
	s.text = text
	s.updatedAt = stamp
	s.dirty = true
	snap := snapshot.Snapshot{HTML: s.html, Text: s.text, ClientUpdatedAt: stamp, SavedAt: time.Now()}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, func() {
		if err := s.RequestSave(context.Background()); err != nil && !errors.Is(err, ErrEmptyContent) {
			log.Printf("autosave: %s: %v", s.documentID, err)
		}
	})
	s.mu.Unlock()

	if err := s.store.Put(ctx, s.documentID, snap); err != nil {
		// Local durability is a fallback, not a gate on editing.
		log.Printf("editor: write local snapshot for %s: %v", s.documentID, err)
	}
	return nil
}

// SaveNow forces an immediate save attempt.
func (s *Session) SaveNow(ctx context.Context) error {
	return s.RequestSave(ctx)
}

// Flush runs when the host page is being hidden or navigated away: the
// debounce is abandoned and the save fires immediately so edits are not
// lost with the page.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.RequestSave(ctx)
}

// RequestSave is the autosave sequencer. It issues the next sequence
// number, cancels the previous in-flight attempt, and sends the write;
// the response mutates session state only if it still carries the
// current sequence number. Cancellation of a predecessor is a latency
// optimization, not a correctness requirement: the sequence gate alone
// decides who may mutate.
func (s *Session) RequestSave(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotOpen
	}
	html, text := s.html, s.text
	if content.IsMeaningfullyEmpty(html, text) {
		s.mu.Unlock()
		log.Printf("autosave: %s: refused empty-content save", s.documentID)
		return ErrEmptyContent
	}

	// Never stamp a save older than the latest edit, even when the save
	// fires late.
	stamp := s.clock.Stamp()

	s.seq++
	seq := s.seq
	if s.inFlight != nil {
		s.inFlight()
	}
	saveCtx, cancel := context.WithCancel(ctx)
	s.inFlight = cancel
	s.mu.Unlock()

	saved, err := s.remote.SaveDocument(saveCtx, s.documentID, remote.SavePayload{
		HTML:            html,
		Text:            text,
		ClientUpdatedAt: stamp,
	})
	cancel()

	s.mu.Lock()
	if seq != s.seq {
		// A newer attempt superseded this one; whatever came back, it
		// does not get to touch anything.
		s.mu.Unlock()
		return nil
	}
	s.inFlight = nil
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		// Dirty stays set; the next debounce or explicit trigger retries.
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	superseded := s.clock.Last() > stamp
	if !superseded {
		// Not superseded by a newer edit while in flight.
		s.dirty = false
		s.updatedAt = stamp
	}
	if saved.Title != "" {
		s.title = saved.Title
	}
	if saved.Status != "" {
		s.status = saved.Status
	}
	s.mu.Unlock()

	// A newer edit has already written a newer slot; overwriting it here
	// would regress the slot below the interim edit and lose it on the
	// next reconciliation.
	if !superseded {
		if err := s.store.Put(ctx, s.documentID, snapshot.Snapshot{
			HTML:            html,
			Text:            text,
			ClientUpdatedAt: stamp,
			SavedAt:         time.Now(),
		}); err != nil {
			log.Printf("editor: write local snapshot for %s: %v", s.documentID, err)
		}
	}
	if s.onSaved != nil {
		s.onSaved(s.documentID, stamp)
	}
	return nil
}

// attemptRehydrate regenerates content from the document's template and
// stored inputs. It runs at most once per session, and never against a
// document that already has real content, no matter how many times it
// is triggered.
func (s *Session) attemptRehydrate(ctx context.Context) {
	s.mu.Lock()
	if !s.initialized || s.rehydrated {
		s.mu.Unlock()
		return
	}
	if !content.IsMeaningfullyEmpty(s.html, s.text) {
		// Permanently skipped: the document has content this session.
		s.rehydrated = true
		s.mu.Unlock()
		return
	}
	// Latch before any network call so a concurrent trigger cannot run
	// a second render.
	s.rehydrated = true
	doc := s.meta
	s.mu.Unlock()

	templateID := doc.TemplateID
	fields := doc.FieldValues
	selected := doc.SelectedClauses
	custom := doc.CustomClauses
	constraints := doc.Constraints

	gc, ok, err := s.remote.GenerationContext(ctx, s.documentID)
	if err != nil {
		log.Printf("rehydrate: %s: recall generation context: %v", s.documentID, err)
	}
	if ok {
		if templateID == "" {
			templateID = gc.TemplateID
		}
		fields = mergeValues(fields, gc.FieldValues)
		selected = unionClauses(selected, gc.SelectedClauses)
		if len(custom) == 0 {
			custom = gc.CustomClauses
		}
		if len(constraints) == 0 {
			constraints = gc.Constraints
		}
	}

	if templateID == "" {
		log.Printf("rehydrate: %s: empty document has no template reference, leaving as is", s.documentID)
		return
	}
	if s.preview == nil {
		log.Printf("rehydrate: %s: no renderer configured", s.documentID)
		return
	}

	text, err := s.preview.RenderPreview(ctx, render.PreviewRequest{
		TemplateID:      templateID,
		FieldValues:     fields,
		SelectedClauses: selected,
		CustomClauses:   custom,
		Constraints:     constraints,
	})
	if err != nil {
		// Non-fatal: the user can still type manually.
		log.Printf("rehydrate: %s: render preview: %v", s.documentID, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Printf("rehydrate: %s: renderer returned empty body", s.documentID)
		return
	}

	html := content.HTMLFromText(text)
	stamp := s.clock.Touch()
	s.mu.Lock()
	s.html = html
	s.text = text
	s.updatedAt = stamp
	s.dirty = true
	s.mu.Unlock()
	log.Printf("rehydrate: %s: regenerated from template %s", s.documentID, templateID)

	// Persist without waiting for a user edit.
	if err := s.RequestSave(ctx); err != nil && !errors.Is(err, ErrEmptyContent) {
		log.Printf("rehydrate: %s: save regenerated content: %v", s.documentID, err)
	}
}

// mergeValues overlays document-side values on the recalled context:
// document values win, context fills the gaps.
func mergeValues(docSide, recalled map[string]string) map[string]string {
	if len(recalled) == 0 {
		return docSide
	}
	merged := make(map[string]string, len(docSide)+len(recalled))
	for k, v := range recalled {
		merged[k] = v
	}
	for k, v := range docSide {
		merged[k] = v
	}
	return merged
}

// unionClauses merges clause ID sets, preserving first-seen order.
func unionClauses(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var union []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	return union
}

// View returns the current read model.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		DocumentID:      s.documentID,
		Title:           s.title,
		Status:          s.status,
		HTML:            s.html,
		Text:            s.text,
		ClientUpdatedAt: s.updatedAt,
		Dirty:           s.dirty,
		Initialized:     s.initialized,
	}
}

// Close cancels the pending debounce and any in-flight save.
func (s *Session) Close() {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	cancel := s.inFlight
	s.inFlight = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
