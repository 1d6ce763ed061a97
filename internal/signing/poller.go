package signing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"redline/sync/internal/util"
)

// State is the poller's position in the signing workflow.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateAwaiting  State = "awaiting_external_action"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateDeclined  State = "declined"
	StateTimedOut  State = "timed_out"
	StateStopped   State = "stopped"
)

// ErrNoValidSigners reports a start request where no signer row carried
// both a name and an email.
var ErrNoValidSigners = errors.New("signing: no valid signers")

// ErrNotCompleted gates the executed-document download.
var ErrNotCompleted = errors.New("signing: session not completed yet")

// ErrSessionActive reports a start attempt while live status tracking is
// already running for the document.
var ErrSessionActive = errors.New("signing: session already in progress")

var declineTerms = []string{"declined", "rejected", "canceled", "cancelled", "refused"}

func isDeclineLike(status string) bool {
	lowered := strings.ToLower(status)
	for _, term := range declineTerms {
		if lowered == term {
			return true
		}
	}
	return false
}

func isCompleteStatus(status string) bool {
	lowered := strings.ToLower(status)
	return lowered == "completed" || lowered == "executed"
}

// Config bounds the polling loop. Zero values take the production
// defaults; tests compress the intervals.
type Config struct {
	InitialDelay time.Duration // first scheduled delay after the immediate poll
	MaxDelay     time.Duration // backoff ceiling
	Factor       float64       // geometric growth per poll
	Timeout      time.Duration // wall-clock ceiling for the whole loop
}

func (c Config) withDefaults() Config {
	if c.InitialDelay == 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor == 0 {
		c.Factor = 1.25
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
	return c
}

// SessionStatus is the UI-facing snapshot of a signing session.
type SessionStatus struct {
	SessionID  string         `json:"sessionId"`
	State      State          `json:"state"`
	SigningURL string         `json:"signingUrl"`
	Signers    []SignerStatus `json:"signers"`
	AllSigned  bool           `json:"allSigned"`
	Declined   bool           `json:"declined"`
	Message    string         `json:"message"`
}

// Poller owns one document's signing session: it starts the session,
// tracks its completion with bounded backing-off polling, and supports
// cooperative cancellation at any point.
type Poller struct {
	gateway  Gateway
	provider Provider
	document string
	cfg      Config
	openURL  func(string)
	now      func() time.Time

	mu         sync.Mutex
	sessionID  string
	state      State
	signingURL string
	signers    []SignerStatus
	allSigned  bool
	declined   bool
	message    string
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPoller creates an idle poller for one document. openURL is invoked
// with the validated signing URL so the host can open a browsing
// context; nil means the URL is only surfaced through Status.
func NewPoller(gateway Gateway, provider Provider, documentID string, cfg Config, openURL func(string)) *Poller {
	return &Poller{
		gateway:  gateway,
		provider: provider,
		document: documentID,
		cfg:      cfg.withDefaults(),
		openURL:  openURL,
		now:      time.Now,
		state:    StateIdle,
	}
}

// ValidSigners drops rows missing a name or an email. Partial rows are
// not an error; an empty result is.
func ValidSigners(signers []Signer) []Signer {
	var valid []Signer
	for _, s := range signers {
		if strings.TrimSpace(s.Name) != "" && strings.TrimSpace(s.Email) != "" {
			valid = append(valid, s)
		}
	}
	return valid
}

// Start begins a signing session and launches the polling loop. It
// returns the validated signing URL. Restarting after a terminal state
// is allowed; starting while live tracking runs is not.
func (p *Poller) Start(ctx context.Context, signers []Signer, order string) (string, error) {
	valid := ValidSigners(signers)
	if len(valid) == 0 {
		return "", ErrNoValidSigners
	}
	if order != "sequential" {
		order = "parallel"
	}

	p.mu.Lock()
	if p.state == StateAwaiting || p.state == StatePolling {
		p.mu.Unlock()
		return "", ErrSessionActive
	}
	p.state = StateStarting
	p.declined = false
	p.allSigned = false
	p.message = ""
	p.signers = nil
	p.mu.Unlock()

	url, err := p.gateway.Start(ctx, StartRequest{
		DocumentID: p.document,
		Provider:   p.provider.Name,
		Signers:    valid,
		Order:      order,
	})
	if err != nil {
		p.setMessage("Could not start signing. Try again.")
		return "", fmt.Errorf("start signing session: %w", err)
	}
	if err := ValidateSigningURL(url, p.provider.BlockedURLParts); err != nil {
		// Stay in Starting: the session never became live.
		p.setMessage("Signing service returned an unusable URL. Check the signing configuration.")
		return "", err
	}

	if p.openURL != nil {
		p.openURL(url)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.sessionID = util.NewID("sig")
	p.signingURL = url
	p.state = StateAwaiting
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(runCtx, done)
	return url, nil
}

func (p *Poller) setMessage(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

// Stop aborts any in-flight status request and clears the pending poll.
// Safe to call at any time, from any state, any number of times.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	switch p.state {
	case StateCompleted, StateDeclined, StateTimedOut:
		// Terminal results survive a stop.
	default:
		p.state = StateStopped
	}
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ProviderName reports which provider profile this poller runs under.
func (p *Poller) ProviderName() string {
	return p.provider.Name
}

// Status returns the current session snapshot.
func (p *Poller) Status() SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	signers := make([]SignerStatus, len(p.signers))
	copy(signers, p.signers)
	return SessionStatus{
		SessionID:  p.sessionID,
		State:      p.state,
		SigningURL: p.signingURL,
		Signers:    signers,
		AllSigned:  p.allSigned,
		Declined:   p.declined,
		Message:    p.message,
	}
}

// DownloadExecuted fetches the executed document. Permitted only once
// the session completed, and, where the provider requires unanimous
// signing, only with every signer signed.
func (p *Poller) DownloadExecuted(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	state := p.state
	allSigned := p.allSigned
	p.mu.Unlock()

	if state != StateCompleted {
		return nil, ErrNotCompleted
	}
	if p.provider.RequiresAllSigned && !allSigned {
		return nil, ErrNotCompleted
	}
	return p.gateway.DownloadExecuted(ctx, p.document)
}

// nextDelay advances the capped geometric backoff: initial on the first
// call, then min(max, previous*factor).
func (p *Poller) nextDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return p.cfg.InitialDelay
	}
	next := time.Duration(float64(prev) * p.cfg.Factor)
	if next > p.cfg.MaxDelay {
		next = p.cfg.MaxDelay
	}
	return next
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.mu.Lock()
	if p.state != StateAwaiting {
		p.mu.Unlock()
		return
	}
	p.state = StatePolling
	p.mu.Unlock()

	started := p.now()
	var delay time.Duration

	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if p.now().Sub(started) > p.cfg.Timeout {
			p.mu.Lock()
			p.state = StateTimedOut
			p.message = "Live signing status timed out. Refresh to check the latest state."
			p.mu.Unlock()
			log.Printf("signing: status polling for %s timed out after %s", p.document, p.cfg.Timeout)
			return
		}

		resp, err := p.gateway.Status(ctx, p.document)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// Transient; the next poll supersedes it.
			log.Printf("signing: status poll for %s failed: %v", p.document, err)
		} else if p.apply(resp) {
			return
		}

		delay = p.nextDelay(delay)
	}
}

// apply folds one poll response into the session and reports whether a
// terminal state was reached.
func (p *Poller) apply(resp StatusResponse) bool {
	allSigned := resp.AllSigned
	if !allSigned && len(resp.Signers) > 0 {
		allSigned = true
		for _, s := range resp.Signers {
			if strings.TrimSpace(s.SignedAt) == "" && !strings.EqualFold(s.Status, "signed") {
				allSigned = false
				break
			}
		}
	}

	declined := false
	declinedBy := ""
	for _, s := range resp.Signers {
		if isDeclineLike(s.Status) {
			declined = true
			declinedBy = s.Name
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePolling {
		// Stopped (or otherwise terminal) while the response was in
		// flight; the response must not mutate anything.
		return true
	}

	p.signers = resp.Signers
	p.allSigned = allSigned
	if declined && !p.declined {
		p.declined = true
		p.message = fmt.Sprintf("%s declined to sign. Restart signing with updated recipients or an updated document.", declinedBy)
		log.Printf("signing: %s flagged declined by %q", p.document, declinedBy)
	}

	if isDeclineLike(resp.Status) {
		// The session itself was declined or cancelled; no further polls
		// can change that.
		p.state = StateDeclined
		if p.message == "" {
			p.message = "The signing session was declined. Restart signing with updated recipients or an updated document."
		}
		return true
	}

	complete := isCompleteStatus(resp.Status)
	if complete && p.provider.RequiresAllSigned {
		complete = allSigned
	}
	if complete {
		p.state = StateCompleted
		p.message = "All parties have signed."
		return true
	}
	return false
}
