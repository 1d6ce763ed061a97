package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"redline/sync/internal/editor"
	"redline/sync/internal/remote"
	"redline/sync/internal/signing"
)

func newTestService(persistence *fakePersistence, gateway *fakeGateway) *Service {
	if persistence == nil {
		persistence = &fakePersistence{}
	}
	if gateway == nil {
		gateway = &fakeGateway{}
	}
	return NewService(persistence, &fakePreview{}, gateway, newMemStore(), nil, ServiceConfig{
		Debounce: time.Hour,
		Polling:  signing.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: 2 * time.Second},
	})
}

func TestSaveNotifiesBackendOfChange(t *testing.T) {
	var mu sync.Mutex
	var notified []int64
	persistence := &fakePersistence{
		notify: func(ctx context.Context, id string, clientUpdatedAt int64) error {
			mu.Lock()
			notified = append(notified, clientUpdatedAt)
			mu.Unlock()
			return nil
		},
	}
	service := newTestService(persistence, nil)
	defer service.Close(context.Background())

	if _, err := service.OpenDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := service.NoteChange(context.Background(), "doc-1", "<p>x</p>", "x"); err != nil {
		t.Fatalf("change: %v", err)
	}
	view, err := service.SaveNow(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notified))
	}
	if notified[0] != view.ClientUpdatedAt {
		t.Fatalf("notified timestamp %d != view timestamp %d", notified[0], view.ClientUpdatedAt)
	}
}

func TestOpenTwiceReturnsLiveView(t *testing.T) {
	var fetches int
	persistence := &fakePersistence{}
	persistence.fetch = func(ctx context.Context, id string) (remote.Document, error) {
		fetches++
		return remote.Document{ID: id, Title: "NDA", HTML: "<p>remote body</p>", Text: "remote body", ClientUpdatedAt: 1000}, nil
	}
	service := newTestService(persistence, nil)
	defer service.Close(context.Background())

	if _, err := service.OpenDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := service.OpenDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}
}

func TestConcurrentFirstOpensShareOneOpen(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var fetches atomic.Int32
	persistence := &fakePersistence{
		fetch: func(ctx context.Context, id string) (remote.Document, error) {
			fetches.Add(1)
			entered <- struct{}{}
			<-release
			return remote.Document{ID: id, HTML: "<p>body</p>", Text: "body", ClientUpdatedAt: 1000}, nil
		},
	}
	service := newTestService(persistence, nil)
	defer service.Close(context.Background())

	type result struct {
		view editor.View
		err  error
	}
	results := make(chan result, 2)
	go func() {
		view, err := service.OpenDocument(context.Background(), "doc-1")
		results <- result{view, err}
	}()
	<-entered

	// Second opener arrives while the first fetch is still in flight.
	go func() {
		view, err := service.OpenDocument(context.Background(), "doc-1")
		results <- result{view, err}
	}()
	time.Sleep(5 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("open %d: %v", i, r.err)
		}
		if !r.view.Initialized {
			t.Errorf("open %d returned an uninitialized view", i)
		}
		if r.view.HTML != "<p>body</p>" {
			t.Errorf("open %d html = %q", i, r.view.HTML)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestFailedFirstOpenCanRetry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	persistence := &fakePersistence{
		fetch: func(ctx context.Context, id string) (remote.Document, error) {
			if fail.Load() {
				return remote.Document{}, errors.New("backend down")
			}
			return remote.Document{ID: id, HTML: "<p>body</p>", Text: "body", ClientUpdatedAt: 1000}, nil
		},
	}
	service := newTestService(persistence, nil)
	defer service.Close(context.Background())

	if _, err := service.OpenDocument(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected first open to fail")
	}
	fail.Store(false)
	view, err := service.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("retry open: %v", err)
	}
	if !view.Initialized {
		t.Error("retried open returned an uninitialized view")
	}
}

func TestProviderSwitchReplacesIdlePoller(t *testing.T) {
	gateway := &fakeGateway{}
	service := newTestService(nil, gateway)
	defer service.Close(context.Background())

	signers := []signing.Signer{{Name: "Ana", Email: "ana@example.com"}}
	if _, err := service.StartSigning(context.Background(), "doc-1", "firma", signers, "parallel"); err != nil {
		t.Fatalf("start firma: %v", err)
	}
	if err := service.StopSigning("doc-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := service.StartSigning(context.Background(), "doc-1", "inkless", signers, "parallel"); err != nil {
		t.Fatalf("start inkless: %v", err)
	}
	status, err := service.SigningStatus("doc-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State == signing.StateStopped {
		t.Fatalf("poller was not replaced after provider switch")
	}
	service.StopSigning("doc-1")
}

func TestStartWhileLiveRefused(t *testing.T) {
	service := newTestService(nil, nil)
	defer service.Close(context.Background())

	signers := []signing.Signer{{Name: "Ana", Email: "ana@example.com"}}
	if _, err := service.StartSigning(context.Background(), "doc-1", "", signers, "parallel"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.StartSigning(context.Background(), "doc-1", "", signers, "parallel"); err == nil {
		t.Fatalf("second start while live should be refused")
	}
	service.StopSigning("doc-1")
}
