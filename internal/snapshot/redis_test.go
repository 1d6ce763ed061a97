package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "doc-1"); err != nil || ok {
		t.Fatalf("expected empty slot, got ok=%v err=%v", ok, err)
	}

	want := Snapshot{
		HTML:            "<p>redis draft</p>",
		Text:            "redis draft",
		ClientUpdatedAt: 1700000000123,
		SavedAt:         time.UnixMilli(1700000000500).UTC(),
	}
	if err := store.Put(ctx, "doc-1", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.HTML != want.HTML || got.Text != want.Text || got.ClientUpdatedAt != want.ClientUpdatedAt {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRedisStoreOverwrite(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "doc-1", Snapshot{Text: "old", ClientUpdatedAt: 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "doc-1", Snapshot{Text: "new", ClientUpdatedAt: 2}); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.Text != "new" || got.ClientUpdatedAt != 2 {
		t.Errorf("overwrite did not supersede: %+v", got)
	}
}

func TestRedisStoreKeysAreScopedPerDocument(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "doc-a", Snapshot{Text: "a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "doc-b", Snapshot{Text: "b"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	gotA, _, _ := store.Get(ctx, "doc-a")
	gotB, _, _ := store.Get(ctx, "doc-b")
	if gotA.Text != "a" || gotB.Text != "b" {
		t.Errorf("slots bled across documents: a=%+v b=%+v", gotA, gotB)
	}
}
