// Package snapshot provides the local durability slot: one durable
// document snapshot per document identity, surviving agent restarts.
// Slots are overwritten on each write and never deleted; a stale slot is
// superseded by the next write, not purged.
package snapshot

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the unit of local durability: the document body, its plain
// text, the client edit timestamp it was captured at, and the wall-clock
// write time.
type Snapshot struct {
	HTML            string    `json:"html"`
	Text            string    `json:"text"`
	ClientUpdatedAt int64     `json:"clientUpdatedAtMs"`
	SavedAt         time.Time `json:"savedAt"`
}

// Store is keyed durable storage for snapshots. Get reports whether a
// slot exists for the document. Put overwrites unconditionally.
type Store interface {
	Get(ctx context.Context, documentID string) (Snapshot, bool, error)
	Put(ctx context.Context, documentID string, snap Snapshot) error
	Close() error
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// EditClock tracks the most recent local edit timestamp for one document
// session. Readings are monotonically non-decreasing even if the wall
// clock steps backwards.
type EditClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewEditClock() *EditClock {
	return &EditClock{now: time.Now}
}

// Touch records an edit and returns its timestamp in milliseconds.
func (c *EditClock) Touch() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	c.last = ms
	return ms
}

// Observe raises the clock floor to an externally sourced timestamp,
// such as the remote copy's client timestamp at load time. Later
// readings can never fall below an observed value.
func (c *EditClock) Observe(ms int64) {
	c.mu.Lock()
	if ms > c.last {
		c.last = ms
	}
	c.mu.Unlock()
}

// Last returns the most recent edit timestamp, or 0 if nothing has been
// edited this session.
func (c *EditClock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stamp returns max(now, last edit) in milliseconds. Used to timestamp a
// save so it can never carry a timestamp older than the edit it persists,
// even when the save fires late.
func (c *EditClock) Stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	return ms
}
