package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/paradox-protocol/internal/engine"
	"github.com/talgya/paradox-protocol/internal/events"
)

// Journal buffers published events until the next save.
type Journal struct {
	mu      sync.Mutex
	pending []events.Event
	limit   int
	dropped int
}

// NewJournal creates a journal holding at most limit unsaved events.
// Older events are dropped first when the limit is reached.
func NewJournal(limit int) *Journal {
	return &Journal{limit: limit}
}

// Publish implements events.Sink.
func (j *Journal) Publish(e events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = append(j.pending, e)
	if j.limit > 0 && len(j.pending) > j.limit {
		over := len(j.pending) - j.limit
		j.pending = append(j.pending[:0:0], j.pending[over:]...)
		j.dropped += over
	}
}

// Drain returns the buffered events and how many were dropped, and resets
// the buffer.
func (j *Journal) Drain() ([]events.Event, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out, dropped := j.pending, j.dropped
	j.pending, j.dropped = nil, 0
	return out, dropped
}

// Requeue puts events back at the front after a failed save.
func (j *Journal) Requeue(evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = append(append([]events.Event(nil), evs...), j.pending...)
}

// Checkpoint saves sim with the journaled events and prunes snapshots
// beyond retain. Events are put back in the journal when the save fails.
func (db *DB) Checkpoint(ctx context.Context, sim *engine.Simulation, journal *Journal, retain int) (Record, error) {
	var pending []events.Event
	if journal != nil {
		var dropped int
		pending, dropped = journal.Drain()
		if dropped > 0 {
			slog.Warn("event journal overflowed, oldest events not persisted", "dropped", dropped)
		}
	}
	rec, err := db.SaveState(ctx, sim, pending)
	if err != nil {
		if journal != nil {
			journal.Requeue(pending)
		}
		return rec, fmt.Errorf("save state: %w", err)
	}
	if n, err := db.PruneSnapshots(ctx, retain); err != nil {
		slog.Warn("snapshot pruning failed", "error", err)
	} else if n > 0 {
		slog.Debug("pruned snapshots", "removed", n, "kept", retain)
	}
	return rec, nil
}
