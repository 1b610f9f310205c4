// Package merge implements the per-room background compaction task: one
// goroutine per active room, folding the change log into a snapshot inside
// a single transaction on a fixed tick, self-terminating when its room
// empties or the root context is cancelled.
package merge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/metrics"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

// DefaultInterval is MERGE_INTERVAL's default.
const DefaultInterval = 300 * time.Second

// State is the scheduler's lifecycle state, named explicitly (rather than
// left implicit in control flow) for observability.
type State int

const (
	Idle State = iota
	Merging
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Merging:
		return "merging"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Scheduler runs exactly one merge cycle per tick for one document, until
// its room empties or ctx is cancelled.
type Scheduler struct {
	docID    uuid.UUID
	store    store.Store
	rooms    *rooms.Rooms
	codec    codec.Codec
	interval time.Duration

	mu    sync.RWMutex
	state State
}

// New builds a Scheduler for docID. interval <= 0 selects DefaultInterval.
func New(docID uuid.UUID, s store.Store, r *rooms.Rooms, c codec.Codec, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{docID: docID, store: s, rooms: r, codec: c, interval: interval}
}

// State reports the scheduler's current lifecycle state (test/metrics only).
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled or the room empties on a tick,
// transitioning Idle <-> Merging on each cycle. Exactly one Scheduler
// exists per document_id while its room exists; SessionLoop starts one
// goroutine running Run when Rooms.Add reports wasEmpty == true.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logrus.WithField("document_id", s.docID)
	s.setState(Idle)
	log.Debug("merge scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.setState(Terminated)
			log.Debug("merge scheduler cancelled")
			return

		case <-ticker.C:
			if !s.rooms.Exists(s.docID) {
				s.setState(Terminated)
				log.Debug("merge scheduler terminating: room empty")
				return
			}

			s.setState(Merging)
			if err := s.runCycle(ctx); err != nil {
				metrics.MergesFailed.Inc()
				log.WithError(err).Error("merge cycle failed")
			} else {
				metrics.MergesRun.Inc()
			}
			s.setState(Idle)
		}
	}
}

// runCycle executes one merge cycle (read snapshot, list changes, decode,
// apply, save, delete) inside a single transaction. Any error after the
// transaction begins rolls back and is returned for the caller to log; the
// scheduler remains Idle and retries on the next tick with no backoff.
func (s *Scheduler) runCycle(ctx context.Context) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	snapshot, err := s.store.ReadSnapshot(ctx, s.docID)
	if err != nil {
		return err
	}
	doc, err := s.codec.LoadSnapshot(snapshot)
	if err != nil {
		return err
	}

	records, err := s.store.ListChanges(ctx, s.docID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		committed = true
		return nil
	}

	decoded := make([]codec.Change, 0, len(records))
	for _, rec := range records {
		c, err := s.codec.DecodeChange(rec.Payload)
		if err != nil {
			// A malformed log entry aborts the cycle; the record is left in
			// place for investigation, never deleted.
			return err
		}
		decoded = append(decoded, c)
	}

	if err := s.codec.Apply(doc, decoded); err != nil {
		return err
	}
	newSnapshot, err := s.codec.Save(doc)
	if err != nil {
		return err
	}

	if err := s.store.UpdateSnapshot(ctx, tx, s.docID, newSnapshot); err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := s.store.DeleteChanges(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
