package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Polqt/crdtcollab/apperr"
)

// Fake is an in-memory Store used by package tests throughout ingest,
// merge, and wsconn, so those tests run without a live Postgres instance.
type Fake struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*fakeDoc
	nextClock time.Time
}

type fakeDoc struct {
	title      string
	snapshot   []byte
	updatedAt  time.Time
	changes    []ChangeRecord
}

// NewFake returns an empty in-memory Store.
func NewFake() *Fake {
	return &Fake{docs: make(map[uuid.UUID]*fakeDoc), nextClock: time.Now()}
}

// clock hands out strictly increasing timestamps, standing in for
// Postgres's clock_timestamp() default on document_updates.created_at.
func (f *Fake) clock() time.Time {
	f.nextClock = f.nextClock.Add(time.Microsecond)
	return f.nextClock
}

func (f *Fake) Create(_ context.Context, title string, snapshot []byte) (uuid.UUID, error) {
	if title == "" {
		return uuid.Nil, apperr.New(apperr.BadRequest)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.docs[id] = &fakeDoc{title: title, snapshot: snapshot, updatedAt: f.clock()}
	return id, nil
}

func (f *Fake) ReadSnapshot(_ context.Context, id uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound)
	}
	return d.snapshot, nil
}

func (f *Fake) ReadTitle(_ context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return "", apperr.New(apperr.NotFound)
	}
	return d.title, nil
}

func (f *Fake) AppendChange(_ context.Context, docID uuid.UUID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return apperr.New(apperr.NotFound)
	}
	d.changes = append(d.changes, ChangeRecord{ID: uuid.New(), Payload: payload, CreatedAt: f.clock()})
	return nil
}

func (f *Fake) ListChanges(_ context.Context, docID uuid.UUID) ([]ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return nil, apperr.New(apperr.NotFound)
	}
	out := make([]ChangeRecord, len(d.changes))
	copy(out, d.changes)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type fakeTx struct {
	store *Fake
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

func (f *Fake) Begin(context.Context) (Tx, error) {
	return fakeTx{store: f}, nil
}

func (f *Fake) UpdateSnapshot(_ context.Context, tx Tx, docID uuid.UUID, snapshot []byte) error {
	if _, ok := tx.(fakeTx); !ok {
		return apperr.Wrap(errWrongTxType)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return apperr.New(apperr.NotFound)
	}
	d.snapshot = snapshot
	d.updatedAt = f.clock()
	return nil
}

func (f *Fake) DeleteChanges(_ context.Context, tx Tx, ids []uuid.UUID) error {
	if _, ok := tx.(fakeTx); !ok {
		return apperr.Wrap(errWrongTxType)
	}
	if len(ids) == 0 {
		return nil
	}
	toDelete := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// ChangeRecord ids are globally unique, so scanning every document is
	// equivalent to (and simpler than) requiring callers to also pass a
	// document_id here, matching the real Store's `DELETE ... WHERE id =
	// ANY($1)` which likewise has no per-document scope.
	for _, doc := range f.docs {
		kept := doc.changes[:0]
		for _, c := range doc.changes {
			if _, del := toDelete[c.ID]; !del {
				kept = append(kept, c)
			}
		}
		doc.changes = kept
	}
	return nil
}

var _ Store = (*Fake)(nil)
