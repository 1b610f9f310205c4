// Package appctx holds the process-wide values every component needs:
// the Store handle, the Rooms registry, and the root cancellation context
// all background work derives from.
package appctx

import (
	"context"
	"fmt"

	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

// AppContext is immutable after Build. MergeScheduler goroutines must not
// retain *AppContext itself (it would keep Store and Rooms alive past
// shutdown via a reference cycle) — they hold only Store, Rooms, and a
// derived child context.
type AppContext struct {
	Store  store.Store
	Rooms  *rooms.Rooms
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the root cancellation context. Cancel it via Shutdown.
func (a *AppContext) Context() context.Context { return a.ctx }

// Shutdown cancels the root context, which all MergeScheduler and
// SessionLoop goroutines observe on their next select.
func (a *AppContext) Shutdown() { a.cancel() }

// Builder builds an AppContext, failing fast if required fields are unset.
type Builder struct {
	store store.Store
	rooms *rooms.Rooms
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

func (b *Builder) WithRooms(r *rooms.Rooms) *Builder {
	b.rooms = r
	return b
}

// Build constructs the AppContext rooted on ctx, returning an error if
// Store or Rooms was never set.
func (b *Builder) Build(ctx context.Context) (*AppContext, error) {
	if b.store == nil {
		return nil, fmt.Errorf("appctx: store not set")
	}
	if b.rooms == nil {
		return nil, fmt.Errorf("appctx: rooms not set")
	}
	rootCtx, cancel := context.WithCancel(ctx)
	return &AppContext{Store: b.store, Rooms: b.rooms, ctx: rootCtx, cancel: cancel}, nil
}
