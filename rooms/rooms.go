// Package rooms is the in-process registry mapping document_id -> the set
// of live connections subscribed to that document.
package rooms

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Polqt/crdtcollab/metrics"
)

const shardCount = 32

// Sink is the capability a Connection needs: pushing a binary frame to its
// peer. wsconn.Connection implements this; tests substitute an in-memory
// recorder.
type Sink interface {
	SendBinary(payload []byte) error
}

// Connection is one live room member.
type Connection struct {
	ID   uuid.UUID
	Sink Sink
}

// room is an insertion-ordered, duplicate-free set of Connections for one
// document. Keeping insertion order as a slice alongside the lookup map
// lets Broadcast snapshot a consistent iteration order.
type room struct {
	order []uuid.UUID
	byID  map[uuid.UUID]Sink
}

func newRoom() *room {
	return &room{byID: make(map[uuid.UUID]Sink)}
}

func (r *room) add(c Connection) {
	if _, exists := r.byID[c.ID]; exists {
		return
	}
	r.byID[c.ID] = c.Sink
	r.order = append(r.order, c.ID)
}

func (r *room) remove(id uuid.UUID) {
	if _, exists := r.byID[id]; !exists {
		return
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *room) empty() bool { return len(r.order) == 0 }

// snapshot returns the current (id, sink) pairs in insertion order. Callers
// broadcast against this slice rather than the live room so a concurrent
// Remove during iteration is observed no later than the next broadcast,
// never mid-iteration.
func (r *room) snapshot() []Connection {
	out := make([]Connection, len(r.order))
	for i, id := range r.order {
		out[i] = Connection{ID: id, Sink: r.byID[id]}
	}
	return out
}

type shard struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

// Rooms is the sharded concurrent registry. Sharding by FNV hash of the
// document id keeps unrelated documents' rooms from contending on one lock.
type Rooms struct {
	shards [shardCount]*shard
}

// New returns an empty registry.
func New() *Rooms {
	rs := &Rooms{}
	for i := range rs.shards {
		rs.shards[i] = &shard{rooms: make(map[uuid.UUID]*room)}
	}
	return rs
}

func (r *Rooms) shardFor(docID uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(docID[:])
	return r.shards[h.Sum32()%shardCount]
}

// Add atomically inserts conn into docID's room, creating the room if
// absent. wasEmpty is true iff this call newly created the room — the
// signal wsconn uses to start exactly one MergeScheduler per room.
func (r *Rooms) Add(docID uuid.UUID, conn Connection) (wasEmpty bool) {
	s := r.shardFor(docID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[docID]
	if !ok {
		rm = newRoom()
		s.rooms[docID] = rm
		wasEmpty = true
		metrics.RoomsActive.Inc()
	}
	rm.add(conn)
	return wasEmpty
}

// Remove removes connID from docID's room. If the room becomes empty, the
// room entry itself is removed atomically with the last member's removal:
// rooms never exist as empty entries.
func (r *Rooms) Remove(docID uuid.UUID, connID uuid.UUID) {
	s := r.shardFor(docID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[docID]
	if !ok {
		return
	}
	rm.remove(connID)
	if rm.empty() {
		delete(s.rooms, docID)
		metrics.RoomsActive.Dec()
	}
}

// Exists reports whether docID currently has a non-empty room. Used by
// MergeScheduler to decide whether to terminate on tick.
func (r *Rooms) Exists(docID uuid.UUID) bool {
	s := r.shardFor(docID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[docID]
	return ok
}

// Broadcast enqueues payload on every member of docID's room except
// originConnID. Per-recipient send failures are logged and skipped, never
// propagated.
func (r *Rooms) Broadcast(docID uuid.UUID, originConnID uuid.UUID, payload []byte) {
	s := r.shardFor(docID)
	s.mu.Lock()
	rm, ok := s.rooms[docID]
	var members []Connection
	if ok {
		members = rm.snapshot()
	}
	s.mu.Unlock()

	for _, m := range members {
		if m.ID == originConnID {
			continue
		}
		if err := m.Sink.SendBinary(payload); err != nil {
			metrics.BroadcastFailures.Inc()
			logrus.WithFields(logrus.Fields{
				"document_id":   docID,
				"connection_id": m.ID,
				"err":           err,
			}).Warn("broadcast send failed")
		}
	}
}
