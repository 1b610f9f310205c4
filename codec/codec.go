package codec

import (
	"encoding/json"
	"fmt"
)

// Change is one decoded CRDT operation: either an insert or a delete,
// never both. DecodeChange never panics on malformed bytes; it returns an
// error instead.
type Change struct {
	Insert *InsertOp `json:"insert,omitempty"`
	Delete *DeleteOp `json:"delete,omitempty"`
}

// InsertOp places Char immediately after the node identified by After
// (the zero NodeID means "at the beginning of the document").
type InsertOp struct {
	ID    NodeID `json:"id"`
	After NodeID `json:"after"`
	Char  rune   `json:"char"`
}

// DeleteOp tombstones the node identified by ID. Concurrent inserts
// anchored elsewhere are unaffected.
type DeleteOp struct {
	ID NodeID `json:"id"`
}

func (c Change) validate() error {
	switch {
	case c.Insert != nil && c.Delete != nil:
		return fmt.Errorf("codec: change carries both insert and delete")
	case c.Insert == nil && c.Delete == nil:
		return fmt.Errorf("codec: change carries neither insert nor delete")
	case c.Insert != nil && c.Insert.ID.zero():
		return fmt.Errorf("codec: insert with zero id")
	case c.Delete != nil && c.Delete.ID.zero():
		return fmt.Errorf("codec: delete with zero id")
	}
	return nil
}

// snapshotWire is the on-disk/on-wire shape of a Doc, produced by Save and
// consumed by LoadSnapshot.
type snapshotWire struct {
	Nodes []node `json:"nodes"`
}

// Codec is the document-collaboration core's only dependency on a CRDT
// engine: Store, Rooms, IngestService, and MergeScheduler all operate on
// Change and snapshot bytes through this interface, never on the concrete
// RGA types, so the engine itself stays swappable.
type Codec interface {
	EmptySnapshot() []byte
	DecodeChange(payload []byte) (Change, error)
	LoadSnapshot(snapshot []byte) (*Doc, error)
	Apply(doc *Doc, changes []Change) error
	Save(doc *Doc) ([]byte, error)
}

// RGACodec is the default Codec, backed by the RGA engine in this package.
type RGACodec struct{}

// New returns the default RGA-backed Codec.
func New() Codec { return RGACodec{} }

func (RGACodec) EmptySnapshot() []byte {
	b, err := json.Marshal(snapshotWire{})
	if err != nil {
		// json.Marshal of a struct with no unsupported types cannot fail.
		panic(fmt.Sprintf("codec: marshal empty snapshot: %v", err))
	}
	return b
}

func (RGACodec) DecodeChange(payload []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return Change{}, fmt.Errorf("codec: decode change: %w", err)
	}
	if err := c.validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}

func (RGACodec) LoadSnapshot(snapshot []byte) (*Doc, error) {
	var w snapshotWire
	if len(snapshot) == 0 {
		return newDoc(), nil
	}
	if err := json.Unmarshal(snapshot, &w); err != nil {
		return nil, fmt.Errorf("codec: load snapshot: %w", err)
	}
	return docFromNodes(w.Nodes), nil
}

// Apply folds changes into doc in the given order; a change whose anchor or
// target node is not yet present is retried after the others, and Apply
// fails only when a pass makes no progress. Apply is associative and
// commutative over the RGA semantics: replaying the same change set in any
// order converges to the same document.
func (RGACodec) Apply(doc *Doc, changes []Change) error {
	pending := changes
	for len(pending) > 0 {
		var deferred []Change
		var lastErr error
		for _, c := range pending {
			var err error
			switch {
			case c.Insert != nil:
				err = doc.insert(node{ID: c.Insert.ID, InsertAfter: c.Insert.After, Char: c.Insert.Char})
			case c.Delete != nil:
				err = doc.delete(c.Delete.ID)
			default:
				return fmt.Errorf("codec: apply: change validated neither insert nor delete")
			}
			if err != nil {
				deferred = append(deferred, c)
				lastErr = err
			}
		}
		if len(deferred) == len(pending) {
			return lastErr
		}
		pending = deferred
	}
	return nil
}

func (RGACodec) Save(doc *Doc) ([]byte, error) {
	b, err := json.Marshal(snapshotWire{Nodes: doc.snapshotNodes()})
	if err != nil {
		return nil, fmt.Errorf("codec: save snapshot: %w", err)
	}
	return b, nil
}

// EncodeChange is a test/tooling helper producing the wire bytes for a
// Change, the inverse of DecodeChange.
func EncodeChange(c Change) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}
