// Package wsconn is the per-connection state machine over an upgraded
// WebSocket: Opening -> CatchingUp -> Active -> Closing -> Closed.
package wsconn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Polqt/crdtcollab/apperr"
	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/ingest"
	"github.com/Polqt/crdtcollab/merge"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

// State is the SessionLoop's lifecycle state.
type State int

const (
	Opening State = iota
	CatchingUp
	Active
	Closing
	Closed
)

// Ack is the JSON envelope sent, as a binary frame, in response to each
// inbound binary change.
type Ack struct {
	Status  uint16 `json:"status"`
	Message string `json:"message"`
}

// Deps bundles the collaborators SessionLoop needs to avoid retaining a
// whole *appctx.AppContext: schedulers and loops hold only what they use,
// so nothing keeps the full context alive past shutdown.
type Deps struct {
	Store         store.Store
	Rooms         *rooms.Rooms
	Ingest        *ingest.Service
	Codec         codec.Codec
	MergeInterval time.Duration // 0 selects merge.DefaultInterval
}

// SessionLoop drives one connection from upgrade to close.
type SessionLoop struct {
	deps   Deps
	docID  uuid.UUID
	connID uuid.UUID
	conn   Frame
	state  State
}

// New builds a SessionLoop for an already-upgraded connection, scoped to
// docID.
func New(deps Deps, docID uuid.UUID, conn Frame) *SessionLoop {
	return &SessionLoop{deps: deps, docID: docID, connID: uuid.New(), conn: conn, state: Opening}
}

// State reports the loop's current lifecycle state (test-only accessor; the
// loop runs on a single goroutine so no synchronization is needed).
func (l *SessionLoop) State() State { return l.state }

// ConnID returns the server-assigned connection identifier.
func (l *SessionLoop) ConnID() uuid.UUID { return l.connID }

// Run executes the full lifecycle: catch-up, then multiplex inbound frames
// until the session closes for any reason. ctx is the root cancellation
// context; its cancellation transitions the loop to Closing.
func (l *SessionLoop) Run(ctx context.Context) {
	log := logrus.WithFields(logrus.Fields{"document_id": l.docID, "connection_id": l.connID})

	l.state = CatchingUp
	registered, err := l.catchUp(ctx)
	if err != nil {
		log.WithError(err).Warn("catch-up failed")
		_ = l.conn.Close()
		l.state = Closed
		return
	}
	if !registered {
		// A send failure during replay closes without ever registering, so
		// no orphaned scheduler is ever started.
		_ = l.conn.Close()
		l.state = Closed
		return
	}

	l.state = Active
	l.runActive(ctx, log)

	l.state = Closing
	l.deps.Rooms.Remove(l.docID, l.connID)
	if err := l.conn.Close(); err != nil {
		log.WithError(err).Debug("error closing connection")
	}
	l.state = Closed
}

// catchUp replays document_updates in created_at order, then registers the
// connection in Rooms. Catch-up precedes registration so no live fan-out
// frame can arrive before the historical replay completes.
func (l *SessionLoop) catchUp(ctx context.Context) (registered bool, err error) {
	records, err := l.deps.Store.ListChanges(ctx, l.docID)
	if err != nil {
		return false, err
	}

	for _, rec := range records {
		if sendErr := l.conn.SendBinary(rec.Payload); sendErr != nil {
			return false, nil
		}
	}

	wasEmpty := l.deps.Rooms.Add(l.docID, rooms.Connection{ID: l.connID, Sink: l.conn})
	if wasEmpty {
		sched := merge.New(l.docID, l.deps.Store, l.deps.Rooms, l.deps.Codec, l.deps.MergeInterval)
		childCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer cancel()
			sched.Run(childCtx)
		}()
	}
	return true, nil
}

// runActive multiplexes inbound frames until a close condition is reached.
func (l *SessionLoop) runActive(ctx context.Context, log *logrus.Entry) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, payload, err := l.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("transport error or end-of-stream")
				}
				return
			}

			switch mt {
			case websocket.TextMessage:
				_ = l.conn.SendText(payload) // diagnostic echo, no protocol meaning

			case websocket.BinaryMessage:
				if l.handleBinary(ctx, payload, log) {
					return
				}

			case websocket.CloseMessage:
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// handleBinary decodes and acks one inbound change. It reports stop == true
// when the ack could not be delivered, telling runActive's read loop to
// unwind so Run can transition the session to Closing.
func (l *SessionLoop) handleBinary(ctx context.Context, payload []byte, log *logrus.Entry) (stop bool) {
	ack := Ack{Status: 200, Message: "Ok"}
	if err := l.deps.Ingest.PushChange(ctx, l.docID, l.connID, payload); err != nil {
		if appErr, ok := apperr.As(err); ok {
			ack = Ack{Status: uint16(appErr.Status()), Message: appErr.Message}
		} else {
			ack = Ack{Status: 500, Message: "Internal Server Error"}
		}
	}

	b, marshalErr := json.Marshal(ack)
	if marshalErr != nil {
		log.WithError(marshalErr).Error("failed to marshal ack envelope")
		return false
	}
	if err := l.conn.SendBinary(b); err != nil {
		log.WithError(err).Debug("ack send failed, ending session")
		return true
	}
	return false
}
