package wsconn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/ingest"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

// fakeFrame is an in-memory Frame: inbound holds the messages ReadMessage
// will return in order, sent records every outbound SendBinary and texts
// every outbound SendText.
type fakeFrame struct {
	mu       sync.Mutex
	inbound  []fakeInbound
	sent     [][]byte
	texts    [][]byte
	closed   bool
	sendFail bool
}

type fakeInbound struct {
	messageType int
	payload     []byte
}

func (f *fakeFrame) SendBinary(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFail {
		return errFakeSendFailed
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeFrame) SendText(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, payload)
	return nil
}

func (f *fakeFrame) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return 0, nil, websocket.ErrCloseSent
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next.messageType, next.payload, nil
}

func (f *fakeFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFrame) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type errString string

func (e errString) Error() string { return string(e) }

const errFakeSendFailed = errString("fake send failed")

func noopLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discard{})
	return logrus.NewEntry(log)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newDeps(t *testing.T) (Deps, uuid.UUID) {
	t.Helper()
	c := codec.New()
	s := store.NewFake()
	r := rooms.New()
	ing := ingest.New(c, s, r)

	docID, err := s.Create(context.Background(), "doc", c.EmptySnapshot())
	require.NoError(t, err)

	return Deps{Store: s, Rooms: r, Ingest: ing, Codec: c, MergeInterval: time.Hour}, docID
}

func TestCatchUpReplaysHistoryBeforeRegistering(t *testing.T) {
	deps, docID := newDeps(t)

	wire, err := codec.EncodeChange(codec.Change{Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'H'}})
	require.NoError(t, err)
	require.NoError(t, deps.Store.AppendChange(context.Background(), docID, wire))

	frame := &fakeFrame{}
	loop := New(deps, docID, frame)

	registered, err := loop.catchUp(context.Background())
	require.NoError(t, err)
	require.True(t, registered)

	require.Equal(t, [][]byte{wire}, frame.sent, "catch-up must replay every historical change")
	require.True(t, deps.Rooms.Exists(docID), "catch-up must register the connection after replay")
}

func TestCatchUpDoesNotRegisterOnSendFailure(t *testing.T) {
	deps, docID := newDeps(t)

	wire, err := codec.EncodeChange(codec.Change{Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'H'}})
	require.NoError(t, err)
	require.NoError(t, deps.Store.AppendChange(context.Background(), docID, wire))

	frame := &fakeFrame{sendFail: true}
	loop := New(deps, docID, frame)

	registered, err := loop.catchUp(context.Background())
	require.NoError(t, err)
	require.False(t, registered, "a send failure during replay must not register the connection")
	require.False(t, deps.Rooms.Exists(docID))
}

func TestHandleBinaryAcksSuccessAndAppendsChange(t *testing.T) {
	deps, docID := newDeps(t)
	frame := &fakeFrame{}
	loop := New(deps, docID, frame)

	wire, err := codec.EncodeChange(codec.Change{Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'H'}})
	require.NoError(t, err)

	stop := loop.handleBinary(context.Background(), wire, noopLogger())
	require.False(t, stop, "a successfully acked change must not stop the read loop")

	require.Len(t, frame.sent, 1)
	var ack Ack
	require.NoError(t, json.Unmarshal(frame.sent[0], &ack))
	require.EqualValues(t, 200, ack.Status)

	changes, err := deps.Store.ListChanges(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

func TestHandleBinaryAcksRejectionWithoutClosing(t *testing.T) {
	deps, docID := newDeps(t)
	frame := &fakeFrame{}
	loop := New(deps, docID, frame)

	stop := loop.handleBinary(context.Background(), []byte("garbage"), noopLogger())
	require.False(t, stop, "a rejected change must still ack and keep the session open")

	require.Len(t, frame.sent, 1)
	var ack Ack
	require.NoError(t, json.Unmarshal(frame.sent[0], &ack))
	require.EqualValues(t, 400, ack.Status)
	require.False(t, frame.closed, "a malformed change must ack an error but never close the connection")
}

func TestHandleBinaryStopsLoopWhenAckSendFails(t *testing.T) {
	deps, docID := newDeps(t)
	frame := &fakeFrame{}
	loop := New(deps, docID, frame)

	wire, err := codec.EncodeChange(codec.Change{Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'H'}})
	require.NoError(t, err)

	frame.mu.Lock()
	frame.sendFail = true
	frame.mu.Unlock()

	stop := loop.handleBinary(context.Background(), wire, noopLogger())
	require.True(t, stop, "a failed ack send must stop the read loop so the session transitions to Closing")
}

func TestRunTransitionsToClosedWhenAckSendFails(t *testing.T) {
	deps, docID := newDeps(t)

	wire, err := codec.EncodeChange(codec.Change{Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'H'}})
	require.NoError(t, err)

	frame := &fakeFrame{
		inbound:  []fakeInbound{{messageType: websocket.BinaryMessage, payload: wire}},
		sendFail: true, // catch-up replays nothing (no history yet), so this only affects the ack
	}
	loop := New(deps, docID, frame)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not terminate after a failed ack send")
	}

	require.Equal(t, Closed, loop.State())
	require.False(t, deps.Rooms.Exists(docID), "the session must be removed from its room once the loop unwinds")
}
