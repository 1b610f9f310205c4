package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/crdtcollab/apperr"
	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

func TestPushChangeRejectsMalformedPayloadWithoutTouchingStore(t *testing.T) {
	c := codec.New()
	s := store.NewFake()
	r := rooms.New()
	ctx := context.Background()

	docID, err := s.Create(ctx, "doc", c.EmptySnapshot())
	require.NoError(t, err)

	svc := New(c, s, r)
	err = svc.PushChange(ctx, docID, uuid.New(), []byte("garbage"))
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.BadRequest, appErr.Kind)

	changes, err := s.ListChanges(ctx, docID)
	require.NoError(t, err)
	require.Empty(t, changes, "a rejected decode must never reach the store")
}

func TestPushChangeAppendsThenBroadcastsExcludingOrigin(t *testing.T) {
	c := codec.New()
	s := store.NewFake()
	r := rooms.New()
	ctx := context.Background()

	docID, err := s.Create(ctx, "doc", c.EmptySnapshot())
	require.NoError(t, err)

	originID := uuid.New()
	origin := &capturingSink{}
	r.Add(docID, rooms.Connection{ID: originID, Sink: origin})

	peerID := uuid.New()
	peer := &capturingSink{}
	r.Add(docID, rooms.Connection{ID: peerID, Sink: peer})

	svc := New(c, s, r)
	payload := insertPayload(t, c)
	require.NoError(t, svc.PushChange(ctx, docID, originID, payload))

	changes, err := s.ListChanges(ctx, docID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, payload, changes[0].Payload)

	require.Empty(t, origin.received, "the originating connection must not receive its own change back")
	require.Equal(t, [][]byte{payload}, peer.received)
}

type capturingSink struct {
	received [][]byte
}

func (s *capturingSink) SendBinary(payload []byte) error {
	s.received = append(s.received, payload)
	return nil
}

func insertPayload(t *testing.T, c codec.Codec) []byte {
	t.Helper()
	wire, err := codec.EncodeChange(codec.Change{
		Insert: &codec.InsertOp{ID: codec.NodeID{Seq: 1, NodeID: "a"}, Char: 'X'},
	})
	require.NoError(t, err)
	return wire
}
