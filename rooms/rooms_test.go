package rooms

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	payload [][]byte
	fail    bool
}

func (s *recordingSink) SendBinary(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSendFailed
	}
	s.payload = append(s.payload, payload)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payload)
}

var errSendFailed = &sendFailure{}

type sendFailure struct{}

func (*sendFailure) Error() string { return "send failed" }

func TestAddReportsWasEmptyOnlyOnFirstMember(t *testing.T) {
	r := New()
	doc := uuid.New()

	wasEmpty := r.Add(doc, Connection{ID: uuid.New(), Sink: &recordingSink{}})
	require.True(t, wasEmpty, "the first connection into a room must report wasEmpty")

	wasEmpty = r.Add(doc, Connection{ID: uuid.New(), Sink: &recordingSink{}})
	require.False(t, wasEmpty, "a second connection into an existing room must not report wasEmpty")
}

func TestRoomsNeverExistAsEmptyEntries(t *testing.T) {
	r := New()
	doc := uuid.New()
	connID := uuid.New()

	r.Add(doc, Connection{ID: connID, Sink: &recordingSink{}})
	require.True(t, r.Exists(doc))

	r.Remove(doc, connID)
	require.False(t, r.Exists(doc), "a room must not exist once its last member is removed")
}

func TestRemoveOfUnknownRoomIsNoop(t *testing.T) {
	r := New()
	require.NotPanics(t, func() {
		r.Remove(uuid.New(), uuid.New())
	})
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	r := New()
	doc := uuid.New()

	originID := uuid.New()
	origin := &recordingSink{}
	r.Add(doc, Connection{ID: originID, Sink: origin})

	peerID := uuid.New()
	peer := &recordingSink{}
	r.Add(doc, Connection{ID: peerID, Sink: peer})

	r.Broadcast(doc, originID, []byte("payload"))

	require.Equal(t, 0, origin.count(), "the origin connection must never receive its own broadcast")
	require.Equal(t, 1, peer.count())
}

func TestBroadcastToMissingRoomIsNoop(t *testing.T) {
	r := New()
	require.NotPanics(t, func() {
		r.Broadcast(uuid.New(), uuid.New(), []byte("x"))
	})
}

func TestBroadcastSkipsFailingSinksWithoutAbortingOthers(t *testing.T) {
	r := New()
	doc := uuid.New()

	failing := &recordingSink{fail: true}
	r.Add(doc, Connection{ID: uuid.New(), Sink: failing})

	healthy := &recordingSink{}
	r.Add(doc, Connection{ID: uuid.New(), Sink: healthy})

	r.Broadcast(doc, uuid.Nil, []byte("payload"))

	require.Equal(t, 1, healthy.count(), "a failing sink must not prevent delivery to other members")
}

func TestConcurrentAddRemoveIsSafe(t *testing.T) {
	r := New()
	doc := uuid.New()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = uuid.New()
	}

	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			r.Add(doc, Connection{ID: id, Sink: &recordingSink{}})
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			r.Remove(doc, id)
		}(id)
	}
	wg.Wait()

	require.False(t, r.Exists(doc))
}
