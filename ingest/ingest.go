// Package ingest is the stateless façade combining a Store write and a
// Rooms fan-out for one inbound change.
package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/Polqt/crdtcollab/apperr"
	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/metrics"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

// Service is the single entry point for pushing an inbound change through
// decode validation, durable append, and live fan-out.
type Service struct {
	codec codec.Codec
	store store.Store
	rooms *rooms.Rooms
}

// New builds an IngestService over the given Codec, Store, and Rooms.
func New(c codec.Codec, s store.Store, r *rooms.Rooms) *Service {
	return &Service{codec: c, store: s, rooms: r}
}

// PushChange validates, appends, and fans out one inbound change.
//
// Ordering guarantee: callers invoking PushChange sequentially for the same
// originConnID get append-before-append and dispatch-initiated-before-dispatch
// for successive calls, because this method does not return (and thus does
// not let the caller proceed to the next change) until Store.AppendChange
// has completed and Rooms.Broadcast has been initiated.
func (s *Service) PushChange(ctx context.Context, docID uuid.UUID, originConnID uuid.UUID, payload []byte) error {
	if _, err := s.codec.DecodeChange(payload); err != nil {
		metrics.ChangesRejected.Inc()
		return apperr.New(apperr.BadRequest)
	}

	if err := s.store.AppendChange(ctx, docID, payload); err != nil {
		return err
	}
	metrics.ChangesIngested.Inc()

	s.rooms.Broadcast(docID, originConnID, payload)
	return nil
}
