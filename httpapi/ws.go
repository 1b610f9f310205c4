package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Polqt/crdtcollab/wsconn"
)

type upgrader struct {
	ws websocket.Upgrader
}

func newUpgrader() *upgrader {
	return &upgrader{ws: websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}}
}

// ws handles GET /api/ws/{id}: upgrades the connection, then hands off to a
// wsconn.SessionLoop for the rest of its lifetime.
func (h *Handlers) ws(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.ws.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	loop := wsconn.New(wsconn.Deps{
		Store:         h.app.Store,
		Rooms:         h.app.Rooms,
		Ingest:        h.ingest,
		Codec:         h.codec,
		MergeInterval: h.mergeInterval,
	}, id, wsconn.NewConnection(conn))

	go loop.Run(h.app.Context())
}
