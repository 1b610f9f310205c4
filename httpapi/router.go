// Package httpapi is the HTTP surface: the document create/read/title
// endpoints and the WebSocket upgrade, routed with github.com/gorilla/mux.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Polqt/crdtcollab/appctx"
	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/ingest"
)

// Handlers bundles the dependencies the HTTP surface needs.
type Handlers struct {
	app           *appctx.AppContext
	codec         codec.Codec
	ingest        *ingest.Service
	mergeInterval time.Duration
	upgrader      *upgrader
}

// NewRouter builds the full mux.Router for the document and WebSocket
// routes.
func NewRouter(app *appctx.AppContext, c codec.Codec, ing *ingest.Service, mergeInterval time.Duration) *mux.Router {
	h := &Handlers{app: app, codec: c, ingest: ing, mergeInterval: mergeInterval, upgrader: newUpgrader()}

	r := mux.NewRouter()
	r.HandleFunc("/api/create", h.create).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}", h.readSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/title", h.readTitle).Methods(http.MethodGet)
	r.HandleFunc("/api/ws/{id}", h.ws).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	return r
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
