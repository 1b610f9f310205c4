package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Polqt/crdtcollab/apperr"
)

// writeError renders a taxonomy error as a plain-text body with the
// matching status code.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(err)
	}
	http.Error(w, appErr.Message, appErr.Status())
}

// create handles POST /api/create: body is the plain-text title, response
// is the new document id as a string.
func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.New(apperr.BadRequest))
		return
	}
	title := strings.TrimSpace(string(body))
	if title == "" {
		writeError(w, apperr.New(apperr.BadRequest))
		return
	}

	id, err := h.app.Store.Create(r.Context(), title, h.codec.EmptySnapshot())
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, id.String())
}

// readSnapshot handles GET /api/documents/{id}: response is the raw
// snapshot bytes.
func (h *Handlers) readSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := h.app.Store.ReadSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(snapshot)
}

// readTitle handles GET /api/documents/{id}/title.
func (h *Handlers) readTitle(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	title, err := h.app.Store.ReadTitle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, title)
}

func parseDocID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.BadRequest)
	}
	return id, nil
}

var log = logrus.WithField("component", "httpapi")
