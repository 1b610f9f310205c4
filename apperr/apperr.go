// Package apperr defines the error taxonomy shared by the HTTP surface and
// the in-band WebSocket ack envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind identifies one taxonomy member. The numeric value is the HTTP-
// equivalent status code.
type Kind int

const (
	BadRequest       Kind = http.StatusBadRequest
	Unauthorized     Kind = http.StatusUnauthorized
	Forbidden        Kind = http.StatusForbidden
	NotFound         Kind = http.StatusNotFound
	MethodNotAllowed Kind = http.StatusMethodNotAllowed
	Conflict         Kind = http.StatusConflict
	Unprocessable    Kind = http.StatusUnprocessableEntity
	Internal         Kind = http.StatusInternalServerError
	NotImplemented   Kind = http.StatusNotImplemented
	BadGateway       Kind = http.StatusBadGateway
	Unavailable      Kind = http.StatusServiceUnavailable
)

func (k Kind) String() string {
	if s := http.StatusText(int(k)); s != "" {
		return s
	}
	return fmt.Sprintf("status %d", int(k))
}

// Error is the single error type that flows from Store/Codec/Rooms up
// through IngestService and SessionLoop to both the HTTP and WebSocket
// surfaces. detail carries the wrapped cause for logging only — it is never
// rendered to the client.
type Error struct {
	Kind    Kind
	Message string
	detail  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.detail }

// Status returns the HTTP-equivalent status code.
func (e *Error) Status() int { return int(e.Kind) }

// New builds a taxonomy error with the kind's default message.
func New(k Kind) *Error {
	return &Error{Kind: k, Message: k.String()}
}

// Wrap builds an Internal error carrying cause for logging, with a public
// message that never leaks cause's text.
func Wrap(cause error) *Error {
	return &Error{Kind: Internal, Message: Internal.String(), detail: cause}
}

// Newf builds a taxonomy error with a custom message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromPostgres maps a pgx/Postgres error to a taxonomy error: unique
// violation -> Conflict, foreign-key/not-null violation -> BadRequest,
// no rows -> NotFound, anything else -> Internal.
func FromPostgres(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return New(NotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return New(Conflict)
		case "23502", "23503": // not_null_violation, foreign_key_violation
			return New(BadRequest)
		}
	}
	return Wrap(err)
}
