// Package store is the persistence gateway over PostgreSQL: two logical
// tables, documents and document_updates.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Polqt/crdtcollab/apperr"
)

// ChangeRecord is one row of document_updates.
type ChangeRecord struct {
	ID        uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Tx is the transaction handle used by the merge path to issue
// update_snapshot and delete_changes atomically.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the full set of persistence operations the document-collaboration
// core depends on. Depending on this interface, not on *Postgres, lets
// ingest/merge/wsconn tests substitute an in-memory fake.
type Store interface {
	Create(ctx context.Context, title string, snapshot []byte) (uuid.UUID, error)
	ReadSnapshot(ctx context.Context, id uuid.UUID) ([]byte, error)
	ReadTitle(ctx context.Context, id uuid.UUID) (string, error)
	AppendChange(ctx context.Context, docID uuid.UUID, payload []byte) error
	ListChanges(ctx context.Context, docID uuid.UUID) ([]ChangeRecord, error)

	Begin(ctx context.Context) (Tx, error)
	UpdateSnapshot(ctx context.Context, tx Tx, docID uuid.UUID, snapshot []byte) error
	DeleteChanges(ctx context.Context, tx Tx, ids []uuid.UUID) error
}

// Postgres is the pgx/v5-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open builds a connection pool against dsn with MaxConns = maxConns.
func Open(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(err)
	}
	logrus.WithField("max_conns", maxConns).Info("connected to postgres")
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Create(ctx context.Context, title string, snapshot []byte) (uuid.UUID, error) {
	if title == "" {
		return uuid.Nil, apperr.New(apperr.BadRequest)
	}

	var id uuid.UUID
	err := p.pool.QueryRow(ctx,
		`INSERT INTO documents (title, snapshot) VALUES ($1, $2) RETURNING id`,
		title, snapshot,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, apperr.FromPostgres(err)
	}
	return id, nil
}

func (p *Postgres) ReadSnapshot(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var snapshot []byte
	err := p.pool.QueryRow(ctx,
		`SELECT snapshot FROM documents WHERE id = $1`, id,
	).Scan(&snapshot)
	if err != nil {
		return nil, apperr.FromPostgres(err)
	}
	return snapshot, nil
}

func (p *Postgres) ReadTitle(ctx context.Context, id uuid.UUID) (string, error) {
	var title string
	err := p.pool.QueryRow(ctx,
		`SELECT title FROM documents WHERE id = $1`, id,
	).Scan(&title)
	if err != nil {
		return "", apperr.FromPostgres(err)
	}
	return title, nil
}

func (p *Postgres) AppendChange(ctx context.Context, docID uuid.UUID, payload []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO document_updates (document_id, payload) VALUES ($1, $2)`,
		docID, payload,
	)
	if err != nil {
		return apperr.FromPostgres(err)
	}
	return nil
}

func (p *Postgres) ListChanges(ctx context.Context, docID uuid.UUID) ([]ChangeRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, payload, created_at FROM document_updates
		 WHERE document_id = $1 ORDER BY created_at ASC`,
		docID,
	)
	if err != nil {
		return nil, apperr.FromPostgres(err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var rec ChangeRecord
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, apperr.FromPostgres(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromPostgres(err)
	}
	return out, nil
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.FromPostgres(err)
	}
	return pgxTx{tx}, nil
}

func (p *Postgres) UpdateSnapshot(ctx context.Context, tx Tx, docID uuid.UUID, snapshot []byte) error {
	pt, ok := tx.(pgxTx)
	if !ok {
		return apperr.Wrap(errWrongTxType)
	}
	_, err := pt.tx.Exec(ctx,
		`UPDATE documents SET snapshot = $1, updated_at = now() WHERE id = $2`,
		snapshot, docID,
	)
	if err != nil {
		return apperr.FromPostgres(err)
	}
	return nil
}

func (p *Postgres) DeleteChanges(ctx context.Context, tx Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pt, ok := tx.(pgxTx)
	if !ok {
		return apperr.Wrap(errWrongTxType)
	}
	_, err := pt.tx.Exec(ctx,
		`DELETE FROM document_updates WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return apperr.FromPostgres(err)
	}
	return nil
}

type pgxTx struct{ tx pgx.Tx }

func (t pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

var errWrongTxType = txTypeError{}

type txTypeError struct{}

func (txTypeError) Error() string { return "store: tx handle did not originate from this Store" }
