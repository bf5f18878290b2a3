// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/crisisconnect/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists help requests in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New applies the schema on pool and returns a ready Store.
// The pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const helpColumns = `id, description, lat, lng, phone_number, source, status, urgency,
	request_types, notes, reporter_name, num_people, created_at`

// createLockKey is the advisory lock that orders concurrent inserts.
const createLockKey int64 = 0x63726973697363 // "crisisc"

// Create validates r, assigns ID and CreatedAt, and inserts it. Inserts are
// serialized by a transaction-scoped advisory lock and created_at is clamped
// to the newest stored value, so it never decreases in seq order even when
// the clock steps back or two inserts race.
func (s *Store) Create(ctx context.Context, r *triage.HelpRequest) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	cp := r.Clone()
	cp.ApplyDefaults()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	cp.ID = ulid.Make().String()
	span.SetAttributes(attribute.String("crisisconnect.help.id", cp.ID))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, createLockKey); err != nil {
		return nil, spanError(span, fmt.Errorf("lock inserts: %w", err))
	}

	// postgres keeps microseconds
	stamp := s.now().Truncate(time.Microsecond)
	query := `INSERT INTO help_requests (` + helpColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
			GREATEST($13::timestamptz, (SELECT max(created_at) FROM help_requests)))
		RETURNING created_at`
	err = tx.QueryRow(ctx, query,
		cp.ID, cp.Description, cp.Location.Lat, cp.Location.Lng, cp.PhoneNumber,
		string(cp.Source), string(cp.Status), string(cp.Urgency),
		cp.RequestTypes, cp.Notes, cp.ReporterName, cp.NumPeople, stamp,
	).Scan(&cp.CreatedAt)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("insert help request: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, spanError(span, fmt.Errorf("commit: %w", err))
	}
	return cp, nil
}

// Get retrieves a help request by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + helpColumns + ` FROM help_requests WHERE id = $1`
	r, err := scanHelpRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, spanError(span, err)
	}
	if r == nil {
		return nil, &triage.NotFoundError{ID: id}
	}
	return r, nil
}

// List returns every help request, newest first.
func (s *Store) List(ctx context.Context) ([]*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + helpColumns + ` FROM help_requests ORDER BY created_at DESC, seq DESC`
	out, err := s.queryHelp(ctx, query)
	if err != nil {
		return nil, spanError(span, err)
	}
	return out, nil
}

// ListCreatedBetween returns help requests with from <= created_at < to, newest first.
func (s *Store) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCreatedBetween", "SELECT")
	defer span.End()

	query := `SELECT ` + helpColumns + ` FROM help_requests
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, seq DESC`
	out, err := s.queryHelp(ctx, query, from, to)
	if err != nil {
		return nil, spanError(span, err)
	}
	return out, nil
}

// Update locks the row, applies fn and writes the mutable columns back in one
// transaction. Concurrent updates of the same ID are serialized by the row lock.
func (s *Store) Update(ctx context.Context, id string, fn triage.Mutator) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("crisisconnect.help.id", id))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + helpColumns + ` FROM help_requests WHERE id = $1 FOR UPDATE`
	cur, err := scanHelpRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, spanError(span, err)
	}
	if cur == nil {
		return nil, &triage.NotFoundError{ID: id}
	}

	next := cur.Clone()
	fn(next)
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `UPDATE help_requests SET
		description = $2, lat = $3, lng = $4, phone_number = $5, source = $6,
		status = $7, urgency = $8, request_types = $9, notes = $10,
		reporter_name = $11, num_people = $12
		WHERE id = $1`,
		next.ID, next.Description, next.Location.Lat, next.Location.Lng, next.PhoneNumber,
		string(next.Source), string(next.Status), string(next.Urgency),
		next.RequestTypes, next.Notes, next.ReporterName, next.NumPeople,
	)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("update help request: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, spanError(span, fmt.Errorf("commit: %w", err))
	}
	return next, nil
}

func (s *Store) queryHelp(ctx context.Context, query string, args ...any) ([]*triage.HelpRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query help requests: %w", err)
	}
	defer rows.Close()

	out := make([]*triage.HelpRequest, 0)
	for rows.Next() {
		r, err := scanHelpRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate help requests: %w", err)
	}
	return out, nil
}

// scanHelpRow scans a single row into a HelpRequest.
// Returns (nil, nil) when no row is found.
func scanHelpRow(row pgx.Row) (*triage.HelpRequest, error) {
	var (
		r                       triage.HelpRequest
		source, status, urgency string
	)
	err := row.Scan(
		&r.ID, &r.Description, &r.Location.Lat, &r.Location.Lng, &r.PhoneNumber,
		&source, &status, &urgency,
		&r.RequestTypes, &r.Notes, &r.ReporterName, &r.NumPeople, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	r.Source = triage.Source(source)
	r.Status = triage.Status(status)
	r.Urgency = triage.Urgency(urgency)
	if r.RequestTypes == nil {
		r.RequestTypes = []string{}
	}
	return &r, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
