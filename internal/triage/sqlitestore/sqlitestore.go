// Package sqlitestore provides a SQLite implementation of triage.Store for
// single-node deployments that need records to survive a restart.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/crisisconnect/internal/triage/sqlitestore")

// Store persists help requests in a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers, which is what sqlite wants anyway
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const helpColumns = `id, description, lat, lng, phone_number, source, status, urgency,
	request_types, notes, reporter_name, num_people, created_at`

// Create validates r, assigns ID and CreatedAt, and inserts it. CreatedAt is
// clamped to the newest stored value inside the INSERT, so it never goes
// backwards when the clock does.
func (s *Store) Create(ctx context.Context, r *triage.HelpRequest) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Create", "INSERT")
	defer span.End()

	cp := r.Clone()
	cp.ApplyDefaults()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	cp.ID = ulid.Make().String()
	span.SetAttributes(attribute.String("crisisconnect.help.id", cp.ID))

	types, err := json.Marshal(cp.RequestTypes)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("marshal request types: %w", err))
	}

	var createdAt int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO help_requests (`+helpColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,
			MAX(?, COALESCE((SELECT MAX(created_at) FROM help_requests), 0)))
		RETURNING created_at`,
		cp.ID, cp.Description, cp.Location.Lat, cp.Location.Lng, cp.PhoneNumber,
		string(cp.Source), string(cp.Status), string(cp.Urgency),
		string(types), cp.Notes, cp.ReporterName, cp.NumPeople, s.now().UnixNano(),
	).Scan(&createdAt)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("insert help request: %w", err))
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	return cp, nil
}

// Get retrieves a help request by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Get", "SELECT")
	defer span.End()

	r, err := scanHelpRow(s.db.QueryRowContext(ctx, `SELECT `+helpColumns+` FROM help_requests WHERE id = ?`, id))
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
	ctx, span := startSpan(ctx, "sqlitestore.List", "SELECT")
	defer span.End()

	out, err := s.queryHelp(ctx, `SELECT `+helpColumns+` FROM help_requests ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, spanError(span, err)
	}
	return out, nil
}

// ListCreatedBetween returns help requests with from <= created_at < to, newest first.
// Both bounds must fall inside the range time.UnixNano can represent.
func (s *Store) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "sqlitestore.ListCreatedBetween", "SELECT")
	defer span.End()

	out, err := s.queryHelp(ctx, `SELECT `+helpColumns+` FROM help_requests
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, seq DESC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, spanError(span, err)
	}
	return out, nil
}

// Update reads, mutates and writes the row inside one transaction. With a
// single connection transactions never interleave.
func (s *Store) Update(ctx context.Context, id string, fn triage.Mutator) (*triage.HelpRequest, error) {
	ctx, span := startSpan(ctx, "sqlitestore.Update", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("crisisconnect.help.id", id))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	cur, err := scanHelpRow(tx.QueryRowContext(ctx, `SELECT `+helpColumns+` FROM help_requests WHERE id = ?`, id))
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

	types, err := json.Marshal(next.RequestTypes)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("marshal request types: %w", err))
	}
	_, err = tx.ExecContext(ctx, `UPDATE help_requests SET
		description = ?, lat = ?, lng = ?, phone_number = ?, source = ?,
		status = ?, urgency = ?, request_types = ?, notes = ?,
		reporter_name = ?, num_people = ?
		WHERE id = ?`,
		next.Description, next.Location.Lat, next.Location.Lng, next.PhoneNumber, string(next.Source),
		string(next.Status), string(next.Urgency), string(types), next.Notes,
		next.ReporterName, next.NumPeople,
		next.ID,
	)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("update help request: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, spanError(span, fmt.Errorf("commit: %w", err))
	}
	return next, nil
}

func (s *Store) queryHelp(ctx context.Context, query string, args ...any) ([]*triage.HelpRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

// scanHelpRow scans a single row into a HelpRequest.
// Returns (nil, nil) when no row is found.
func scanHelpRow(row scanner) (*triage.HelpRequest, error) {
	var (
		r                       triage.HelpRequest
		source, status, urgency string
		types                   string
		createdAt               int64
	)
	err := row.Scan(
		&r.ID, &r.Description, &r.Location.Lat, &r.Location.Lng, &r.PhoneNumber,
		&source, &status, &urgency,
		&types, &r.Notes, &r.ReporterName, &r.NumPeople, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	r.Source = triage.Source(source)
	r.Status = triage.Status(status)
	r.Urgency = triage.Urgency(urgency)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := json.Unmarshal([]byte(types), &r.RequestTypes); err != nil {
		return nil, fmt.Errorf("unmarshal request types: %w", err)
	}
	if r.RequestTypes == nil {
		r.RequestTypes = []string{}
	}
	return &r, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
