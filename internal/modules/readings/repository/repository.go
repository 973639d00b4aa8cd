package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scalelog/internal/modules/readings/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-reading.sql
var getLatestReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

// TimeLayout is the stored form of recorded_at: fixed-width UTC, so text
// order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Decide inspects the latest stored reading (nil when the store is empty) and
// returns the reading to append, or nil to write nothing.
type Decide func(latest *types.Reading) (*types.Reading, error)

// ReadingRepository is the append-only reading store. Every driver failure is
// wrapped in types.ErrStorage.
type ReadingRepository interface {
	Append(ctx context.Context, r types.Reading) (types.Reading, error)
	Latest(ctx context.Context) (*types.Reading, error)
	// Query returns readings with recordedAt in [from, to), ascending. A zero
	// bound is open.
	Query(ctx context.Context, from, to time.Time) ([]types.Reading, error)
	// List is Query capped at limit rows; limit <= 0 means no cap.
	List(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error)
	// AppendAfter reads the latest reading and appends decide's result in one
	// transaction.
	AppendAfter(ctx context.Context, decide Decide) (*types.Reading, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type repositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository returns the SQLite store. The schema must already be migrated.
func NewRepository(db *sql.DB) ReadingRepository {
	return &repositoryImpl{db: db, now: time.Now}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *repositoryImpl) Append(ctx context.Context, rec types.Reading) (types.Reading, error) {
	out, err := insert(ctx, r.db, prepare(rec, r.now))
	if err != nil {
		return types.Reading{}, storageErr("insert reading", err)
	}
	return out, nil
}

func (r *repositoryImpl) Latest(ctx context.Context) (*types.Reading, error) {
	rec, err := latest(ctx, r.db)
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	return rec, nil
}

func (r *repositoryImpl) Query(ctx context.Context, from, to time.Time) ([]types.Reading, error) {
	return r.List(ctx, from, to, 0)
}

func (r *repositoryImpl) List(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error) {
	if limit <= 0 {
		// SQLite treats a negative LIMIT as unbounded.
		limit = -1
	}
	fromStr, toStr := formatBound(from), formatBound(to)
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, fromStr, fromStr, toStr, toStr, limit)
	if err != nil {
		return nil, storageErr("query readings", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	out, err := scanReadings(rows)
	if err != nil {
		return nil, storageErr("scan readings", err)
	}
	return out, nil
}

func (r *repositoryImpl) AppendAfter(ctx context.Context, decide Decide) (*types.Reading, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := latest(ctx, tx)
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	next, err := decide(prev)
	if err != nil || next == nil {
		return nil, err
	}
	out, err := insert(ctx, tx, prepare(*next, r.now))
	if err != nil {
		return nil, storageErr("insert reading", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	return &out, nil
}

func (r *repositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, getReadingsCountSQL).Scan(&n); err != nil {
		return 0, storageErr("count readings", err)
	}
	return n, nil
}

func (r *repositoryImpl) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// prepare fills the fields assigned at persistence.
func prepare(rec types.Reading, now func() time.Time) types.Reading {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = now()
	}
	if rec.Source == "" {
		rec.Source = types.SourceHTTP
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec
}

func insert(ctx context.Context, q querier, rec types.Reading) (types.Reading, error) {
	var derived any
	if rec.Derived != nil {
		derived = *rec.Derived
	}
	_, err := q.ExecContext(ctx, insertReadingSQL,
		rec.ID, rec.Value, rec.RecordedAt.Format(TimeLayout), derived, rec.Source)
	if err != nil {
		return types.Reading{}, err
	}
	return rec, nil
}

func latest(ctx context.Context, q querier) (*types.Reading, error) {
	rows, err := q.QueryContext(ctx, getLatestReadingSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest reading rows", "error", err)
		}
	}()
	out, err := scanReadings(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	var out []types.Reading
	for rows.Next() {
		var (
			rec     types.Reading
			ts      string
			derived sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.Value, &ts, &derived, &rec.Source); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", ts, err)
		}
		rec.RecordedAt = t
		if derived.Valid {
			d := derived.Float64
			rec.Derived = &d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrStorage, op, err)
}
