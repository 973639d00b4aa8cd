package repository

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scalelog/internal/modules/readings/types"
)

//go:embed sql/postgres-schema.sql
var postgresSchemaSQL string

// appendLockKey serializes AppendAfter across connections; a row lock cannot
// be taken while the table is still empty.
const appendLockKey int64 = 0x7363616c656c6f67

const pgSelectColumns = `SELECT id::text, value, recorded_at, derived, source FROM readings`

type postgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository returns the PostgreSQL store backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) ReadingRepository {
	return &postgresRepository{pool: pool, now: time.Now}
}

// EnsureSchema creates the readings table and index when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return storageErr("ensure schema", err)
	}
	return nil
}

func (r *postgresRepository) Append(ctx context.Context, rec types.Reading) (types.Reading, error) {
	out, err := pgInsert(ctx, r.pool, r.prepare(rec))
	if err != nil {
		return types.Reading{}, storageErr("insert reading", err)
	}
	return out, nil
}

func (r *postgresRepository) Latest(ctx context.Context) (*types.Reading, error) {
	rec, err := pgLatest(ctx, r.pool)
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	return rec, nil
}

func (r *postgresRepository) Query(ctx context.Context, from, to time.Time) ([]types.Reading, error) {
	return r.List(ctx, from, to, 0)
}

func (r *postgresRepository) List(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error) {
	var fromArg, toArg, limitArg any
	if !from.IsZero() {
		fromArg = from.UTC()
	}
	if !to.IsZero() {
		toArg = to.UTC()
	}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := r.pool.Query(ctx, pgSelectColumns+`
		WHERE ($1::timestamptz IS NULL OR recorded_at >= $1)
		  AND ($2::timestamptz IS NULL OR recorded_at < $2)
		ORDER BY recorded_at ASC, seq ASC
		LIMIT $3`, fromArg, toArg, limitArg)
	if err != nil {
		return nil, storageErr("query readings", err)
	}
	out, err := pgx.CollectRows(rows, scanPgReading)
	if err != nil {
		return nil, storageErr("scan readings", err)
	}
	return out, nil
}

func (r *postgresRepository) AppendAfter(ctx context.Context, decide Decide) (*types.Reading, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return nil, storageErr("lock", err)
	}
	prev, err := pgLatest(ctx, tx)
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	next, err := decide(prev)
	if err != nil || next == nil {
		return nil, err
	}
	out, err := pgInsert(ctx, tx, r.prepare(*next))
	if err != nil {
		return nil, storageErr("insert reading", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit", err)
	}
	return &out, nil
}

func (r *postgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, storageErr("count readings", err)
	}
	return n, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// prepare also truncates to microseconds, the precision of timestamptz.
func (r *postgresRepository) prepare(rec types.Reading) types.Reading {
	rec = prepare(rec, r.now)
	rec.RecordedAt = rec.RecordedAt.Truncate(time.Microsecond)
	if _, err := uuid.Parse(rec.ID); err != nil {
		rec.ID = uuid.NewString()
	}
	return rec
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgInsert(ctx context.Context, q pgQuerier, rec types.Reading) (types.Reading, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO readings (id, value, recorded_at, derived, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		rec.ID, rec.Value, rec.RecordedAt, rec.Derived, rec.Source,
	).Scan(new(int64))
	if err != nil {
		return types.Reading{}, err
	}
	return rec, nil
}

func pgLatest(ctx context.Context, q pgQuerier) (*types.Reading, error) {
	row := q.QueryRow(ctx, pgSelectColumns+` ORDER BY recorded_at DESC, seq DESC LIMIT 1`)
	rec, err := scanPgRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanPgReading(row pgx.CollectableRow) (types.Reading, error) {
	return scanPgRow(row)
}

func scanPgRow(row pgx.Row) (types.Reading, error) {
	var rec types.Reading
	if err := row.Scan(&rec.ID, &rec.Value, &rec.RecordedAt, &rec.Derived, &rec.Source); err != nil {
		return types.Reading{}, err
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}
