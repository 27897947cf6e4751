package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL, runs pending migrations, and returns the
// store.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Postgres) CallStarted(ctx context.Context, rec *CallRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (id, call_sid, stream_sid, account_sid, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_sid) DO NOTHING`,
		rec.ID, rec.CallSID, rec.StreamSID, rec.AccountSID, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (s *Postgres) CallEnded(ctx context.Context, callSID string, disposition Disposition, errorCode string, turns int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_records
		SET ended_at = $2, disposition = $3, error_code = $4, turns = $5
		WHERE call_sid = $1`,
		callSID, time.Now().UTC(), string(disposition), errorCode, turns)
	if err != nil {
		return fmt.Errorf("seal call record: %w", err)
	}
	return nil
}

func (s *Postgres) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, call_sid, stream_sid, account_sid, started_at, ended_at, disposition, error_code, turns
		FROM call_records
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var endedAt *time.Time
		var disposition, errorCode *string
		if err := rows.Scan(&rec.ID, &rec.CallSID, &rec.StreamSID, &rec.AccountSID,
			&rec.StartedAt, &endedAt, &disposition, &errorCode, &rec.Turns); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.EndedAt = endedAt
		if disposition != nil {
			rec.Disposition = Disposition(*disposition)
		}
		if errorCode != nil {
			rec.ErrorCode = *errorCode
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() {
	s.pool.Close()
}
