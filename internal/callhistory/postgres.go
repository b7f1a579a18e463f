package callhistory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call records in PostgreSQL with the transcript as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			transcript JSONB NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			end_reason TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_ended ON call_records (ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const selectRecord = `SELECT id, session_id, agent_id, agent_name, transcript, duration_sec,
	started_at, ended_at, status, end_reason, pii_redacted FROM call_records`

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	record = prepare(record)
	if record.Transcript == nil {
		record.Transcript = []Line{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_records (id, session_id, agent_id, agent_name, transcript, duration_sec,
			started_at, ended_at, status, end_reason, pii_redacted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET transcript = EXCLUDED.transcript,
			duration_sec = EXCLUDED.duration_sec, ended_at = EXCLUDED.ended_at,
			status = EXCLUDED.status, end_reason = EXCLUDED.end_reason,
			pii_redacted = EXCLUDED.pii_redacted`,
		record.ID,
		record.SessionID,
		record.AgentID,
		record.AgentName,
		record.Transcript,
		record.DurationSec,
		record.StartedAt,
		record.EndedAt,
		record.Status,
		record.EndReason,
		record.PIIRedacted,
	)
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	rows, err := s.pool.Query(ctx, selectRecord+` ORDER BY ended_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get call record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.SessionID, &r.AgentID, &r.AgentName, &r.Transcript, &r.DurationSec,
		&r.StartedAt, &r.EndedAt, &r.Status, &r.EndReason, &r.PIIRedacted)
	return r, err
}
