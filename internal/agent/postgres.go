package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory persists agents as JSONB documents. Each Lookup decodes a fresh
// value, so sessions never share mutable state with the table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		config JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init agents schema: %w", err)
	}
	return &PostgresDirectory{pool: pool}, nil
}

func (d *PostgresDirectory) Lookup(ctx context.Context, id string) (Config, error) {
	row := d.pool.QueryRow(ctx, `SELECT config, created_at, updated_at FROM agents WHERE id=$1`, id)
	cfg, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("lookup agent: %w", err)
	}
	return cfg, nil
}

func (d *PostgresDirectory) List(ctx context.Context) ([]Config, error) {
	rows, err := d.pool.Query(ctx, `SELECT config, created_at, updated_at FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	out := make([]Config, 0, 16)
	for rows.Next() {
		cfg, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return out, nil
}

func (d *PostgresDirectory) Create(ctx context.Context, cfg Config) (Config, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	doc, err := json.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("encode agent: %w", err)
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO agents (id, config, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		cfg.ID, doc, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Config{}, fmt.Errorf("%w: %s", ErrExists, cfg.ID)
		}
		return Config{}, fmt.Errorf("create agent: %w", err)
	}
	return cfg, nil
}

func (d *PostgresDirectory) Update(ctx context.Context, cfg Config) (Config, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	cfg.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("encode agent: %w", err)
	}
	row := d.pool.QueryRow(ctx,
		`UPDATE agents SET config=$2, updated_at=$3 WHERE id=$1 RETURNING created_at`,
		cfg.ID, doc, cfg.UpdatedAt,
	)
	if err := row.Scan(&cfg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("update agent: %w", err)
	}
	return cfg, nil
}

func (d *PostgresDirectory) Delete(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM agents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *PostgresDirectory) Close() error {
	d.pool.Close()
	return nil
}

func scanAgent(row pgx.Row) (Config, error) {
	var (
		doc       []byte
		cfg       Config
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&doc, &createdAt, &updatedAt); err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode agent: %w", err)
	}
	cfg.CreatedAt = createdAt.UTC()
	cfg.UpdatedAt = updatedAt.UTC()
	return cfg, nil
}
