package archive

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists archive entries in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS refund_archive (
    id BIGSERIAL PRIMARY KEY,
    request_id TEXT NOT NULL,
    requester_id TEXT,
    derivation_path TEXT NOT NULL,
    deposit_address TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Append(ctx context.Context, entry Entry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO refund_archive (request_id, requester_id, derivation_path, deposit_address, recorded_at)
VALUES ($1, $2, $3, $4, $5)
`, entry.RequestID, entry.RequesterID, entry.DerivationPath, entry.DepositAddress, entry.RecordedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT request_id, COALESCE(requester_id, ''), derivation_path, deposit_address, recorded_at
FROM refund_archive
ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RequestID, &e.RequesterID, &e.DerivationPath, &e.DepositAddress, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
