package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendRawBilling(ctx context.Context, rb *RawBilling) error {
	query := `
		INSERT INTO raw_billing (provider_id, app_id, raw)
		VALUES ($1, $2, $3)
		RETURNING id, fetched_at
	`
	err := s.db.QueryRow(ctx, query, rb.ProviderID, rb.AppID, rb.Raw).
		Scan(&rb.ID, &rb.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to append raw billing: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRawBilling(ctx context.Context, f RawBillingFilter) ([]*RawBilling, error) {
	query := `
		SELECT id, provider_id, app_id, raw, fetched_at
		FROM raw_billing
		WHERE ($1 = 0 OR provider_id = $1)
		  AND ($2 = 0 OR app_id = $2)
		ORDER BY fetched_at DESC, id DESC
	`
	rows, err := s.db.Query(ctx, query, f.ProviderID, f.AppID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw billing: %w", err)
	}
	defer rows.Close()

	var out []*RawBilling
	for rows.Next() {
		var rb RawBilling
		if err := rows.Scan(&rb.ID, &rb.ProviderID, &rb.AppID, &rb.Raw, &rb.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw billing: %w", err)
		}
		out = append(out, &rb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw billing: %w", err)
	}
	return out, nil
}
