package costs

import (
	"context"
	"fmt"
	"time"

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

func (s *PostgresStore) UpsertDailyCost(ctx context.Context, dc *DailyCost) error {
	query := `
		INSERT INTO daily_costs (app_id, provider_id, date, cost_local, currency, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app_id, date, provider_id)
		DO UPDATE SET cost_local = EXCLUDED.cost_local,
		              currency = EXCLUDED.currency,
		              notes = EXCLUDED.notes,
		              updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		dc.AppID, dc.ProviderID, dc.Date, dc.CostLocal, dc.Currency, dc.Notes,
	).Scan(&dc.ID, &dc.CreatedAt, &dc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert daily cost: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDailyCosts(ctx context.Context, f CostFilter) ([]*DailyCost, error) {
	query := `
		SELECT id, app_id, provider_id, date, cost_local, currency, notes, created_at, updated_at
		FROM daily_costs
		WHERE ($1 = 0 OR app_id = $1)
		  AND ($2 = 0 OR provider_id = $2)
		  AND ($3::date IS NULL OR date >= $3)
		  AND ($4::date IS NULL OR date <= $4)
		ORDER BY date DESC, id
	`
	from := nullableDate(f.From)
	to := nullableDate(f.To)

	rows, err := s.db.Query(ctx, query, f.AppID, f.ProviderID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily costs: %w", err)
	}
	defer rows.Close()

	var dcs []*DailyCost
	for rows.Next() {
		var dc DailyCost
		err := rows.Scan(
			&dc.ID, &dc.AppID, &dc.ProviderID, &dc.Date, &dc.CostLocal,
			&dc.Currency, &dc.Notes, &dc.CreatedAt, &dc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily cost: %w", err)
		}
		dcs = append(dcs, &dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily costs: %w", err)
	}
	return dcs, nil
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
