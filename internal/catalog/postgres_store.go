package catalog

import (
	"context"
	"errors"
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

func (s *PostgresStore) GetProviderByType(ctx context.Context, providerType string) (*Provider, error) {
	query := `
		SELECT id, name, type, created_at
		FROM providers
		WHERE type = $1
	`
	var p Provider
	err := s.db.QueryRow(ctx, query, providerType).Scan(&p.ID, &p.Name, &p.Type, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProviderByID(ctx context.Context, id int64) (*Provider, error) {
	query := `
		SELECT id, name, type, created_at
		FROM providers
		WHERE id = $1
	`
	var p Provider
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Type, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrProviderNotFound, id)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, p *Provider) error {
	query := `
		INSERT INTO providers (name, type)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, p.Name, p.Type).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]*Provider, error) {
	query := `
		SELECT id, name, type, created_at
		FROM providers
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}
	return providers, nil
}

func (s *PostgresStore) RatesAsOf(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
	query := `
		SELECT id, provider_id, resource_type, unit_price, currency, unit, effective_date, notes, created_at
		FROM pricing_rates
		WHERE provider_id = $1 AND resource_type = $2 AND effective_date <= $3
		ORDER BY effective_date DESC
		LIMIT 2
	`
	rows, err := s.db.Query(ctx, query, providerID, resourceType, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	return scanRates(rows)
}

func (s *PostgresStore) UpsertRate(ctx context.Context, rate *PricingRate) error {
	query := `
		INSERT INTO pricing_rates (provider_id, resource_type, unit_price, currency, unit, effective_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, resource_type, effective_date)
		DO UPDATE SET unit_price = EXCLUDED.unit_price,
		              currency = EXCLUDED.currency,
		              unit = EXCLUDED.unit,
		              notes = EXCLUDED.notes
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rate.ProviderID, rate.ResourceType, rate.UnitPrice, rate.Currency,
		rate.Unit, rate.EffectiveDate, rate.Notes,
	).Scan(&rate.ID, &rate.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRate(ctx context.Context, rate *PricingRate) error {
	query := `
		INSERT INTO pricing_rates (provider_id, resource_type, unit_price, currency, unit, effective_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rate.ProviderID, rate.ResourceType, rate.UnitPrice, rate.Currency,
		rate.Unit, rate.EffectiveDate, rate.Notes,
	).Scan(&rate.ID, &rate.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rate: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRate(ctx context.Context, rate *PricingRate) error {
	query := `
		UPDATE pricing_rates
		SET unit_price = $2, currency = $3, unit = $4, effective_date = $5, notes = $6
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query,
		rate.ID, rate.UnitPrice, rate.Currency, rate.Unit, rate.EffectiveDate, rate.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrRateNotFound, rate.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteRate(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM pricing_rates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrRateNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListRates(ctx context.Context, f RateFilter) ([]*PricingRate, error) {
	query := `
		SELECT id, provider_id, resource_type, unit_price, currency, unit, effective_date, notes, created_at
		FROM pricing_rates
		WHERE ($1 = 0 OR provider_id = $1)
		  AND ($2 = '' OR resource_type = $2)
		ORDER BY effective_date DESC, id
	`
	rows, err := s.db.Query(ctx, query, f.ProviderID, f.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	return scanRates(rows)
}

func scanRates(rows pgx.Rows) ([]*PricingRate, error) {
	var rates []*PricingRate
	for rows.Next() {
		var r PricingRate
		err := rows.Scan(
			&r.ID, &r.ProviderID, &r.ResourceType, &r.UnitPrice, &r.Currency,
			&r.Unit, &r.EffectiveDate, &r.Notes, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rates: %w", err)
	}
	return rates, nil
}
