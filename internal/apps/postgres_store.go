package apps

import (
	"context"
	"errors"
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

const appColumns = `id, name, domain, repo_url, COALESCE(vercel_project_id, ''), created_at`

func (s *PostgresStore) List(ctx context.Context) ([]*App, error) {
	rows, err := s.db.Query(ctx, `SELECT `+appColumns+` FROM apps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()
	return scanApps(rows)
}

func (s *PostgresStore) Create(ctx context.Context, app *App) error {
	query := `
		INSERT INTO apps (name, domain, repo_url, vercel_project_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		app.Name, app.Domain, app.RepoURL, app.VercelProjectID,
	).Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*App, error) {
	return s.getOne(ctx, `SELECT `+appColumns+` FROM apps WHERE id = $1`, id)
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (*App, error) {
	return s.getOne(ctx, `SELECT `+appColumns+` FROM apps WHERE name = $1`, name)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (*App, error) {
	var a App
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Name, &a.Domain, &a.RepoURL, &a.VercelProjectID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListWithVercelProject(ctx context.Context) ([]*App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE vercel_project_id IS NOT NULL ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()
	return scanApps(rows)
}

func (s *PostgresStore) UpsertByVercelProject(ctx context.Context, app *App) error {
	if app.VercelProjectID == "" {
		return fmt.Errorf("vercel project id is required")
	}
	query := `
		INSERT INTO apps (name, domain, repo_url, vercel_project_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vercel_project_id)
		DO UPDATE SET name = EXCLUDED.name,
		              domain = EXCLUDED.domain,
		              repo_url = EXCLUDED.repo_url
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		app.Name, app.Domain, app.RepoURL, app.VercelProjectID,
	).Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert app: %w", err)
	}
	return nil
}

func scanApps(rows pgx.Rows) ([]*App, error) {
	var out []*App
	for rows.Next() {
		var a App
		if err := rows.Scan(&a.ID, &a.Name, &a.Domain, &a.RepoURL, &a.VercelProjectID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apps: %w", err)
	}
	return out, nil
}
