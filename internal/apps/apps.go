// Package apps tracks the deployed applications whose spend is attributed
// per provider and day.
package apps

import (
	"context"
	"errors"
	"time"
)

var ErrAppNotFound = errors.New("app not found")

type App struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Domain          string    `json:"domain,omitempty"`
	RepoURL         string    `json:"repo_url,omitempty"`
	VercelProjectID string    `json:"vercel_project_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Store interface {
	List(ctx context.Context) ([]*App, error)
	Create(ctx context.Context, app *App) error
	GetByID(ctx context.Context, id int64) (*App, error)
	GetByName(ctx context.Context, name string) (*App, error)

	// ListWithVercelProject returns apps linked to a Vercel project.
	ListWithVercelProject(ctx context.Context) ([]*App, error)

	// UpsertByVercelProject creates or updates an app keyed by its Vercel
	// project id, used by project sync.
	UpsertByVercelProject(ctx context.Context, app *App) error
}
