// Package ingest drives the per-target pipeline from raw provider payloads
// to reconciled daily costs, isolating each target's failures from the rest
// of the batch.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vnmchuo/costwatch/internal/costs"
)

var ErrProviderNotConfigured = errors.New("provider not configured")

// Stage names the step of the per-target pipeline a run is in, or failed in.
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageNormalizing Stage = "normalizing"
	StageResolving   Stage = "resolving"
	StageReconciling Stage = "reconciling"
	StageDone        Stage = "done"
)

// Report is the canonical normalized shape every fetcher converges on: one
// app's usage for one day, plus the verbatim payload it came from. A fetcher
// that could not retrieve one app's usage sets Err and leaves the rest of
// its reports intact.
type Report struct {
	AppID        int64
	AppName      string
	Date         time.Time
	Observations []costs.UsageObservation
	Raw          json.RawMessage
	Err          error
}

// Fetcher retrieves raw usage from one upstream provider and normalizes it.
// Credentials are injected at construction, never read from the process
// environment inside Fetch.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Report, error)
}

// Registry maps target names to fetchers so providers can be added without
// touching the orchestrator loop.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

func (r *Registry) Register(f Fetcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fetchers[f.Name()]; exists {
		return fmt.Errorf("fetcher already registered: %s", f.Name())
	}
	r.fetchers[f.Name()] = f
	return nil
}

func (r *Registry) Lookup(name string) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[name]
	return f, ok
}

func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets
}

// RawBilling is the append-only audit record of a payload exactly as
// received from a provider, retained independent of whether resolution
// later succeeds.
type RawBilling struct {
	ID         int64           `json:"id"`
	ProviderID int64           `json:"provider_id"`
	AppID      *int64          `json:"app_id,omitempty"`
	Raw        json.RawMessage `json:"raw"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

type RawBillingFilter struct {
	ProviderID int64
	AppID      int64
}

type Store interface {
	AppendRawBilling(ctx context.Context, rb *RawBilling) error
	ListRawBilling(ctx context.Context, f RawBillingFilter) ([]*RawBilling, error)
}
