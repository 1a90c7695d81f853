// Package catalog holds the versioned price list: one unit price per
// (provider, resource type, effective date), with later effective dates
// superseding earlier ones.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound means no rate is effective on or before the asked
	// date. Callers treat it as an expected outcome, not a failure.
	ErrRateNotFound = errors.New("pricing rate not found")

	// ErrDuplicateRate means the (provider, resource type, effective date)
	// uniqueness invariant is violated in stored data.
	ErrDuplicateRate = errors.New("duplicate pricing rate for same effective date")

	ErrProviderNotFound = errors.New("provider not found")
)

type Provider struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type PricingRate struct {
	ID            int64           `json:"id"`
	ProviderID    int64           `json:"provider_id"`
	ResourceType  string          `json:"resource_type"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Currency      string          `json:"currency"`
	Unit          string          `json:"unit,omitempty"`
	EffectiveDate time.Time       `json:"effective_date"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type RateFilter struct {
	ProviderID   int64
	ResourceType string
}

type Store interface {
	GetProviderByType(ctx context.Context, providerType string) (*Provider, error)
	GetProviderByID(ctx context.Context, id int64) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
	ListProviders(ctx context.Context) ([]*Provider, error)

	// RatesAsOf returns up to two rates for the key with
	// effective_date <= asOf, most recent first. Two results are needed so
	// the catalog can detect effective-date collisions.
	RatesAsOf(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error)
	UpsertRate(ctx context.Context, rate *PricingRate) error
	CreateRate(ctx context.Context, rate *PricingRate) error
	UpdateRate(ctx context.Context, rate *PricingRate) error
	DeleteRate(ctx context.Context, id int64) error
	ListRates(ctx context.Context, f RateFilter) ([]*PricingRate, error)
}

// Catalog is pure lookup and import logic over the rate store.
type Catalog struct {
	store Store
}

func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// ResolveRate returns the rate with the latest effective date on or before
// asOf for (providerID, resourceType). Returns ErrRateNotFound when no rate
// applies, and ErrDuplicateRate when two stored rates share the winning
// effective date, which indicates corrupted pricing history and is never
// silently resolved.
func (c *Catalog) ResolveRate(ctx context.Context, providerID int64, resourceType string, asOf time.Time) (*PricingRate, error) {
	rates, err := c.store.RatesAsOf(ctx, providerID, resourceType, asOf)
	if err != nil {
		return nil, fmt.Errorf("query rates: %w", err)
	}

	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: provider %d, resource %s as of %s",
			ErrRateNotFound, providerID, resourceType, asOf.Format("2006-01-02"))
	}

	if len(rates) > 1 && sameDay(rates[0].EffectiveDate, rates[1].EffectiveDate) {
		return nil, fmt.Errorf("%w: provider %d, resource %s, effective %s",
			ErrDuplicateRate, providerID, resourceType, rates[0].EffectiveDate.Format("2006-01-02"))
	}

	return rates[0], nil
}

// EnsureProvider returns the provider with the given type, creating it on
// first reference.
func (c *Catalog) EnsureProvider(ctx context.Context, providerType string) (*Provider, error) {
	p, err := c.store.GetProviderByType(ctx, providerType)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProviderNotFound) {
		return nil, err
	}

	p = &Provider{
		Name: titleCase(providerType),
		Type: providerType,
	}
	if err := c.store.CreateProvider(ctx, p); err != nil {
		return nil, fmt.Errorf("create provider %s: %w", providerType, err)
	}
	return p, nil
}

// BulkImport is the wire format for importing many rates at once: a map of
// provider type to resource type to unit price, with an optional shared
// effective date and currency for the whole payload.
type BulkImport struct {
	Rates         map[string]map[string]decimal.Decimal `json:"rates"`
	EffectiveDate string                                `json:"effectiveDate,omitempty"`
	Currency      string                                `json:"currency,omitempty"`
}

type RateImportError struct {
	Provider     string `json:"provider"`
	ResourceType string `json:"resourceType"`
	Error        string `json:"error"`
}

type BulkImportResult struct {
	Imported int               `json:"imported"`
	Errors   []RateImportError `json:"errors,omitempty"`
	Rates    []*PricingRate    `json:"rates"`
}

// ImportRates upserts every rate in the payload keyed by
// (provider, resource type, effective date), so importing the same payload
// twice leaves exactly one rate per key. Providers are created on first
// reference. Individual rate failures are collected, not fatal.
func (c *Catalog) ImportRates(ctx context.Context, imp BulkImport) (*BulkImportResult, error) {
	if len(imp.Rates) == 0 {
		return nil, fmt.Errorf("rates payload is empty")
	}

	currency := imp.Currency
	if currency == "" {
		currency = "USD"
	}

	effective := time.Now().UTC().Truncate(24 * time.Hour)
	if imp.EffectiveDate != "" {
		parsed, err := time.Parse("2006-01-02", imp.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("invalid effectiveDate %q: %w", imp.EffectiveDate, err)
		}
		effective = parsed
	}

	result := &BulkImportResult{Rates: []*PricingRate{}}

	for _, providerType := range sortedKeys(imp.Rates) {
		provider, err := c.EnsureProvider(ctx, providerType)
		if err != nil {
			result.Errors = append(result.Errors, RateImportError{
				Provider: providerType,
				Error:    err.Error(),
			})
			continue
		}

		resources := imp.Rates[providerType]
		for _, resourceType := range sortedKeys(resources) {
			rate := &PricingRate{
				ProviderID:    provider.ID,
				ResourceType:  resourceType,
				UnitPrice:     resources[resourceType],
				Currency:      currency,
				EffectiveDate: effective,
			}
			if err := c.store.UpsertRate(ctx, rate); err != nil {
				result.Errors = append(result.Errors, RateImportError{
					Provider:     providerType,
					ResourceType: resourceType,
					Error:        err.Error(),
				})
				continue
			}
			result.Imported++
			result.Rates = append(result.Rates, rate)
		}
	}

	return result, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
