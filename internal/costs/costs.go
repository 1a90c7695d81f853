// Package costs turns usage observations into priced line items and
// materializes one authoritative cost record per (app, provider, day).
package costs

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoLineItems means a reconciliation had nothing priced to record.
	// A day with zero resolvable costs produces no record at all, keeping
	// "no usage" distinct from "usage but unpriced".
	ErrNoLineItems = errors.New("no line items to reconcile")

	// ErrMixedCurrency means one reconciliation batch carried line items in
	// different currencies. That indicates inconsistent pricing data and is
	// surfaced instead of silently picking one currency.
	ErrMixedCurrency = errors.New("line items mix currencies")
)

// UsageObservation is one raw usage measurement, already normalized out of a
// provider payload. It is transient and never persisted directly.
type UsageObservation struct {
	ResourceType string    `json:"resource_type"`
	Quantity     float64   `json:"quantity"`
	Date         time.Time `json:"date"`
}

// ResolvedLineItem is an observation priced against the rate that was in
// effect on the observation's date.
type ResolvedLineItem struct {
	ResourceType string          `json:"resource_type"`
	Quantity     float64         `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Currency     string          `json:"currency"`
}

// DailyCost is the persisted cost record, unique per (app, provider, date).
type DailyCost struct {
	ID         int64           `json:"id"`
	AppID      int64           `json:"app_id"`
	ProviderID int64           `json:"provider_id"`
	Date       time.Time       `json:"date"`
	CostLocal  decimal.Decimal `json:"cost_local"`
	Currency   string          `json:"currency"`
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type CostFilter struct {
	AppID      int64
	ProviderID int64
	From       time.Time
	To         time.Time
}

type Store interface {
	// UpsertDailyCost writes the record atomically keyed by
	// (app_id, date, provider_id), replacing cost, currency and notes in
	// full when the key already exists.
	UpsertDailyCost(ctx context.Context, dc *DailyCost) error
	ListDailyCosts(ctx context.Context, f CostFilter) ([]*DailyCost, error)
}
