package costs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/catalog"
)

// RateResolver is the slice of the rate catalog the resolver depends on.
type RateResolver interface {
	ResolveRate(ctx context.Context, providerID int64, resourceType string, asOf time.Time) (*catalog.PricingRate, error)
}

// Resolution is the partial-success result of pricing a batch of
// observations: everything priceable becomes a line item, everything else
// lands in Unresolved.
type Resolution struct {
	LineItems  []ResolvedLineItem `json:"line_items"`
	Unresolved []string           `json:"unresolved,omitempty"`
}

type Resolver struct {
	catalog RateResolver
	log     *zap.Logger
}

func NewResolver(c RateResolver, log *zap.Logger) *Resolver {
	return &Resolver{catalog: c, log: log}
}

// Resolve prices each observation against the rate in effect on that
// observation's own date. Observations within one batch may legitimately
// price against different rate versions. A missing rate moves the resource
// type into Unresolved and the batch continues; any other catalog error,
// including a pricing-history integrity violation, aborts the batch.
func (r *Resolver) Resolve(ctx context.Context, providerID int64, observations []UsageObservation) (*Resolution, error) {
	res := &Resolution{}

	for _, obs := range observations {
		rate, err := r.catalog.ResolveRate(ctx, providerID, obs.ResourceType, obs.Date)
		if err != nil {
			if errors.Is(err, catalog.ErrRateNotFound) {
				r.log.Warn("no pricing rate found",
					zap.Int64("provider_id", providerID),
					zap.String("resource_type", obs.ResourceType),
					zap.Time("date", obs.Date),
				)
				res.Unresolved = append(res.Unresolved, obs.ResourceType)
				continue
			}
			return nil, fmt.Errorf("resolve rate for %s: %w", obs.ResourceType, err)
		}

		quantity := decimal.NewFromFloat(obs.Quantity)
		res.LineItems = append(res.LineItems, ResolvedLineItem{
			ResourceType: obs.ResourceType,
			Quantity:     obs.Quantity,
			UnitPrice:    rate.UnitPrice,
			TotalCost:    rate.UnitPrice.Mul(quantity),
			Currency:     rate.Currency,
		})
	}

	return res, nil
}
