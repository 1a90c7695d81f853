package costs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Reconciler struct {
	store Store
	log   *zap.Logger
}

func NewReconciler(store Store, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Reconcile sums the line items for one (app, provider, day) and commits a
// single cost record via atomic upsert on the natural key. Re-running with
// the same inputs converges to the same stored record; re-running with
// different inputs fully replaces the previous record rather than adding to
// it. An empty batch writes nothing and returns ErrNoLineItems.
//
// All line items in one batch must share a currency; a mixed batch is a
// data-integrity failure, not something to paper over with the first item's
// currency.
func (r *Reconciler) Reconcile(ctx context.Context, appID, providerID int64, date time.Time, lineItems []ResolvedLineItem) (*DailyCost, error) {
	if len(lineItems) == 0 {
		return nil, ErrNoLineItems
	}

	currency := lineItems[0].Currency
	total := decimal.Zero
	breakdown := make([]string, 0, len(lineItems))

	for _, item := range lineItems {
		if item.Currency != currency {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedCurrency, currency, item.Currency)
		}
		total = total.Add(item.TotalCost)
		breakdown = append(breakdown, fmt.Sprintf("%s: %s × $%s = $%s",
			item.ResourceType,
			strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			item.UnitPrice,
			item.TotalCost,
		))
	}

	dc := &DailyCost{
		AppID:      appID,
		ProviderID: providerID,
		Date:       date,
		CostLocal:  total,
		Currency:   currency,
		Notes:      "Calculated from usage metrics:\n" + strings.Join(breakdown, "\n"),
	}

	if err := r.store.UpsertDailyCost(ctx, dc); err != nil {
		return nil, fmt.Errorf("upsert daily cost: %w", err)
	}

	r.log.Info("daily cost reconciled",
		zap.Int64("app_id", appID),
		zap.Int64("provider_id", providerID),
		zap.Time("date", date),
		zap.String("total", total.String()),
		zap.String("currency", currency),
	)

	return dc, nil
}
