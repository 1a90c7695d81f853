package seeder

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/costwatch/internal/catalog"
)

// BaselineEffectiveDate anchors the seeded rates so any usage observed on
// or after it resolves.
const BaselineEffectiveDate = "2025-01-01"

func baselineRates() map[string]map[string]decimal.Decimal {
	return map[string]map[string]decimal.Decimal{
		"vercel": {
			"serverless_invocation": decimal.RequireFromString("0.000016"),
			"bandwidth_gb":          decimal.RequireFromString("0.09"),
		},
		"github": {
			"actions_minutes": decimal.RequireFromString("0.008"),
		},
		"twilio": {
			"sms_sent": decimal.RequireFromString("0.0075"),
		},
	}
}

// SeedBaseline imports the default rate card. The import is keyed by
// (provider, resource type, effective date), so re-running it is harmless.
func SeedBaseline(ctx context.Context, cat *catalog.Catalog) {
	result, err := cat.ImportRates(ctx, catalog.BulkImport{
		Rates:         baselineRates(),
		EffectiveDate: BaselineEffectiveDate,
		Currency:      "USD",
	})
	if err != nil {
		log.Printf("[Seeder] baseline rate import failed, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Baseline rates imported: %d", result.Imported)
	for _, impErr := range result.Errors {
		log.Printf("[Seeder] rate %s/%s skipped: %s", impErr.Provider, impErr.ResourceType, impErr.Error)
	}
}
