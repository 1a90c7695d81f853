package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// Mock Store
type mockStore struct {
	getProviderByTypeFunc func(ctx context.Context, providerType string) (*Provider, error)
	createProviderFunc    func(ctx context.Context, p *Provider) error
	ratesAsOfFunc         func(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error)
	upsertRateFunc        func(ctx context.Context, rate *PricingRate) error
}

func (m *mockStore) GetProviderByType(ctx context.Context, providerType string) (*Provider, error) {
	if m.getProviderByTypeFunc != nil {
		return m.getProviderByTypeFunc(ctx, providerType)
	}
	return nil, ErrProviderNotFound
}

func (m *mockStore) GetProviderByID(ctx context.Context, id int64) (*Provider, error) {
	return nil, ErrProviderNotFound
}

func (m *mockStore) CreateProvider(ctx context.Context, p *Provider) error {
	if m.createProviderFunc != nil {
		return m.createProviderFunc(ctx, p)
	}
	p.ID = 1
	return nil
}

func (m *mockStore) ListProviders(ctx context.Context) ([]*Provider, error) {
	return nil, nil
}

func (m *mockStore) RatesAsOf(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
	if m.ratesAsOfFunc != nil {
		return m.ratesAsOfFunc(ctx, providerID, resourceType, asOf)
	}
	return nil, nil
}

func (m *mockStore) UpsertRate(ctx context.Context, rate *PricingRate) error {
	if m.upsertRateFunc != nil {
		return m.upsertRateFunc(ctx, rate)
	}
	return nil
}

func (m *mockStore) CreateRate(ctx context.Context, rate *PricingRate) error { return nil }
func (m *mockStore) UpdateRate(ctx context.Context, rate *PricingRate) error { return nil }
func (m *mockStore) DeleteRate(ctx context.Context, id int64) error          { return nil }
func (m *mockStore) ListRates(ctx context.Context, f RateFilter) ([]*PricingRate, error) {
	return nil, nil
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveRate_PicksMostRecentApplicable(t *testing.T) {
	older := &PricingRate{ID: 1, EffectiveDate: date("2024-06-01"), UnitPrice: decimal.RequireFromString("0.10")}
	newer := &PricingRate{ID: 2, EffectiveDate: date("2025-01-01"), UnitPrice: decimal.RequireFromString("0.09")}

	store := &mockStore{
		ratesAsOfFunc: func(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
			// Store contract: most recent first.
			return []*PricingRate{newer, older}, nil
		},
	}
	c := New(store)

	rate, err := c.ResolveRate(context.Background(), 1, "bandwidth_gb", date("2025-01-15"))
	if err != nil {
		t.Fatalf("ResolveRate failed: %v", err)
	}
	if rate.ID != 2 {
		t.Errorf("Expected rate 2 (most recent applicable), got %d", rate.ID)
	}
}

func TestResolveRate_NotFound(t *testing.T) {
	store := &mockStore{
		ratesAsOfFunc: func(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
			return nil, nil
		},
	}
	c := New(store)

	_, err := c.ResolveRate(context.Background(), 1, "sms_sent", date("2024-01-01"))
	if !errors.Is(err, ErrRateNotFound) {
		t.Errorf("Expected ErrRateNotFound, got %v", err)
	}
}

func TestResolveRate_DuplicateEffectiveDate(t *testing.T) {
	first := &PricingRate{ID: 1, EffectiveDate: date("2025-01-01")}
	second := &PricingRate{ID: 2, EffectiveDate: date("2025-01-01")}

	store := &mockStore{
		ratesAsOfFunc: func(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
			return []*PricingRate{first, second}, nil
		},
	}
	c := New(store)

	_, err := c.ResolveRate(context.Background(), 1, "bandwidth_gb", date("2025-02-01"))
	if !errors.Is(err, ErrDuplicateRate) {
		t.Errorf("Expected ErrDuplicateRate, got %v", err)
	}
}

func TestResolveRate_DistinctDatesNotDuplicate(t *testing.T) {
	store := &mockStore{
		ratesAsOfFunc: func(ctx context.Context, providerID int64, resourceType string, asOf time.Time) ([]*PricingRate, error) {
			return []*PricingRate{
				{ID: 2, EffectiveDate: date("2025-01-01")},
				{ID: 1, EffectiveDate: date("2024-06-01")},
			}, nil
		},
	}
	c := New(store)

	rate, err := c.ResolveRate(context.Background(), 1, "bandwidth_gb", date("2025-02-01"))
	if err != nil {
		t.Fatalf("ResolveRate failed: %v", err)
	}
	if rate.ID != 2 {
		t.Errorf("Expected rate 2, got %d", rate.ID)
	}
}

func TestEnsureProvider_CreatesOnFirstReference(t *testing.T) {
	created := false
	store := &mockStore{
		getProviderByTypeFunc: func(ctx context.Context, providerType string) (*Provider, error) {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
		},
		createProviderFunc: func(ctx context.Context, p *Provider) error {
			created = true
			p.ID = 7
			return nil
		},
	}
	c := New(store)

	p, err := c.EnsureProvider(context.Background(), "vercel")
	if err != nil {
		t.Fatalf("EnsureProvider failed: %v", err)
	}
	if !created {
		t.Error("Expected provider to be created")
	}
	if p.Name != "Vercel" {
		t.Errorf("Expected name 'Vercel', got %s", p.Name)
	}
	if p.Type != "vercel" {
		t.Errorf("Expected type 'vercel', got %s", p.Type)
	}
}

func TestEnsureProvider_ReturnsExisting(t *testing.T) {
	store := &mockStore{
		getProviderByTypeFunc: func(ctx context.Context, providerType string) (*Provider, error) {
			return &Provider{ID: 3, Name: "GitHub", Type: "github"}, nil
		},
		createProviderFunc: func(ctx context.Context, p *Provider) error {
			t.Fatal("Create should not be called for an existing provider")
			return nil
		},
	}
	c := New(store)

	p, err := c.EnsureProvider(context.Background(), "github")
	if err != nil {
		t.Fatalf("EnsureProvider failed: %v", err)
	}
	if p.ID != 3 {
		t.Errorf("Expected existing provider 3, got %d", p.ID)
	}
}

func TestImportRates_UpsertsByNaturalKey(t *testing.T) {
	type key struct {
		provider     int64
		resourceType string
		effective    string
	}
	upserts := map[key]decimal.Decimal{}

	store := &mockStore{
		getProviderByTypeFunc: func(ctx context.Context, providerType string) (*Provider, error) {
			switch providerType {
			case "vercel":
				return &Provider{ID: 1, Type: "vercel"}, nil
			case "twilio":
				return &Provider{ID: 2, Type: "twilio"}, nil
			}
			return nil, ErrProviderNotFound
		},
		upsertRateFunc: func(ctx context.Context, rate *PricingRate) error {
			k := key{rate.ProviderID, rate.ResourceType, rate.EffectiveDate.Format("2006-01-02")}
			upserts[k] = rate.UnitPrice
			return nil
		},
	}
	c := New(store)

	imp := BulkImport{
		Rates: map[string]map[string]decimal.Decimal{
			"vercel": {
				"serverless_invocation": decimal.RequireFromString("0.000016"),
				"bandwidth_gb":          decimal.RequireFromString("0.09"),
			},
			"twilio": {
				"sms_sent": decimal.RequireFromString("0.0075"),
			},
		},
		EffectiveDate: "2025-01-01",
	}

	// Importing twice must converge to one rate per key.
	for i := 0; i < 2; i++ {
		result, err := c.ImportRates(context.Background(), imp)
		if err != nil {
			t.Fatalf("ImportRates failed: %v", err)
		}
		if result.Imported != 3 {
			t.Errorf("Expected 3 imported, got %d", result.Imported)
		}
		if len(result.Errors) != 0 {
			t.Errorf("Expected no errors, got %v", result.Errors)
		}
	}

	if len(upserts) != 3 {
		t.Errorf("Expected 3 distinct rate keys, got %d", len(upserts))
	}
	price := upserts[key{1, "serverless_invocation", "2025-01-01"}]
	if !price.Equal(decimal.RequireFromString("0.000016")) {
		t.Errorf("Expected unit price 0.000016, got %s", price)
	}
}

func TestImportRates_DefaultsCurrencyUSD(t *testing.T) {
	var gotCurrency string
	store := &mockStore{
		getProviderByTypeFunc: func(ctx context.Context, providerType string) (*Provider, error) {
			return &Provider{ID: 1, Type: providerType}, nil
		},
		upsertRateFunc: func(ctx context.Context, rate *PricingRate) error {
			gotCurrency = rate.Currency
			return nil
		},
	}
	c := New(store)

	_, err := c.ImportRates(context.Background(), BulkImport{
		Rates: map[string]map[string]decimal.Decimal{
			"vercel": {"bandwidth_gb": decimal.RequireFromString("0.09")},
		},
	})
	if err != nil {
		t.Fatalf("ImportRates failed: %v", err)
	}
	if gotCurrency != "USD" {
		t.Errorf("Expected currency USD, got %s", gotCurrency)
	}
}

func TestImportRates_CollectsPerRateErrors(t *testing.T) {
	store := &mockStore{
		getProviderByTypeFunc: func(ctx context.Context, providerType string) (*Provider, error) {
			return &Provider{ID: 1, Type: providerType}, nil
		},
		upsertRateFunc: func(ctx context.Context, rate *PricingRate) error {
			if rate.ResourceType == "bad_resource" {
				return fmt.Errorf("boom")
			}
			return nil
		},
	}
	c := New(store)

	result, err := c.ImportRates(context.Background(), BulkImport{
		Rates: map[string]map[string]decimal.Decimal{
			"vercel": {
				"bad_resource": decimal.RequireFromString("1"),
				"bandwidth_gb": decimal.RequireFromString("0.09"),
			},
		},
	})
	if err != nil {
		t.Fatalf("ImportRates failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Expected 1 imported, got %d", result.Imported)
	}
	if len(result.Errors) != 1 || result.Errors[0].ResourceType != "bad_resource" {
		t.Errorf("Expected one error for bad_resource, got %v", result.Errors)
	}
}

func TestImportRates_InvalidEffectiveDate(t *testing.T) {
	c := New(&mockStore{})
	_, err := c.ImportRates(context.Background(), BulkImport{
		Rates: map[string]map[string]decimal.Decimal{
			"vercel": {"bandwidth_gb": decimal.RequireFromString("0.09")},
		},
		EffectiveDate: "01/15/2025",
	})
	if err == nil {
		t.Error("Expected error for invalid effectiveDate")
	}
}
