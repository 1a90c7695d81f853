package costs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mock Cost Store backed by a map keyed on the natural key, mirroring the
// database upsert semantics.
type mockCostStore struct {
	records map[string]*DailyCost
	upserts int
}

func newMockCostStore() *mockCostStore {
	return &mockCostStore{records: map[string]*DailyCost{}}
}

func costKey(appID, providerID int64, date time.Time) string {
	return date.Format("2006-01-02") + "/" +
		decimal.NewFromInt(appID).String() + "/" +
		decimal.NewFromInt(providerID).String()
}

func (m *mockCostStore) UpsertDailyCost(ctx context.Context, dc *DailyCost) error {
	m.upserts++
	copied := *dc
	copied.ID = int64(len(m.records) + 1)
	if existing, ok := m.records[costKey(dc.AppID, dc.ProviderID, dc.Date)]; ok {
		copied.ID = existing.ID
	}
	m.records[costKey(dc.AppID, dc.ProviderID, dc.Date)] = &copied
	dc.ID = copied.ID
	return nil
}

func (m *mockCostStore) ListDailyCosts(ctx context.Context, f CostFilter) ([]*DailyCost, error) {
	var out []*DailyCost
	for _, dc := range m.records {
		out = append(out, dc)
	}
	return out, nil
}

func lineItem(resourceType string, quantity float64, unitPrice, currency string) ResolvedLineItem {
	price := decimal.RequireFromString(unitPrice)
	return ResolvedLineItem{
		ResourceType: resourceType,
		Quantity:     quantity,
		UnitPrice:    price,
		TotalCost:    price.Mul(decimal.NewFromFloat(quantity)),
		Currency:     currency,
	}
}

func TestReconcile_EmptyLineItems(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	_, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), nil)
	if !errors.Is(err, ErrNoLineItems) {
		t.Errorf("Expected ErrNoLineItems, got %v", err)
	}
	if store.upserts != 0 {
		t.Errorf("Expected no upserts, got %d", store.upserts)
	}
}

func TestReconcile_SumsLineItems(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	items := []ResolvedLineItem{
		lineItem("bandwidth_gb", 50.5, "0.09", "USD"),
		lineItem("serverless_invocation", 1_000_000, "0.000016", "USD"),
	}
	dc, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), items)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !dc.CostLocal.Equal(decimal.RequireFromString("20.545")) {
		t.Errorf("Expected total 20.545, got %s", dc.CostLocal)
	}
	if dc.Currency != "USD" {
		t.Errorf("Expected USD, got %s", dc.Currency)
	}
	if len(store.records) != 1 {
		t.Errorf("Expected 1 stored record, got %d", len(store.records))
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	items := []ResolvedLineItem{lineItem("bandwidth_gb", 50.5, "0.09", "USD")}

	first, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), items)
	if err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	second, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), items)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("Expected exactly 1 record after re-run, got %d", len(store.records))
	}
	if !first.CostLocal.Equal(second.CostLocal) {
		t.Errorf("Expected identical totals, got %s and %s", first.CostLocal, second.CostLocal)
	}
	if first.Notes != second.Notes {
		t.Errorf("Expected identical notes across re-runs")
	}
}

func TestReconcile_OverwritesNotAdds(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	_, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"),
		[]ResolvedLineItem{lineItem("bandwidth_gb", 100, "0.09", "USD")})
	if err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	// Corrected observations for the same key must replace, not double-add.
	dc, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"),
		[]ResolvedLineItem{lineItem("bandwidth_gb", 10, "0.09", "USD")})
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("Expected exactly 1 record, got %d", len(store.records))
	}
	stored := store.records[costKey(1, 2, date("2025-01-15"))]
	if !stored.CostLocal.Equal(decimal.RequireFromString("0.90")) {
		t.Errorf("Expected stored total 0.90 from second run only, got %s", stored.CostLocal)
	}
	_ = dc
}

func TestReconcile_MixedCurrency(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	items := []ResolvedLineItem{
		lineItem("bandwidth_gb", 10, "0.09", "USD"),
		lineItem("sms_sent", 100, "0.0075", "EUR"),
	}
	_, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), items)
	if !errors.Is(err, ErrMixedCurrency) {
		t.Errorf("Expected ErrMixedCurrency, got %v", err)
	}
	if store.upserts != 0 {
		t.Errorf("Expected no upserts on mixed currency, got %d", store.upserts)
	}
}

func TestReconcile_BreakdownNotes(t *testing.T) {
	store := newMockCostStore()
	r := NewReconciler(store, zap.NewNop())

	items := []ResolvedLineItem{
		lineItem("bandwidth_gb", 50.5, "0.09", "USD"),
		lineItem("serverless_invocation", 1_000_000, "0.000016", "USD"),
	}
	dc, err := r.Reconcile(context.Background(), 1, 2, date("2025-01-15"), items)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !strings.HasPrefix(dc.Notes, "Calculated from usage metrics:\n") {
		t.Errorf("Expected notes header, got %q", dc.Notes)
	}
	if !strings.Contains(dc.Notes, "bandwidth_gb: 50.5") {
		t.Errorf("Expected bandwidth line in breakdown, got %q", dc.Notes)
	}
	if !strings.Contains(dc.Notes, "serverless_invocation: 1000000") {
		t.Errorf("Expected invocation line in breakdown, got %q", dc.Notes)
	}
	if got := len(strings.Split(dc.Notes, "\n")); got != 3 {
		t.Errorf("Expected header plus one line per item, got %d lines", got)
	}
}
