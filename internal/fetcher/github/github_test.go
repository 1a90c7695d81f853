package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/apps"
)

type mockAppStore struct {
	getByName func(ctx context.Context, name string) (*apps.App, error)
}

func (m *mockAppStore) List(ctx context.Context) ([]*apps.App, error)   { return nil, nil }
func (m *mockAppStore) Create(ctx context.Context, app *apps.App) error { return nil }
func (m *mockAppStore) GetByID(ctx context.Context, id int64) (*apps.App, error) {
	return nil, apps.ErrAppNotFound
}
func (m *mockAppStore) GetByName(ctx context.Context, name string) (*apps.App, error) {
	if m.getByName != nil {
		return m.getByName(ctx, name)
	}
	return nil, apps.ErrAppNotFound
}
func (m *mockAppStore) ListWithVercelProject(ctx context.Context) ([]*apps.App, error) {
	return nil, nil
}
func (m *mockAppStore) UpsertByVercelProject(ctx context.Context, app *apps.App) error {
	return nil
}

func TestFetchPaidMinutes(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_minutes_used": 3100, "total_paid_minutes_used": 250.5, "included_minutes": 3000}`))
	}))
	defer server.Close()

	store := &mockAppStore{
		getByName: func(ctx context.Context, name string) (*apps.App, error) {
			if name != "acme" {
				t.Fatalf("unexpected app lookup: %s", name)
			}
			return &apps.App{ID: 7, Name: "acme"}, nil
		},
	}

	f := New(Config{Token: "ghp_test", Org: "acme", BaseURL: server.URL}, store, zap.NewNop())

	reports, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/orgs/acme/settings/billing/actions" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer ghp_test" {
		t.Errorf("auth = %s", gotAuth)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	rep := reports[0]
	if rep.AppID != 7 {
		t.Errorf("app id = %d", rep.AppID)
	}
	if len(rep.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(rep.Observations))
	}
	if rep.Observations[0].ResourceType != "actions_minutes" || rep.Observations[0].Quantity != 250.5 {
		t.Errorf("observation = %+v", rep.Observations[0])
	}
	if len(rep.Raw) == 0 {
		t.Error("expected raw payload")
	}
}

func TestFetchNoPaidMinutes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_minutes_used": 120, "total_paid_minutes_used": 0, "included_minutes": 3000}`))
	}))
	defer server.Close()

	store := &mockAppStore{
		getByName: func(ctx context.Context, name string) (*apps.App, error) {
			return &apps.App{ID: 7, Name: "acme"}, nil
		},
	}
	f := New(Config{Token: "t", Org: "acme", BaseURL: server.URL}, store, zap.NewNop())

	reports, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if len(reports[0].Observations) != 0 {
		t.Errorf("expected no observations for zero paid minutes, got %d", len(reports[0].Observations))
	}
}

func TestFetchNoAppStillAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_paid_minutes_used": 42}`))
	}))
	defer server.Close()

	f := New(Config{Token: "t", Org: "acme", BaseURL: server.URL}, &mockAppStore{}, zap.NewNop())

	reports, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].AppID != 0 {
		t.Errorf("expected unassigned app, got %d", reports[0].AppID)
	}
	if len(reports[0].Raw) == 0 {
		t.Error("raw payload must survive without an app")
	}
}

func TestFetchUserBillingWhenNoOrg(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"total_paid_minutes_used": 1}`))
	}))
	defer server.Close()

	f := New(Config{Token: "t", BaseURL: server.URL}, &mockAppStore{}, zap.NewNop())
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/user/settings/billing/actions" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestFetchMissingToken(t *testing.T) {
	f := New(Config{}, &mockAppStore{}, zap.NewNop())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestFetchAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	f := New(Config{Token: "bad", Org: "acme", BaseURL: server.URL}, &mockAppStore{}, zap.NewNop())
	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, apps.ErrAppNotFound) {
		t.Error("api error must not be an app lookup error")
	}
}
