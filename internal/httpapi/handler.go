// Package httpapi exposes the HTTP surface: ingestion, manual cost
// calculation, rate and provider management, and reads over the
// persisted cost data.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/apps"
	"github.com/vnmchuo/costwatch/internal/auth"
	"github.com/vnmchuo/costwatch/internal/catalog"
	"github.com/vnmchuo/costwatch/internal/costs"
	"github.com/vnmchuo/costwatch/internal/fetcher/vercel"
	"github.com/vnmchuo/costwatch/internal/ingest"
	"github.com/vnmchuo/costwatch/pkg/ratelimit"
)

// IngestRunner is the slice of the orchestrator the handlers need.
type IngestRunner interface {
	Run(ctx context.Context, targets []string) *ingest.BatchReport
	IngestManual(ctx context.Context, appID, providerID int64, man ingest.ManualUsage) (*ingest.ManualResult, error)
}

// ProjectSyncer mirrors the Vercel project sync.
type ProjectSyncer interface {
	SyncProjects(ctx context.Context) (*vercel.SyncResult, error)
}

type Handler struct {
	orch      IngestRunner
	catalog   *catalog.Catalog
	rateStore catalog.Store
	costStore costs.Store
	appStore  apps.Store
	rawStore  ingest.Store
	syncer    ProjectSyncer
	limiter   *ratelimit.Limiter
	tracer    trace.Tracer
	log       *zap.Logger
}

func NewHandler(
	orch IngestRunner,
	cat *catalog.Catalog,
	rateStore catalog.Store,
	costStore costs.Store,
	appStore apps.Store,
	rawStore ingest.Store,
	syncer ProjectSyncer,
	limiter *ratelimit.Limiter,
	tracer trace.Tracer,
	log *zap.Logger,
) *Handler {
	return &Handler{
		orch:      orch,
		catalog:   cat,
		rateStore: rateStore,
		costStore: costStore,
		appStore:  appStore,
		rawStore:  rawStore,
		syncer:    syncer,
		limiter:   limiter,
		tracer:    tracer,
		log:       log,
	}
}

// Routes registers the protected API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/ingest", h.HandleIngest)
	r.Post("/v1/costs/calculate", h.HandleCalculate)
	r.Get("/v1/costs", h.HandleListCosts)
	r.Get("/v1/rates", h.HandleListRates)
	r.Post("/v1/rates", h.HandleCreateRate)
	r.Put("/v1/rates/{id}", h.HandleUpdateRate)
	r.Delete("/v1/rates/{id}", h.HandleDeleteRate)
	r.Post("/v1/rates/bulk-import", h.HandleBulkImport)
	r.Get("/v1/apps", h.HandleListApps)
	r.Post("/v1/apps", h.HandleCreateApp)
	r.Get("/v1/providers", h.HandleListProviders)
	r.Post("/v1/providers", h.HandleCreateProvider)
	r.Get("/v1/raw-billing", h.HandleListRawBilling)
	r.Post("/v1/sync/vercel", h.HandleSyncVercel)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

type ingestRequest struct {
	Targets []string `json:"targets"`
}

func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, span := h.tracer.Start(ctx, "api.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", auth.GetRequestID(ctx)))

	allowed, err := h.limiter.Allow(ctx, clientKey(r), 1)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		respondJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Targets) == 0 {
		respondError(w, http.StatusBadRequest, "targets must not be empty")
		return
	}

	report := h.orch.Run(ctx, req.Targets)
	respondJSON(w, http.StatusOK, report)
}

type calculateRequest struct {
	AppID      int64              `json:"appId"`
	ProviderID int64              `json:"providerId"`
	Date       string             `json:"date"`
	Usage      map[string]float64 `json:"usage"`
}

func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AppID <= 0 || req.ProviderID <= 0 {
		respondError(w, http.StatusBadRequest, "appId and providerId are required")
		return
	}

	result, err := h.orch.IngestManual(ctx, req.AppID, req.ProviderID, ingest.ManualUsage{
		Date:  req.Date,
		Usage: req.Usage,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrProviderNotConfigured):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, costs.ErrNoLineItems):
			var unresolved []string
			if result != nil {
				unresolved = result.Unresolved
			}
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "no usage could be priced",
				"unresolved": unresolved,
			})
		default:
			h.log.Error("manual cost calculation failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleListCosts(w http.ResponseWriter, r *http.Request) {
	var f costs.CostFilter
	var err error

	q := r.URL.Query()
	if f.AppID, err = queryInt(q.Get("appId")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid appId")
		return
	}
	if f.ProviderID, err = queryInt(q.Get("providerId")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid providerId")
		return
	}
	if f.From, err = queryDate(q.Get("from")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid 'from' date (use YYYY-MM-DD)")
		return
	}
	if f.To, err = queryDate(q.Get("to")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid 'to' date (use YYYY-MM-DD)")
		return
	}

	list, err := h.costStore.ListDailyCosts(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"costs": list})
}

func (h *Handler) HandleListRates(w http.ResponseWriter, r *http.Request) {
	var f catalog.RateFilter
	var err error
	if f.ProviderID, err = queryInt(r.URL.Query().Get("providerId")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid providerId")
		return
	}
	f.ResourceType = r.URL.Query().Get("resourceType")

	rates, err := h.rateStore.ListRates(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rates": rates})
}

type rateRequest struct {
	ProviderID    int64           `json:"provider_id"`
	ResourceType  string          `json:"resource_type"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Currency      string          `json:"currency"`
	Unit          string          `json:"unit"`
	EffectiveDate string          `json:"effective_date"`
	Notes         string          `json:"notes"`
}

func (req *rateRequest) toRate() (*catalog.PricingRate, error) {
	if req.ProviderID <= 0 {
		return nil, errors.New("provider_id is required")
	}
	if req.ResourceType == "" {
		return nil, errors.New("resource_type is required")
	}
	if req.UnitPrice.IsNegative() {
		return nil, errors.New("unit_price must not be negative")
	}
	if req.EffectiveDate == "" {
		return nil, errors.New("effective_date is required")
	}
	effective, err := time.Parse("2006-01-02", req.EffectiveDate)
	if err != nil {
		return nil, errors.New("invalid effective_date (use YYYY-MM-DD)")
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	return &catalog.PricingRate{
		ProviderID:    req.ProviderID,
		ResourceType:  req.ResourceType,
		UnitPrice:     req.UnitPrice,
		Currency:      currency,
		Unit:          req.Unit,
		EffectiveDate: effective,
		Notes:         req.Notes,
	}, nil
}

func (h *Handler) HandleCreateRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rate, err := req.toRate()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.rateStore.CreateRate(r.Context(), rate); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rate)
}

func (h *Handler) HandleUpdateRate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rate id")
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rate, err := req.toRate()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate.ID = id

	if err := h.rateStore.UpdateRate(r.Context(), rate); err != nil {
		if errors.Is(err, catalog.ErrRateNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rate)
}

func (h *Handler) HandleDeleteRate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rate id")
		return
	}
	if err := h.rateStore.DeleteRate(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrRateNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) HandleBulkImport(w http.ResponseWriter, r *http.Request) {
	var imp catalog.BulkImport
	if err := json.NewDecoder(r.Body).Decode(&imp); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.catalog.ImportRates(r.Context(), imp)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	list, err := h.appStore.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"apps": list})
}

func (h *Handler) HandleCreateApp(w http.ResponseWriter, r *http.Request) {
	var app apps.App
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if app.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.appStore.Create(r.Context(), &app); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, &app)
}

func (h *Handler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	list, err := h.rateStore.ListProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": list})
}

func (h *Handler) HandleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var p catalog.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	if p.Name == "" {
		p.Name = p.Type
	}
	if err := h.rateStore.CreateProvider(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, &p)
}

func (h *Handler) HandleListRawBilling(w http.ResponseWriter, r *http.Request) {
	var f ingest.RawBillingFilter
	var err error
	if f.ProviderID, err = queryInt(r.URL.Query().Get("providerId")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid providerId")
		return
	}
	if f.AppID, err = queryInt(r.URL.Query().Get("appId")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid appId")
		return
	}

	list, err := h.rawStore.ListRawBilling(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rawBilling": list})
}

// HandleSyncVercel mirrors the Vercel project list into the apps table.
// The vercel provider row is created first so subsequent ingestion has a
// catalog entry to attach rates to.
func (h *Handler) HandleSyncVercel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.catalog.EnsureProvider(ctx, "vercel"); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := h.syncer.SyncProjects(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// clientKey identifies the caller for rate limiting. With a single shared
// ingest token the remote address is the only request identity available.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

func queryInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func queryDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
