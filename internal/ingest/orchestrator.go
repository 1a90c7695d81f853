package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/catalog"
	"github.com/vnmchuo/costwatch/internal/costs"
)

// ProviderDirectory is the slice of the catalog the orchestrator needs to
// bind targets to provider records.
type ProviderDirectory interface {
	GetProviderByType(ctx context.Context, providerType string) (*catalog.Provider, error)
	GetProviderByID(ctx context.Context, id int64) (*catalog.Provider, error)
}

type AppError struct {
	AppID   int64  `json:"app_id,omitempty"`
	AppName string `json:"app_name,omitempty"`
	Stage   Stage  `json:"stage"`
	Error   string `json:"error"`
}

type AppResult struct {
	AppID        int64    `json:"app_id,omitempty"`
	AppName      string   `json:"app_name,omitempty"`
	RawBillingID int64    `json:"raw_billing_id"`
	Date         string   `json:"date,omitempty"`
	TotalCost    string   `json:"total_cost,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Unresolved   []string `json:"unresolved,omitempty"`
	Message      string   `json:"message,omitempty"`
}

type TargetResult struct {
	Target    string      `json:"target"`
	Stage     Stage       `json:"stage"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Apps      []AppResult `json:"apps"`
	Errors    []AppError  `json:"errors,omitempty"`
}

type TargetError struct {
	Target string `json:"target"`
	Stage  Stage  `json:"stage"`
	Error  string `json:"error"`
}

// BatchReport enumerates every target's outcome, successes and failures
// both; a partially failed batch is never a silent success.
type BatchReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Ingested  []TargetResult `json:"ingested"`
	Errors    []TargetError  `json:"errors"`
}

type Orchestrator struct {
	registry   *Registry
	providers  ProviderDirectory
	resolver   *costs.Resolver
	reconciler *costs.Reconciler
	raw        Store
	tracer     trace.Tracer
	log        *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewOrchestrator(
	registry *Registry,
	providers ProviderDirectory,
	resolver *costs.Resolver,
	reconciler *costs.Reconciler,
	raw Store,
	tracer trace.Tracer,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		providers:  providers,
		resolver:   resolver,
		reconciler: reconciler,
		raw:        raw,
		tracer:     tracer,
		log:        log,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Run processes each target independently, in the given order. A failure in
// one target's pipeline is recorded against that target and never aborts
// the others.
func (o *Orchestrator) Run(ctx context.Context, targets []string) *BatchReport {
	report := &BatchReport{
		Timestamp: time.Now().UTC(),
		Ingested:  []TargetResult{},
		Errors:    []TargetError{},
	}

	for _, target := range targets {
		name := strings.ToLower(strings.TrimSpace(target))

		tctx, span := o.tracer.Start(ctx, "ingest.target")
		span.SetAttributes(attribute.String("target", name))

		result, terr := o.runTarget(tctx, name)
		if terr != nil {
			o.log.Warn("target ingestion failed",
				zap.String("target", name),
				zap.String("stage", string(terr.Stage)),
				zap.String("error", terr.Error),
			)
			report.Errors = append(report.Errors, *terr)
		} else {
			report.Ingested = append(report.Ingested, *result)
		}

		span.End()
	}

	return report
}

func (o *Orchestrator) runTarget(ctx context.Context, name string) (*TargetResult, *TargetError) {
	fetcher, ok := o.registry.Lookup(name)
	if !ok {
		return nil, &TargetError{
			Target: name,
			Stage:  StageFetching,
			Error:  fmt.Sprintf("unknown target: %s", name),
		}
	}

	provider, err := o.providers.GetProviderByType(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrProviderNotFound) {
			err = fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
		}
		return nil, &TargetError{Target: name, Stage: StageFetching, Error: err.Error()}
	}

	fetched, err := o.breakerFor(name).Execute(func() (interface{}, error) {
		return fetcher.Fetch(ctx)
	})
	if err != nil {
		return nil, &TargetError{Target: name, Stage: StageFetching, Error: err.Error()}
	}
	reports := fetched.([]Report)

	result := &TargetResult{Target: name, Stage: StageDone, Apps: []AppResult{}}
	for _, rep := range reports {
		if rep.Err != nil {
			result.Failed++
			result.Errors = append(result.Errors, AppError{
				AppID:   rep.AppID,
				AppName: rep.AppName,
				Stage:   StageFetching,
				Error:   rep.Err.Error(),
			})
			continue
		}

		appRes, stage, err := o.processReport(ctx, provider.ID, rep)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, AppError{
				AppID:   rep.AppID,
				AppName: rep.AppName,
				Stage:   stage,
				Error:   err.Error(),
			})
			continue
		}
		result.Processed++
		result.Apps = append(result.Apps, *appRes)
	}

	return result, nil
}

// processReport runs one normalized report through the audit, resolve and
// reconcile stages, returning the stage a failure happened in. The raw
// payload is committed before resolution is attempted, so a resolution
// failure never loses the payload.
func (o *Orchestrator) processReport(ctx context.Context, providerID int64, rep Report) (*AppResult, Stage, error) {
	rb := &RawBilling{ProviderID: providerID, Raw: rep.Raw}
	if rep.AppID != 0 {
		appID := rep.AppID
		rb.AppID = &appID
	}
	if err := o.raw.AppendRawBilling(ctx, rb); err != nil {
		return nil, StageNormalizing, fmt.Errorf("append raw billing: %w", err)
	}

	res := &AppResult{
		AppID:        rep.AppID,
		AppName:      rep.AppName,
		RawBillingID: rb.ID,
		Date:         rep.Date.Format("2006-01-02"),
	}

	if rep.AppID == 0 {
		res.Message = "no app configured, costs not calculated"
		return res, StageDone, nil
	}

	resolution, err := o.resolver.Resolve(ctx, providerID, rep.Observations)
	if err != nil {
		return nil, StageResolving, fmt.Errorf("resolve costs: %w", err)
	}
	res.Unresolved = resolution.Unresolved

	dc, err := o.reconciler.Reconcile(ctx, rep.AppID, providerID, rep.Date, resolution.LineItems)
	if err != nil {
		if errors.Is(err, costs.ErrNoLineItems) {
			res.Message = "no priced usage for this day"
			return res, StageDone, nil
		}
		return nil, StageReconciling, fmt.Errorf("reconcile daily cost: %w", err)
	}

	res.TotalCost = dc.CostLocal.String()
	res.Currency = dc.Currency
	return res, StageDone, nil
}

// ManualUsage is the hand-entry shape: one day's usage quantities keyed by
// resource type.
type ManualUsage struct {
	Date  string             `json:"date"`
	Usage map[string]float64 `json:"usage"`
}

type ManualResult struct {
	RawBillingID int64            `json:"raw_billing_id"`
	DailyCost    *costs.DailyCost `json:"daily_cost,omitempty"`
	Unresolved   []string         `json:"unresolved,omitempty"`
}

// IngestManual runs the same audit-resolve-reconcile pipeline for manually
// entered usage.
func (o *Orchestrator) IngestManual(ctx context.Context, appID, providerID int64, man ManualUsage) (*ManualResult, error) {
	if _, err := o.providers.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, catalog.ErrProviderNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrProviderNotConfigured, providerID)
		}
		return nil, err
	}

	usageDate := time.Now().UTC().Truncate(24 * time.Hour)
	if man.Date != "" {
		parsed, err := time.Parse("2006-01-02", man.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", man.Date, err)
		}
		usageDate = parsed
	}

	observations := make([]costs.UsageObservation, 0, len(man.Usage))
	resourceTypes := make([]string, 0, len(man.Usage))
	for resourceType := range man.Usage {
		resourceTypes = append(resourceTypes, resourceType)
	}
	sort.Strings(resourceTypes)
	for _, resourceType := range resourceTypes {
		observations = append(observations, costs.UsageObservation{
			ResourceType: resourceType,
			Quantity:     man.Usage[resourceType],
			Date:         usageDate,
		})
	}

	raw, err := json.Marshal(map[string]any{
		"date":   usageDate.Format("2006-01-02"),
		"usage":  man.Usage,
		"source": "manual",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal raw payload: %w", err)
	}

	rb := &RawBilling{ProviderID: providerID, AppID: &appID, Raw: raw}
	if err := o.raw.AppendRawBilling(ctx, rb); err != nil {
		return nil, fmt.Errorf("append raw billing: %w", err)
	}

	resolution, err := o.resolver.Resolve(ctx, providerID, observations)
	if err != nil {
		return nil, fmt.Errorf("resolve costs: %w", err)
	}

	result := &ManualResult{RawBillingID: rb.ID, Unresolved: resolution.Unresolved}

	dc, err := o.reconciler.Reconcile(ctx, appID, providerID, usageDate, resolution.LineItems)
	if err != nil {
		if errors.Is(err, costs.ErrNoLineItems) {
			return result, costs.ErrNoLineItems
		}
		return nil, fmt.Errorf("reconcile daily cost: %w", err)
	}

	result.DailyCost = dc
	return result, nil
}

// breakerFor returns the circuit breaker guarding one target's upstream,
// creating it on first use. A target whose API keeps failing gets
// short-circuited on later runs instead of being hammered.
func (o *Orchestrator) breakerFor(name string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cb, ok := o.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	o.breakers[name] = cb
	return cb
}
