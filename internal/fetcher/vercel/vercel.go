// Package vercel fetches per-project usage from the Vercel API and
// normalizes it into daily usage observations.
package vercel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/apps"
	"github.com/vnmchuo/costwatch/internal/costs"
	"github.com/vnmchuo/costwatch/internal/ingest"
)

type Config struct {
	Token   string
	TeamID  string
	BaseURL string
}

type Fetcher struct {
	cfg  Config
	apps apps.Store
	log  *zap.Logger
}

type deploymentsResponse struct {
	Deployments []deployment `json:"deployments"`
}

type deployment struct {
	UID           string `json:"uid"`
	BuildDuration int64  `json:"buildDuration"` // milliseconds
}

func New(cfg Config, store apps.Store, log *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.vercel.com"
	}
	return &Fetcher{cfg: cfg, apps: store, log: log}
}

func (f *Fetcher) Name() string {
	return "vercel"
}

// Fetch pulls yesterday's usage for every app linked to a Vercel project.
// One project's API failure is carried on its report so the remaining
// projects still ingest.
func (f *Fetcher) Fetch(ctx context.Context) ([]ingest.Report, error) {
	if f.cfg.Token == "" {
		return nil, errors.New("vercel token not configured")
	}

	linked, err := f.apps.ListWithVercelProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vercel apps: %w", err)
	}

	start, end := yesterday()
	reports := make([]ingest.Report, 0, len(linked))

	for _, app := range linked {
		usage, err := f.projectUsage(ctx, app.VercelProjectID, start, end)
		if err != nil {
			reports = append(reports, ingest.Report{
				AppID:   app.ID,
				AppName: app.Name,
				Err:     fmt.Errorf("project %s: %w", app.VercelProjectID, err),
			})
			continue
		}

		raw, err := json.Marshal(map[string]any{
			"date":   start.Format("2006-01-02"),
			"usage":  usage,
			"source": "vercel-api",
		})
		if err != nil {
			reports = append(reports, ingest.Report{AppID: app.ID, AppName: app.Name, Err: err})
			continue
		}

		reports = append(reports, ingest.Report{
			AppID:        app.ID,
			AppName:      app.Name,
			Date:         start,
			Observations: observations(usage, start),
			Raw:          raw,
		})
	}

	return reports, nil
}

// projectUsage aggregates usage metrics for one project over [start, end).
func (f *Fetcher) projectUsage(ctx context.Context, projectID string, start, end time.Time) (map[string]float64, error) {
	params := url.Values{}
	if f.cfg.TeamID != "" {
		params.Set("teamId", f.cfg.TeamID)
	}
	params.Set("projectId", projectID)
	params.Set("since", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("until", strconv.FormatInt(end.UnixMilli(), 10))

	reqURL := fmt.Sprintf("%s/v6/deployments?%s", f.cfg.BaseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.cfg.Token))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vercel api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var deployments deploymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&deployments); err != nil {
		return nil, err
	}

	var buildMs int64
	for _, d := range deployments.Deployments {
		buildMs += d.BuildDuration
	}

	return map[string]float64{
		"build_minutes": float64(buildMs) / 60000,
	}, nil
}

// observations drops zero quantities so unused metrics never become
// zero-cost line items. Resource types are emitted in sorted order so
// repeat runs produce identical line-item ordering in the breakdown notes.
func observations(usage map[string]float64, day time.Time) []costs.UsageObservation {
	resourceTypes := make([]string, 0, len(usage))
	for resourceType := range usage {
		resourceTypes = append(resourceTypes, resourceType)
	}
	sort.Strings(resourceTypes)

	var obs []costs.UsageObservation
	for _, resourceType := range resourceTypes {
		if usage[resourceType] == 0 {
			continue
		}
		obs = append(obs, costs.UsageObservation{
			ResourceType: resourceType,
			Quantity:     usage[resourceType],
			Date:         day,
		})
	}
	return obs
}

func yesterday() (time.Time, time.Time) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -1), end
}
