// Package github fetches GitHub Actions billing usage and normalizes the
// paid minutes into daily usage observations.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/apps"
	"github.com/vnmchuo/costwatch/internal/costs"
	"github.com/vnmchuo/costwatch/internal/ingest"
)

type Config struct {
	Token   string
	Org     string // empty means the authenticated user's billing
	BaseURL string
}

type Fetcher struct {
	cfg  Config
	apps apps.Store
	log  *zap.Logger
}

type actionsUsage struct {
	TotalMinutesUsed     float64 `json:"total_minutes_used"`
	TotalPaidMinutesUsed float64 `json:"total_paid_minutes_used"`
	IncludedMinutes      float64 `json:"included_minutes"`
}

func New(cfg Config, store apps.Store, log *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &Fetcher{cfg: cfg, apps: store, log: log}
}

func (f *Fetcher) Name() string {
	return "github"
}

// Fetch retrieves Actions billing usage. Only paid minutes become an
// observation; included minutes carry no cost. Without a matching app the
// payload is still returned for audit.
func (f *Fetcher) Fetch(ctx context.Context) ([]ingest.Report, error) {
	if f.cfg.Token == "" {
		return nil, errors.New("github token not configured")
	}

	usage, err := f.actionsUsage(ctx)
	if err != nil {
		return nil, err
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)

	raw, err := json.Marshal(map[string]any{
		"date":   day.Format("2006-01-02"),
		"usage":  map[string]float64{"actions_minutes": usage.TotalPaidMinutesUsed},
		"source": "github-api",
		"org":    f.cfg.Org,
	})
	if err != nil {
		return nil, err
	}

	rep := ingest.Report{Date: day, Raw: raw}

	appName := f.cfg.Org
	if appName == "" {
		appName = "GitHub"
	}
	app, err := f.apps.GetByName(ctx, appName)
	if err != nil {
		if !errors.Is(err, apps.ErrAppNotFound) {
			return nil, fmt.Errorf("lookup app %s: %w", appName, err)
		}
		f.log.Debug("no app configured for github usage", zap.String("name", appName))
		return []ingest.Report{rep}, nil
	}

	rep.AppID = app.ID
	rep.AppName = app.Name
	if usage.TotalPaidMinutesUsed > 0 {
		rep.Observations = []costs.UsageObservation{{
			ResourceType: "actions_minutes",
			Quantity:     usage.TotalPaidMinutesUsed,
			Date:         day,
		}}
	}

	return []ingest.Report{rep}, nil
}

func (f *Fetcher) actionsUsage(ctx context.Context) (*actionsUsage, error) {
	reqURL := fmt.Sprintf("%s/user/settings/billing/actions", f.cfg.BaseURL)
	if f.cfg.Org != "" {
		reqURL = fmt.Sprintf("%s/orgs/%s/settings/billing/actions", f.cfg.BaseURL, f.cfg.Org)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.cfg.Token))
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var usage actionsUsage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, err
	}
	return &usage, nil
}
