// Package cloudflare fetches zone analytics and normalizes request and
// bandwidth totals into daily usage observations.
package cloudflare

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
	ZoneID  string
	BaseURL string
}

type Fetcher struct {
	cfg  Config
	apps apps.Store
	log  *zap.Logger
}

type dashboardResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		Totals struct {
			Requests struct {
				All float64 `json:"all"`
			} `json:"requests"`
			Bandwidth struct {
				All float64 `json:"all"`
			} `json:"bandwidth"`
			Threats struct {
				All float64 `json:"all"`
			} `json:"threats"`
		} `json:"totals"`
	} `json:"result"`
}

func New(cfg Config, store apps.Store, log *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloudflare.com"
	}
	return &Fetcher{cfg: cfg, apps: store, log: log}
}

func (f *Fetcher) Name() string {
	return "cloudflare"
}

// Fetch pulls the previous day's zone analytics. Bandwidth is reported in
// bytes and converted to GiB; zero totals are dropped.
func (f *Fetcher) Fetch(ctx context.Context) ([]ingest.Report, error) {
	if f.cfg.Token == "" {
		return nil, errors.New("cloudflare api token not configured")
	}
	if f.cfg.ZoneID == "" {
		return nil, errors.New("cloudflare zone id not configured")
	}

	dash, err := f.dashboard(ctx)
	if err != nil {
		return nil, err
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)

	totals := dash.Result.Totals
	bandwidthGB := totals.Bandwidth.All / (1 << 30)

	raw, err := json.Marshal(map[string]any{
		"date": day.Format("2006-01-02"),
		"analytics": map[string]float64{
			"requests":     totals.Requests.All,
			"bandwidth_gb": bandwidthGB,
			"threats":      totals.Threats.All,
		},
		"source": "cloudflare-api",
		"zoneId": f.cfg.ZoneID,
	})
	if err != nil {
		return nil, err
	}

	rep := ingest.Report{Date: day, Raw: raw}

	app, err := f.apps.GetByName(ctx, "Cloudflare")
	if err != nil {
		if !errors.Is(err, apps.ErrAppNotFound) {
			return nil, fmt.Errorf("lookup cloudflare app: %w", err)
		}
		f.log.Debug("no app configured for cloudflare usage")
		return []ingest.Report{rep}, nil
	}

	rep.AppID = app.ID
	rep.AppName = app.Name

	usage := map[string]float64{
		"requests":     totals.Requests.All,
		"bandwidth_gb": bandwidthGB,
	}
	for _, rt := range []string{"bandwidth_gb", "requests"} {
		if usage[rt] <= 0 {
			continue
		}
		rep.Observations = append(rep.Observations, costs.UsageObservation{
			ResourceType: rt,
			Quantity:     usage[rt],
			Date:         day,
		})
	}

	return []ingest.Report{rep}, nil
}

func (f *Fetcher) dashboard(ctx context.Context) (*dashboardResponse, error) {
	reqURL := fmt.Sprintf("%s/client/v4/zones/%s/analytics/dashboard", f.cfg.BaseURL, f.cfg.ZoneID)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.cfg.Token))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cloudflare api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var dash dashboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		return nil, err
	}
	if !dash.Success {
		if len(dash.Errors) > 0 {
			return nil, fmt.Errorf("cloudflare api error %d: %s", dash.Errors[0].Code, dash.Errors[0].Message)
		}
		return nil, errors.New("cloudflare api returned unsuccessful response")
	}
	return &dash, nil
}
