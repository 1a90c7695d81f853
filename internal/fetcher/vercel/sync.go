package vercel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/vnmchuo/costwatch/internal/apps"
)

type projectsResponse struct {
	Projects []project `json:"projects"`
}

type project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link *struct {
		Type string `json:"type"`
		Repo string `json:"repo"`
	} `json:"link"`
	Targets *struct {
		Production *struct {
			Alias []string `json:"alias"`
		} `json:"production"`
	} `json:"targets"`
}

type SyncResult struct {
	Count int         `json:"count"`
	Apps  []*apps.App `json:"apps"`
}

// SyncProjects pulls the Vercel project list and upserts one app per
// project, keyed by the project id so re-syncing updates in place.
func (f *Fetcher) SyncProjects(ctx context.Context) (*SyncResult, error) {
	if f.cfg.Token == "" {
		return nil, errors.New("vercel token not configured")
	}

	params := url.Values{}
	if f.cfg.TeamID != "" {
		params.Set("teamId", f.cfg.TeamID)
	}
	reqURL := fmt.Sprintf("%s/v9/projects", f.cfg.BaseURL)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

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

	var projects projectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, err
	}

	result := &SyncResult{Apps: []*apps.App{}}
	for _, p := range projects.Projects {
		app := &apps.App{
			Name:            p.Name,
			VercelProjectID: p.ID,
		}
		if p.Targets != nil && p.Targets.Production != nil && len(p.Targets.Production.Alias) > 0 {
			app.Domain = p.Targets.Production.Alias[0]
		}
		if p.Link != nil && p.Link.Repo != "" {
			app.RepoURL = "https://github.com/" + p.Link.Repo
		}

		if err := f.apps.UpsertByVercelProject(ctx, app); err != nil {
			return nil, fmt.Errorf("upsert app %s: %w", p.Name, err)
		}
		result.Count++
		result.Apps = append(result.Apps, app)
	}

	f.log.Info("vercel projects synced", zap.Int("count", result.Count))
	return result, nil
}
