package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"skywatch/internal/queue"
)

// Client calls the external observation-strategy planner over HTTP. The
// planner computes the actual tiling; this service only submits jobs and
// records where the resulting plan landed.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("planner error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

type planRequest struct {
	JobID      string   `json:"job_id"`
	EventID    string   `json:"event_id"`
	Kind       string   `json:"kind"`
	Telescopes []string `json:"telescopes"`
	TileCount  int      `json:"tile_count"`
}

type planResponse struct {
	Location string `json:"location"`
}

// GeneratePlan submits one job and blocks until the planner finishes or the
// context expires. Implements queue.Strategist.
func (c *Client) GeneratePlan(ctx context.Context, job queue.Job) (string, error) {
	payload, err := json.Marshal(planRequest{
		JobID:      job.JobID,
		EventID:    job.EventID,
		Kind:       job.StrategyKind,
		Telescopes: job.TelescopeGroup,
		TileCount:  job.TileCount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode plan request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/plans", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var out planResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Location == "" {
		return "", fmt.Errorf("planner returned no result location")
	}
	return out.Location, nil
}
