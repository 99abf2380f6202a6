package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/telemetry"
)

// Config holds the endpoints and timeout for one client. It is passed
// in at construction; the client keeps no hidden global state.
type Config struct {
	// BaseURL is the primary analysis host.
	BaseURL string
	// ModerationWebhookURL / FactCheckWebhookURL are the workflow
	// fallback endpoints, tried when the primary fails.
	ModerationWebhookURL string
	FactCheckWebhookURL  string
	// Timeout bounds each tier's HTTP call independently.
	Timeout time.Duration
}

// Client routes analysis requests through a primary endpoint, a
// workflow fallback and finally a local heuristic. Moderate and
// FactCheck always produce a result; only the heuristic tier marks it
// degraded.
type Client struct {
	cfg   Config
	httpc *http.Client
	heur  Heuristic
}

func NewClient(cfg Config, heur Heuristic) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		// The client timeout is a second fence behind the per-call
		// context deadline.
		httpc: &http.Client{Timeout: cfg.Timeout},
		heur:  heur,
	}
}

// Heuristic exposes the claim detector for callers deciding whether to
// schedule a fact-check pass.
func (c *Client) Heuristic() Heuristic { return c.heur }

// ContainsClaim reports whether content warrants fact-checking.
func (c *Client) ContainsClaim(content string) bool {
	return c.heur.ContainsClaim(content)
}

// Moderate classifies content. It never fails: on total upstream
// failure it degrades to the denylist heuristic.
func (c *Client) Moderate(ctx context.Context, content string) *models.ModerationResult {
	start := time.Now()
	defer func() { telemetry.AnalysisLatency.WithLabelValues("moderation").Observe(time.Since(start).Seconds()) }()

	var out models.ModerationResult
	err := c.postJSON(ctx, c.cfg.BaseURL+"/api/moderate", map[string]any{"content": content}, &out)
	if err == nil {
		out.Source = models.SourcePrimary
		telemetry.AnalysisRequests.WithLabelValues("moderation", "primary").Inc()
		return &out
	}
	logger.Warn("moderation_primary_failed", "error", err)
	telemetry.AnalysisTierFailures.WithLabelValues("moderation", "primary").Inc()

	out = models.ModerationResult{}
	err = c.postJSON(ctx, c.cfg.ModerationWebhookURL, map[string]any{
		"content":   content,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, &out)
	if err == nil {
		out.Source = models.SourceFallback
		telemetry.AnalysisRequests.WithLabelValues("moderation", "fallback").Inc()
		return &out
	}
	logger.Warn("moderation_fallback_failed", "error", err)
	telemetry.AnalysisTierFailures.WithLabelValues("moderation", "fallback").Inc()

	telemetry.AnalysisRequests.WithLabelValues("moderation", "heuristic").Inc()
	telemetry.DegradedResults.WithLabelValues("moderation").Inc()
	return c.heur.Moderate(content)
}

// FactCheck verifies a claim. Same tier contract as Moderate.
func (c *Client) FactCheck(ctx context.Context, claim string) *models.FactCheck {
	start := time.Now()
	defer func() { telemetry.AnalysisLatency.WithLabelValues("factcheck").Observe(time.Since(start).Seconds()) }()

	var out models.FactCheck
	err := c.postJSON(ctx, c.cfg.BaseURL+"/api/factcheck", map[string]any{"claim": claim}, &out)
	if err == nil {
		out.Source = models.SourcePrimary
		telemetry.AnalysisRequests.WithLabelValues("factcheck", "primary").Inc()
		return &out
	}
	logger.Warn("factcheck_primary_failed", "error", err)
	telemetry.AnalysisTierFailures.WithLabelValues("factcheck", "primary").Inc()

	out = models.FactCheck{}
	err = c.postJSON(ctx, c.cfg.FactCheckWebhookURL, map[string]any{
		"claim":     claim,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, &out)
	if err == nil {
		out.Source = models.SourceFallback
		telemetry.AnalysisRequests.WithLabelValues("factcheck", "fallback").Inc()
		return &out
	}
	logger.Warn("factcheck_fallback_failed", "error", err)
	telemetry.AnalysisTierFailures.WithLabelValues("factcheck", "fallback").Inc()

	telemetry.AnalysisRequests.WithLabelValues("factcheck", "heuristic").Inc()
	telemetry.DegradedResults.WithLabelValues("factcheck").Inc()
	return c.heur.FactCheck(claim)
}

// Summary is the shape returned by the summarize endpoint.
type Summary struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Participants    int      `json:"participants"`
	DurationMinutes int      `json:"duration_minutes"`
}

// Summarize asks the primary backend for a room summary. There is no
// fallback tier: a stale or partial summary is worse than an explicit
// failure, so errors propagate to the caller unmodified.
func (c *Client) Summarize(ctx context.Context, roomID string, msgs []models.Message) (*Summary, error) {
	var out Summary
	err := c.postJSON(ctx, c.cfg.BaseURL+"/api/summarize", map[string]any{
		"debate_id": roomID,
		"messages":  msgs,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the primary backend; 2xx means available. Used for
// proactive availability signaling, never for gating analysis calls.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	res, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// postJSON posts body to url and decodes the JSON response into out.
// Network failures become TransportError, non-2xx become UpstreamError.
func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return &TransportError{Endpoint: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Endpoint: url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return &UpstreamError{Endpoint: url, Status: res.StatusCode}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &TransportError{Endpoint: url, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// WSBaseURL derives the websocket base from an http(s) base URL.
func WSBaseURL(baseURL string) string {
	if strings.HasPrefix(baseURL, "https://") {
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://")
}
