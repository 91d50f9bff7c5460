// Package quality calls the external fingerprint quality analyzer.
package quality

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Enabled  bool
	URL      string
	APIKey   string
	MinScore float64
	Timeout  time.Duration
	// FailureThreshold consecutive failures open the circuit; SuccessThreshold
	// consecutive successes after Cooldown close it again.
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	HTTPClient       HTTPDoer
}

type Client struct {
	enabled  bool
	url      string
	apiKey   string
	minScore float64
	timeout  time.Duration
	http     HTTPDoer
	breaker  *breaker
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 10 * time.Second
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		enabled:  cfg.Enabled,
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		minScore: cfg.MinScore,
		timeout:  cfg.Timeout,
		http:     doer,
		breaker:  newBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown),
	}
}

func (c *Client) Enabled() bool {
	return c.enabled
}

type analyzeRequest struct {
	Image string `json:"image"`
}

type analyzeResponse struct {
	Quality *float64 `json:"quality"`
	Format  string   `json:"format"`
}

// Analyze scores a raw sample. A disabled client returns a zero result
// without any network call. With enforce set, a score under the configured
// minimum yields a low_quality error alongside the result. Every other
// failure is reported as quality_service_error.
func (c *Client) Analyze(ctx context.Context, sample []byte, enforce bool) (models.QualityResult, error) {
	if !c.enabled {
		return models.QualityResult{}, nil
	}
	if !c.breaker.allow() {
		return models.QualityResult{}, errs.New(errs.KindQualityServiceError, "quality service circuit is open")
	}

	correlationID := uuid.NewString()
	res, err := c.call(ctx, sample, correlationID)
	if err != nil {
		if c.breaker.recordFailure() {
			slog.Warn("quality service circuit opened", "url", c.url)
		}
		slog.Debug("quality service call failed", "correlation_id", correlationID, "error", err)
		return models.QualityResult{}, errs.Wrap(err, errs.KindQualityServiceError, "quality service unavailable")
	}
	if c.breaker.recordSuccess() {
		slog.Info("quality service circuit closed", "url", c.url)
	}

	if enforce && res.Score < c.minScore {
		return res, errs.New(errs.KindLowQuality,
			fmt.Sprintf("sample quality %.0f is below the minimum of %.0f", res.Score, c.minScore))
	}
	return res, nil
}

func (c *Client) call(ctx context.Context, sample []byte, correlationID string) (models.QualityResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(analyzeRequest{Image: base64.StdEncoding.EncodeToString(sample)})
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("call quality service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.QualityResult{}, fmt.Errorf("quality service returned status %d", resp.StatusCode)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return models.QualityResult{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Quality == nil {
		return models.QualityResult{}, fmt.Errorf("decode response: missing quality")
	}
	return models.QualityResult{Score: *parsed.Quality, Format: parsed.Format}, nil
}
