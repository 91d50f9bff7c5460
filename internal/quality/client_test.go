package quality

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fpv/internal/errs"
)

type analyzer struct {
	mu      sync.Mutex
	hits    atomic.Int32
	status  int
	body    string
	delay   time.Duration
	lastReq analyzeRequest
	lastHdr http.Header
}

func (a *analyzer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.hits.Add(1)
	var req analyzeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	a.lastHdr = r.Header.Clone()
	a.lastReq = req
	status, body, delay := a.status, a.body, a.delay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = w.Write([]byte(body))
}

func (a *analyzer) respond(status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status, a.body = status, body
}

func (a *analyzer) last() (analyzeRequest, http.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReq, a.lastHdr
}

func newTestClient(t *testing.T, a *analyzer, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)

	cfg := Config{
		Enabled:          true,
		URL:              srv.URL + "/analyze",
		APIKey:           "secret",
		MinScore:         40,
		Timeout:          time.Second,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg)
}

func TestAnalyzeDisabledMakesNoCall(t *testing.T) {
	a := &analyzer{body: `{"quality": 80}`}
	c := newTestClient(t, a, func(cfg *Config) { cfg.Enabled = false })

	res, err := c.Analyze(context.Background(), []byte("img"), true)
	require.NoError(t, err)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Format)
	assert.Zero(t, a.hits.Load())
}

func TestAnalyzeReturnsScore(t *testing.T) {
	a := &analyzer{body: `{"quality": 72.5, "format": "WSQ"}`}
	c := newTestClient(t, a, nil)

	res, err := c.Analyze(context.Background(), []byte("img"), true)
	require.NoError(t, err)
	assert.Equal(t, 72.5, res.Score)
	assert.Equal(t, "WSQ", res.Format)

	req, hdr := a.last()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), req.Image)
	assert.NotEmpty(t, hdr.Get("X-Correlation-ID"))
	assert.Equal(t, "secret", hdr.Get("X-API-Key"))
}

func TestAnalyzeEnforcesMinimum(t *testing.T) {
	a := &analyzer{body: `{"quality": 5}`}
	c := newTestClient(t, a, nil)

	res, err := c.Analyze(context.Background(), []byte("img"), true)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindLowQuality))
	assert.Equal(t, 5.0, res.Score)

	_, err = c.Analyze(context.Background(), []byte("img"), false)
	assert.NoError(t, err)
}

func TestAnalyzeNormalizesFailures(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *analyzer
	}{
		{"server error", &analyzer{status: http.StatusInternalServerError, body: `{"quality": 90}`}},
		{"garbage body", &analyzer{body: `not json`}},
		{"missing score", &analyzer{body: `{"format": "PNG"}`}},
		{"timeout", &analyzer{delay: 500 * time.Millisecond, body: `{"quality": 90}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.analyzer, func(cfg *Config) { cfg.Timeout = 100 * time.Millisecond })

			_, err := c.Analyze(context.Background(), []byte("img"), true)
			require.Error(t, err)
			assert.True(t, errs.Has(err, errs.KindQualityServiceError))
		})
	}
}

func TestAnalyzeCircuitOpensAndRecovers(t *testing.T) {
	a := &analyzer{status: http.StatusBadGateway}
	c := newTestClient(t, a, nil)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.breaker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), []byte("img"), true)
		require.Error(t, err)
	}
	assert.True(t, c.breaker.isOpen())

	_, err := c.Analyze(context.Background(), []byte("img"), true)
	assert.True(t, errs.Has(err, errs.KindQualityServiceError))
	assert.Equal(t, int32(2), a.hits.Load())

	now = now.Add(2 * time.Minute)
	a.respond(http.StatusOK, `{"quality": 60}`)

	res, err := c.Analyze(context.Background(), []byte("img"), true)
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.Score)
	assert.False(t, c.breaker.isOpen())
}
