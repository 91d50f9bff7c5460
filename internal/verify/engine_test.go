package verify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/matcher"
	"github.com/your-org/fpv/internal/models"
)

const definitionsYAML = `
backends:
  - name: national
    driver: fake
    positions: [1, 2, 6, 7]
    filters:
      nationalId: {unique: true, hashed: true}
      dids: {operator: in, list: true}
      name: {operator: fuzzy}
`

type fakeDriver struct {
	mu        sync.Mutex
	queries   []backend.Query
	fetch     func(q backend.Query) ([]models.Candidate, error)
	positions func(filters map[string]string) ([]models.Position, error)
}

func (d *fakeDriver) Validate(context.Context, *backend.Definition) error { return nil }

func (d *fakeDriver) Fetch(_ context.Context, _ *backend.Definition, q backend.Query) ([]models.Candidate, error) {
	d.mu.Lock()
	d.queries = append(d.queries, q)
	d.mu.Unlock()
	return d.fetch(q)
}

func (d *fakeDriver) Positions(_ context.Context, _ *backend.Definition, filters map[string]string) ([]models.Position, error) {
	return d.positions(filters)
}

type fakeMatcher struct {
	calls int
	match func(call int, candidates []models.Candidate) ([]models.ScoredCandidate, error)
}

func (m *fakeMatcher) Version() string      { return "1.0.0" }
func (m *fakeMatcher) TemplateType() string { return "fpv-minutiae" }

func (m *fakeMatcher) Match(_ context.Context, _ []byte, _ models.SampleKind, _ models.Position, candidates []models.Candidate) ([]models.ScoredCandidate, error) {
	m.calls++
	return m.match(m.calls, candidates)
}

type fakeQuality struct {
	calls   int
	analyze func(ctx context.Context) (models.QualityResult, error)
}

func (q *fakeQuality) Analyze(ctx context.Context, _ []byte, enforce bool) (models.QualityResult, error) {
	q.calls++
	if !enforce {
		return models.QualityResult{}, errors.New("gate must be enforced")
	}
	return q.analyze(ctx)
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples [][]byte
	record  *models.ReplayRecord
}

func (r *fakeRecorder) Record(_ context.Context, sample []byte) *models.ReplayRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	return r.record
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.VerificationEvent
}

func (p *fakePublisher) PublishVerificationEvent(_ context.Context, ev *models.VerificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *fakePublisher) byType(t models.EventType) []models.VerificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.VerificationEvent
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	driver    *fakeDriver
	matcher   *fakeMatcher
	quality   *fakeQuality
	recorder  *fakeRecorder
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		driver:    &fakeDriver{},
		matcher:   &fakeMatcher{},
		quality:   &fakeQuality{analyze: func(context.Context) (models.QualityResult, error) { return models.QualityResult{Score: 90}, nil }},
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
	}

	raws, err := backend.ParseDefinitions([]byte(definitionsYAML))
	require.NoError(t, err)
	reg := backend.NewRegistry(map[string]backend.DriverFactory{
		"fake": func(*backend.Definition) (backend.Driver, error) { return h.driver, nil },
	}, backend.Options{CandidateListFilter: "dids", MaxCandidateIDs: 3})
	require.NoError(t, reg.Load(context.Background(), raws))

	h.engine = NewEngine(reg, h.matcher, h.quality, h.recorder, h.publisher, Options{
		AcceptedImageTypes: []string{"image/png", "image/jpeg", "image/bmp"},
		QualityTimeout:     50 * time.Millisecond,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func pngSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))))
	return buf.Bytes()
}

func imageRequest(t *testing.T) models.VerificationRequest {
	return models.VerificationRequest{
		Backend:  "national",
		Sample:   pngSample(t),
		Kind:     models.SampleKindImage,
		Position: models.RightThumb,
		Filters:  map[string]string{"nationalId": "123456789"},
	}
}

func withSample(id string, score float64) (models.Candidate, models.ScoredCandidate) {
	c := models.Candidate{
		ID:         id,
		NationalID: "nid-" + id,
		Kind:       models.SampleKindImage,
		Samples:    map[models.Position][]byte{models.RightThumb: []byte("enrolled")},
	}
	return c, models.ScoredCandidate{Candidate: &c, Score: score}
}

func TestVerifyReturnsBestCandidate(t *testing.T) {
	h := newHarness(t)
	c1, s1 := withSample("c1", 85)
	c2, s2 := withSample("c2", 92)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return []models.Candidate{c1, c2}, nil }
	h.matcher.match = func(int, []models.Candidate) ([]models.ScoredCandidate, error) {
		return []models.ScoredCandidate{s1, s2}, nil
	}

	dec, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.NoError(t, err)

	assert.True(t, dec.Matched)
	assert.Equal(t, "c2", dec.CandidateID)
	assert.Equal(t, "nid-c2", dec.NationalID)
	assert.Equal(t, 92.0, dec.Score)
	assert.Zero(t, h.quality.calls)

	q := h.driver.queries[0]
	assert.Equal(t, []models.SampleKind{models.SampleKindTemplate, models.SampleKindImage}, q.Kinds)
	assert.Equal(t, "1.0.0", q.TemplateVersion)
	assert.Equal(t, "fpv-minutiae", q.TemplateType)

	decided := h.publisher.byType(models.EventTypeDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, "matched", decided[0].Outcome)
	assert.Equal(t, "c2", decided[0].CandidateID)
}

func TestVerifyRejectsUnsupportedMedia(t *testing.T) {
	h := newHarness(t)
	req := imageRequest(t)
	req.Sample = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

	_, err := h.engine.Verify(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindInvalidImageFormat))
	assert.Empty(t, h.driver.queries)
	assert.Empty(t, h.recorder.samples)
}

func TestVerifyTemplateMustBeText(t *testing.T) {
	h := newHarness(t)
	req := imageRequest(t)
	req.Kind = models.SampleKindTemplate

	_, err := h.engine.Verify(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindInvalidImageFormat))
}

func TestMediaTypeNormalizesRawFrames(t *testing.T) {
	frame := matcher.EncodeRawFrame(image.NewGray(image.Rect(0, 0, 16, 16)))

	assert.Equal(t, "image/bmp", DetectMediaType(frame))
	assert.NoError(t, checkMediaType(frame, models.SampleKindImage, []string{"image/bmp"}))
	assert.Error(t, checkMediaType(frame, models.SampleKindImage, []string{"image/png"}))
	assert.NoError(t, checkMediaType([]byte(`{"version":"1.0.0"}`), models.SampleKindTemplate, nil))
}

func TestVerifyValidationShortCircuits(t *testing.T) {
	h := newHarness(t)
	req := imageRequest(t)
	req.Backend = "nowhere"

	_, err := h.engine.Verify(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindUnknownBackend))

	req = imageRequest(t)
	req.Filters = map[string]string{"dids": "d1,d2,d3,d4"}
	_, err = h.engine.Verify(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindInvalidFilter))

	assert.Empty(t, h.driver.queries)
	assert.Empty(t, h.recorder.samples)
}

func TestVerifyEmptySample(t *testing.T) {
	empty := ""
	cases := []struct {
		name    string
		backend string
		kind    models.SampleKind
		want    errs.Kind
	}{
		{"image on known backend", "national", models.SampleKindImage, errs.KindInvalidImageFormat},
		{"image on unknown backend", "nowhere", models.SampleKindImage, errs.KindInvalidImageFormat},
		{"template on known backend", "national", models.SampleKindTemplate, errs.KindInvalidFilter},
		{"template on unknown backend", "nowhere", models.SampleKindTemplate, errs.KindUnknownBackend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			req := imageRequest(t)
			req.Backend = tc.backend
			req.Kind = tc.kind
			req.Sample = nil
			req.InlineSample = &empty

			_, err := h.engine.Verify(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.want, errs.KindOf(err))
			assert.Empty(t, h.driver.queries)
		})
	}
}

func TestVerifyNoCandidateFound(t *testing.T) {
	h := newHarness(t)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return nil, nil }

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindNoCandidateFound))
}

func TestVerifyMissingSampleCarriesReason(t *testing.T) {
	h := newHarness(t)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) {
		return []models.Candidate{{ID: "c1", Samples: map[models.Position][]byte{}, MissingReason: models.MissingAmputation}}, nil
	}

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindMissingSampleAmputation))
	assert.True(t, errs.IsMissingSample(err))
	assert.Zero(t, h.matcher.calls)
}

func TestVerifyFallsBackToImages(t *testing.T) {
	h := newHarness(t)
	c1, s1 := withSample("c1", 77)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return []models.Candidate{c1}, nil }
	h.matcher.match = func(call int, _ []models.Candidate) ([]models.ScoredCandidate, error) {
		if call == 1 {
			return nil, errs.New(errs.KindTemplateVersionMismatch, "candidate c1 holds template version 0.9.0")
		}
		return []models.ScoredCandidate{s1}, nil
	}

	dec, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "c1", dec.CandidateID)

	require.Len(t, h.driver.queries, 2)
	assert.Equal(t, []models.SampleKind{models.SampleKindImage}, h.driver.queries[1].Kinds)
}

func TestVerifyFallbackRunsOnce(t *testing.T) {
	h := newHarness(t)
	c1, _ := withSample("c1", 0)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return []models.Candidate{c1}, nil }
	h.matcher.match = func(int, []models.Candidate) ([]models.ScoredCandidate, error) {
		return nil, errs.New(errs.KindTemplateVersionMismatch, "mismatch")
	}

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindTemplateVersionMismatch))
	assert.Equal(t, 2, h.matcher.calls)
}

func TestVerifyDriverFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return nil, errors.New("connection reset") }

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
}

func noMatchHarness(t *testing.T) *harness {
	h := newHarness(t)
	c1, _ := withSample("c1", 0)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return []models.Candidate{c1}, nil }
	h.matcher.match = func(int, []models.Candidate) ([]models.ScoredCandidate, error) { return nil, nil }
	return h
}

func TestVerifyLowQualitySurfaces(t *testing.T) {
	h := noMatchHarness(t)
	h.quality.analyze = func(context.Context) (models.QualityResult, error) {
		return models.QualityResult{Score: 5}, errs.New(errs.KindLowQuality, "sample quality 5 is below the minimum of 40")
	}

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindLowQuality))
}

func TestVerifyQualityTimeoutIsNoMatch(t *testing.T) {
	h := noMatchHarness(t)
	h.quality.analyze = func(ctx context.Context) (models.QualityResult, error) {
		<-ctx.Done()
		return models.QualityResult{}, errs.Wrap(ctx.Err(), errs.KindQualityServiceError, "quality service unavailable")
	}

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindNoMatch))
	assert.False(t, errs.Has(err, errs.KindQualityServiceError))
}

func TestVerifyAcceptableQualityIsNoMatch(t *testing.T) {
	h := noMatchHarness(t)

	_, err := h.engine.Verify(context.Background(), imageRequest(t))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindNoMatch))
	assert.Equal(t, 1, h.quality.calls)

	decided := h.publisher.byType(models.EventTypeDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, string(errs.KindNoMatch), decided[0].Outcome)
}

func TestVerifyRecordsReplayDetached(t *testing.T) {
	h := newHarness(t)
	h.recorder.record = &models.ReplayRecord{Hash: "abc", SeenCount: 3, LastSeen: time.Now()}
	c1, s1 := withSample("c1", 88)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) { return []models.Candidate{c1}, nil }
	h.matcher.match = func(int, []models.Candidate) ([]models.ScoredCandidate, error) {
		return []models.ScoredCandidate{s1}, nil
	}

	req := imageRequest(t)
	_, err := h.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	h.engine.Close()

	require.Len(t, h.recorder.samples, 1)
	assert.Equal(t, req.Sample, h.recorder.samples[0])

	replays := h.publisher.byType(models.EventTypeReplay)
	require.Len(t, replays, 1)
	assert.Equal(t, int64(3), replays[0].SeenCount)
}

func TestVerifyCancelledPublishesNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	c1, _ := withSample("c1", 0)
	h.driver.fetch = func(backend.Query) ([]models.Candidate, error) {
		cancel()
		return []models.Candidate{c1}, nil
	}
	h.matcher.match = func(int, []models.Candidate) ([]models.ScoredCandidate, error) {
		return nil, context.Canceled
	}

	_, err := h.engine.Verify(ctx, imageRequest(t))
	require.Error(t, err)
	assert.Empty(t, h.publisher.byType(models.EventTypeDecided))
}

func TestPositionsDelegatesToDriver(t *testing.T) {
	h := newHarness(t)
	h.driver.positions = func(filters map[string]string) ([]models.Position, error) {
		return []models.Position{models.LeftIndex, models.RightThumb}, nil
	}

	got, err := h.engine.Positions(context.Background(), "national", map[string]string{"nationalId": "1"})
	require.NoError(t, err)
	assert.Equal(t, []models.Position{models.LeftIndex, models.RightThumb}, got)

	_, err = h.engine.Positions(context.Background(), "national", map[string]string{"passport": "x"})
	assert.True(t, errs.Has(err, errs.KindInvalidFilter))

	h.driver.positions = func(map[string]string) ([]models.Position, error) {
		return nil, errs.New(errs.KindUnsupportedBackendOperation, "fuzzy filter name cannot be used to look up positions")
	}
	_, err = h.engine.Positions(context.Background(), "national", map[string]string{"name": "Jane"})
	assert.True(t, errs.Has(err, errs.KindUnsupportedBackendOperation))
}
