// Package verify runs the verification pipeline: media check, query
// validation, replay recording, candidate fetch, matching with a single
// image-only fallback, and the quality gate on a non-match.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/internal/observability"
	"github.com/your-org/fpv/internal/replay"
)

type Registry interface {
	ValidateQuery(req models.VerificationRequest) (*backend.Backend, error)
	ValidateLookup(name string, filters map[string]string) (*backend.Backend, error)
}

type Matcher interface {
	Version() string
	TemplateType() string
	Match(ctx context.Context, probe []byte, kind models.SampleKind, pos models.Position, candidates []models.Candidate) ([]models.ScoredCandidate, error)
}

type QualityGate interface {
	Analyze(ctx context.Context, sample []byte, enforce bool) (models.QualityResult, error)
}

type ReplayRecorder interface {
	Record(ctx context.Context, sample []byte) *models.ReplayRecord
}

type EventPublisher interface {
	PublishVerificationEvent(ctx context.Context, ev *models.VerificationEvent) error
}

type Options struct {
	AcceptedImageTypes []string
	// QualityTimeout bounds the quality gate call after a non-match.
	QualityTimeout time.Duration
	// ReplayTimeout bounds the detached replay ledger write.
	ReplayTimeout time.Duration
}

type Engine struct {
	registry Registry
	matcher  Matcher
	quality  QualityGate
	replay   ReplayRecorder
	events   EventPublisher
	opts     Options

	wg sync.WaitGroup
}

// NewEngine wires the pipeline. replay and events may be nil.
func NewEngine(registry Registry, m Matcher, quality QualityGate, rec ReplayRecorder, events EventPublisher, opts Options) *Engine {
	if opts.QualityTimeout <= 0 {
		opts.QualityTimeout = 5 * time.Second
	}
	if opts.ReplayTimeout <= 0 {
		opts.ReplayTimeout = 2 * time.Second
	}
	return &Engine{
		registry: registry,
		matcher:  m,
		quality:  quality,
		replay:   rec,
		events:   events,
		opts:     opts,
	}
}

// Close waits for detached replay writes.
func (e *Engine) Close() {
	e.wg.Wait()
}

// Verify authenticates the probe in req against the selected backend.
func (e *Engine) Verify(ctx context.Context, req models.VerificationRequest) (*models.Decision, error) {
	start := time.Now()
	dec, err := e.verify(ctx, req)
	e.report(ctx, req, dec, err, start)
	return dec, err
}

func (e *Engine) verify(ctx context.Context, req models.VerificationRequest) (*models.Decision, error) {
	if err := checkMediaType(req.Sample, req.Kind, e.opts.AcceptedImageTypes); err != nil {
		return nil, err
	}

	b, err := e.registry.ValidateQuery(req)
	if err != nil {
		return nil, err
	}

	e.recordReplay(ctx, req)

	scored, err := e.fetchAndMatch(ctx, b, req, []models.SampleKind{models.SampleKindTemplate, models.SampleKindImage})
	if errs.Has(err, errs.KindTemplateVersionMismatch) {
		observability.TemplateFallbacks.WithLabelValues(req.Backend).Inc()
		slog.Warn("stored templates incompatible, retrying with images",
			"backend", req.Backend, "position", req.Position.String(), "error", err)
		scored, err = e.fetchAndMatch(ctx, b, req, []models.SampleKind{models.SampleKindImage})
	}
	if err != nil {
		return nil, err
	}

	if len(scored) == 0 {
		return nil, e.qualityGate(ctx, req)
	}

	best := scored[len(scored)-1]
	return &models.Decision{
		Matched:     true,
		CandidateID: best.Candidate.ID,
		NationalID:  best.Candidate.NationalID,
		Score:       best.Score,
		Backend:     req.Backend,
		Position:    req.Position,
		Kind:        req.Kind,
	}, nil
}

func (e *Engine) fetchAndMatch(ctx context.Context, b *backend.Backend, req models.VerificationRequest, kinds []models.SampleKind) ([]models.ScoredCandidate, error) {
	q := backend.Query{
		Filters:         req.Filters,
		CandidateIDs:    req.CandidateIDs,
		Position:        req.Position,
		Kinds:           kinds,
		TemplateVersion: e.matcher.Version(),
		TemplateType:    e.matcher.TemplateType(),
	}

	fetchStart := time.Now()
	candidates, err := b.Driver.Fetch(ctx, b.Definition, q)
	observability.StageDuration.WithLabelValues("fetch").Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.Wrap(err, errs.KindInternal, fmt.Sprintf("fetch candidates from %s: %v", req.Backend, err))
	}
	observability.CandidatesFetched.WithLabelValues(req.Backend).Observe(float64(len(candidates)))

	if len(candidates) == 0 {
		return nil, errs.New(errs.KindNoCandidateFound, "no candidate found for the supplied filters")
	}

	usable := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := c.Sample(req.Position); ok {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, missingSample(candidates[0].MissingReason, req.Position)
	}

	matchStart := time.Now()
	scored, err := e.matcher.Match(ctx, req.Sample, req.Kind, req.Position, usable)
	observability.StageDuration.WithLabelValues("match").Observe(time.Since(matchStart).Seconds())
	if err != nil {
		return nil, err
	}
	return scored, nil
}

func missingSample(reason models.MissingReason, pos models.Position) error {
	kind := errs.KindMissingSampleNotCaptured
	switch reason {
	case models.MissingAmputation:
		kind = errs.KindMissingSampleAmputation
	case models.MissingUnableToPrint:
		kind = errs.KindMissingSampleUnableToPrint
	}
	return errs.New(kind, fmt.Sprintf("no sample enrolled for %s", pos.String()))
}

// qualityGate explains a non-match. Only a low quality verdict surfaces;
// every other outcome is reported as no_match.
func (e *Engine) qualityGate(ctx context.Context, req models.VerificationRequest) error {
	qctx, cancel := context.WithTimeout(ctx, e.opts.QualityTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.quality.Analyze(qctx, req.Sample, true)
	observability.StageDuration.WithLabelValues("quality").Observe(time.Since(start).Seconds())

	noMatch := errs.New(errs.KindNoMatch, "no candidate matched the sample")
	switch {
	case errs.Has(err, errs.KindLowQuality):
		observability.QualityGateResults.WithLabelValues("low_quality").Inc()
		return err
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		result := "unavailable"
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
		observability.QualityGateResults.WithLabelValues(result).Inc()
		slog.Info("no match, quality gate inconclusive", "backend", req.Backend, "result", result, "error", err)
		return noMatch
	default:
		observability.QualityGateResults.WithLabelValues("passed").Inc()
		slog.Info("no match, sample quality acceptable", "backend", req.Backend, "quality", res.Score, "format", res.Format)
		return noMatch
	}
}

// recordReplay writes the ledger entry detached from the request so a slow
// ledger never delays the decision.
func (e *Engine) recordReplay(ctx context.Context, req models.VerificationRequest) {
	if e.replay == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ReplayTimeout)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		rec := e.replay.Record(rctx, req.Sample)
		if !rec.Replayed() {
			return
		}
		e.publish(rctx, &models.VerificationEvent{
			ID:         uuid.New(),
			Type:       models.EventTypeReplay,
			Backend:    req.Backend,
			Position:   req.Position.Code(),
			SampleKind: string(req.Kind),
			Outcome:    "replayed",
			ProbeHash:  rec.Hash,
			SeenCount:  rec.SeenCount,
			Timestamp:  rec.LastSeen,
		})
	}()
}

func (e *Engine) report(ctx context.Context, req models.VerificationRequest, dec *models.Decision, err error, start time.Time) {
	if ctx.Err() != nil {
		slog.Debug("verification abandoned", "backend", req.Backend, "error", ctx.Err())
		return
	}

	label := req.Backend
	if errs.Has(err, errs.KindUnknownBackend) {
		label = "unknown"
	}

	outcome := "matched"
	ev := &models.VerificationEvent{
		ID:         uuid.New(),
		Type:       models.EventTypeDecided,
		Backend:    req.Backend,
		Position:   req.Position.Code(),
		SampleKind: string(req.Kind),
		ProbeHash:  replay.Hash(req.Sample),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		outcome = string(errs.KindOf(err))
	} else {
		ev.CandidateID = dec.CandidateID
		ev.Score = dec.Score
	}
	ev.Outcome = outcome

	observability.Verifications.WithLabelValues(label, outcome).Inc()
	observability.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if errs.KindOf(err) == errs.KindInternal {
		slog.Error("verification failed", "backend", req.Backend, "error", err)
	} else {
		slog.Info("verification decided", "backend", req.Backend, "outcome", outcome,
			"candidate_id", ev.CandidateID, "score", ev.Score)
	}

	if label != "unknown" {
		e.publish(ctx, ev)
	}
}

func (e *Engine) publish(ctx context.Context, ev *models.VerificationEvent) {
	if e.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := e.events.PublishVerificationEvent(pctx, ev); err != nil {
		slog.Warn("publish verification event", "type", ev.Type, "error", err)
	}
}

// Positions lists the enrolled positions of the identity selected by filters.
func (e *Engine) Positions(ctx context.Context, name string, filters map[string]string) ([]models.Position, error) {
	b, err := e.registry.ValidateLookup(name, filters)
	if err != nil {
		return nil, err
	}
	positions, err := b.Driver.Positions(ctx, b.Definition, filters)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, fmt.Sprintf("look up positions on %s: %v", name, err))
	}
	return positions, nil
}
