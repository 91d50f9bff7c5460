// Package matcher builds minutiae templates from fingerprint samples and
// scores a probe against enrolled candidates.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

type Options struct {
	// Threshold is the minimum score a candidate needs to be retained.
	Threshold float64
	// Workers bounds concurrent candidate scoring.
	Workers int
	// Limits bounds the size of submitted and enrolled images.
	Limits Limits
}

type Matcher struct {
	threshold float64
	workers   int
	limits    Limits
}

func New(opts Options) *Matcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Matcher{threshold: opts.Threshold, workers: workers, limits: opts.Limits.withDefaults()}
}

func (m *Matcher) Version() string      { return Version }
func (m *Matcher) TemplateType() string { return TemplateType }

// Templatize extracts a native template from an encoded image.
func (m *Matcher) Templatize(img []byte) ([]byte, error) {
	t, err := extract(img, m.limits)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidImageFormat, err.Error())
	}
	return t.Encode()
}

// Match scores probe against every candidate holding a sample for pos and
// returns those at or above the threshold in ascending score order.
// The probe and candidates are never modified.
func (m *Matcher) Match(ctx context.Context, probe []byte, kind models.SampleKind, pos models.Position, candidates []models.Candidate) ([]models.ScoredCandidate, error) {
	pt, err := probeTemplate(probe, kind, m.limits)
	if err != nil {
		return nil, err
	}

	// one slot per candidate, written only by the worker that owns it
	scores := make([]float64, len(candidates))
	scored := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range candidates {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ct, err := candidateTemplate(&candidates[i], pos, m.limits)
			if err != nil || ct == nil {
				return err
			}
			scores[i] = compare(pt.Minutiae, ct.Minutiae)
			scored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.ScoredCandidate
	for i := range candidates {
		if scored[i] && scores[i] >= m.threshold {
			out = append(out, models.ScoredCandidate{Candidate: &candidates[i], Score: scores[i]})
		}
	}
	sortScored(out)
	return out, nil
}

func probeTemplate(sample []byte, kind models.SampleKind, lim Limits) (*Template, error) {
	switch kind {
	case models.SampleKindImage:
		t, err := extract(sample, lim)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindInvalidImageFormat, fmt.Sprintf("probe image: %v", err))
		}
		return t, nil
	case models.SampleKindTemplate:
		t, err := decodeTemplate(sample)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindInvalidImageFormat, fmt.Sprintf("probe template: %v", err))
		}
		return t, nil
	default:
		return nil, errs.New(errs.KindInvalidImageFormat, fmt.Sprintf("unknown sample kind %q", kind))
	}
}

// candidateTemplate returns nil without error when the candidate cannot be scored.
func candidateTemplate(c *models.Candidate, pos models.Position, lim Limits) (*Template, error) {
	sample, ok := c.Sample(pos)
	if !ok {
		return nil, nil
	}

	if c.Kind != models.SampleKindTemplate {
		t, err := extract(sample, lim)
		if err != nil {
			slog.Warn("skipping candidate with undecodable image", "candidate_id", c.ID, "error", err)
			return nil, nil
		}
		return t, nil
	}

	if c.TemplateVersion == nil {
		slog.Warn("candidate template has no version", "candidate_id", c.ID)
	} else if *c.TemplateVersion != Version {
		return nil, errs.New(errs.KindTemplateVersionMismatch,
			fmt.Sprintf("candidate %s holds template version %s, expected %s", c.ID, *c.TemplateVersion, Version))
	}

	t, err := decodeTemplate(sample)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindTemplateVersionMismatch, fmt.Sprintf("candidate %s: %v", c.ID, err))
	}
	return t, nil
}
