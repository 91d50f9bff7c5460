// Package enroll writes reference fingerprints into the relational backend:
// the raw image plus a template built from it, optionally held in object storage.
package enroll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/internal/storage"
	"github.com/your-org/fpv/internal/verify"
)

type Store interface {
	UpsertFingerprint(ctx context.Context, table string, fp storage.FingerprintRow) error
	MarkFingerprintMissing(ctx context.Context, table string, fp storage.FingerprintRow) error
}

type ObjectStore interface {
	PutSample(ctx context.Context, key string, data []byte, contentType string) error
}

type Templatizer interface {
	Templatize(img []byte) ([]byte, error)
	Version() string
	TemplateType() string
}

type QualityAnalyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, sample []byte, enforce bool) (models.QualityResult, error)
}

// Sample is one finger of one identity. A non-empty MissingCode records
// why no image exists and Image is ignored.
type Sample struct {
	IdentityID  string
	NationalID  string
	Position    models.Position
	Image       []byte
	MissingCode string
}

type Options struct {
	// Table receives the rows; empty means DefaultTable.
	Table              string
	AcceptedImageTypes []string
	// Pepper keys the national id hash stored for hashed filters.
	Pepper string
}

type Enroller struct {
	store   Store
	objects ObjectStore
	matcher Templatizer
	quality QualityAnalyzer
	opts    Options
}

// New returns an Enroller. objects and quality may be nil; with objects set,
// samples are uploaded and the table stores their keys.
func New(store Store, objects ObjectStore, m Templatizer, quality QualityAnalyzer, opts Options) *Enroller {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	return &Enroller{store: store, objects: objects, matcher: m, quality: quality, opts: opts}
}

func (e *Enroller) Enroll(ctx context.Context, s Sample) error {
	if !s.Position.Valid() {
		return fmt.Errorf("invalid position %d", s.Position.Code())
	}
	if s.IdentityID == "" {
		return fmt.Errorf("identity id is required")
	}

	row := storage.FingerprintRow{
		IdentityID: s.IdentityID,
		NationalID: s.NationalID,
		Position:   s.Position.Code(),
		Kind:       models.SampleKindImage,
	}
	if s.NationalID != "" {
		row.NationalIDHash = backend.PepperHash(s.NationalID, e.opts.Pepper)
	}

	if s.MissingCode != "" {
		row.MissingCode = s.MissingCode
		if err := e.store.MarkFingerprintMissing(ctx, e.opts.Table, row); err != nil {
			return err
		}
		slog.Info("fingerprint marked missing", "identity", s.IdentityID, "position", s.Position.String(), "code", s.MissingCode)
		return nil
	}

	mime := verify.DetectMediaType(s.Image)
	if !e.acceptable(mime) {
		return fmt.Errorf("unsupported image type %s", mime)
	}

	tmpl, err := e.matcher.Templatize(s.Image)
	if err != nil {
		return fmt.Errorf("build template: %w", err)
	}

	var score *float64
	if e.quality != nil && e.quality.Enabled() {
		res, err := e.quality.Analyze(ctx, s.Image, false)
		if err != nil {
			slog.Warn("quality analysis failed, enrolling without score", "identity", s.IdentityID, "position", s.Position.Code(), "error", err)
		} else {
			score = &res.Score
		}
	}

	imgSample, err := e.put(ctx, s, models.SampleKindImage, s.Image, mime)
	if err != nil {
		return err
	}
	row.Sample = imgSample
	row.Quality = score
	if err := e.store.UpsertFingerprint(ctx, e.opts.Table, row); err != nil {
		return err
	}

	tmplSample, err := e.put(ctx, s, models.SampleKindTemplate, tmpl, "application/json")
	if err != nil {
		return err
	}
	version, typ := e.matcher.Version(), e.matcher.TemplateType()
	row.Kind = models.SampleKindTemplate
	row.Sample = tmplSample
	row.TemplateVersion = &version
	row.TemplateType = &typ
	if err := e.store.UpsertFingerprint(ctx, e.opts.Table, row); err != nil {
		return err
	}

	slog.Info("fingerprint enrolled", "identity", s.IdentityID, "position", s.Position.String(), "quality", score)
	return nil
}

// put returns what the sample column should hold: the bytes themselves,
// or the object key after uploading them.
func (e *Enroller) put(ctx context.Context, s Sample, kind models.SampleKind, data []byte, contentType string) ([]byte, error) {
	if e.objects == nil {
		return data, nil
	}
	key := ObjectKey(s.IdentityID, s.Position, kind)
	if err := e.objects.PutSample(ctx, key, data, contentType); err != nil {
		return nil, err
	}
	return []byte(key), nil
}

func (e *Enroller) acceptable(mime string) bool {
	for _, a := range e.opts.AcceptedImageTypes {
		if a == mime {
			return true
		}
	}
	return false
}

func ObjectKey(identityID string, pos models.Position, kind models.SampleKind) string {
	return fmt.Sprintf("samples/%s/%02d/%s", identityID, pos.Code(), kind)
}
