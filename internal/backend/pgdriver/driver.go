// Package pgdriver implements the relational backend driver on PostgreSQL.
//
// Each backend definition names a table holding one row per enrolled
// (identity, position, kind) sample. Samples are stored inline as bytea or,
// with sample_store=object, as object keys resolved through an ObjectFetcher.
package pgdriver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

// Name is the driver name used in backend definitions.
const Name = "postgres"

// Values of the sample_store param. Inline tables hold sample bytes, object
// tables hold object storage keys.
const (
	StoreInline = "inline"
	StoreObject = "object"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ObjectFetcher resolves externally stored samples.
type ObjectFetcher interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type Options struct {
	Pepper         string
	FetchLimit     int
	FuzzyThreshold float64
}

type Driver struct {
	db      Querier
	objects ObjectFetcher
	opts    Options
	store   string
}

// Factory returns a backend.DriverFactory bound to db. objects may be nil
// when no backend stores samples externally.
func Factory(db Querier, objects ObjectFetcher, opts Options) backend.DriverFactory {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	return func(def *backend.Definition) (backend.Driver, error) {
		store := def.Param("sample_store", StoreInline)
		if store != StoreInline && store != StoreObject {
			return nil, fmt.Errorf("unknown sample_store %q", store)
		}
		if store == StoreObject && objects == nil {
			return nil, fmt.Errorf("sample_store %q requires object storage", store)
		}
		return &Driver{db: db, objects: objects, opts: opts, store: store}, nil
	}
}

// Validate checks that the table and every mapped column exist.
func (d *Driver) Validate(ctx context.Context, def *backend.Definition) error {
	c := columnsFor(def)
	if c.table == "" {
		return errs.New(errs.KindConfiguration, "postgres driver requires the table param")
	}

	rows, err := d.db.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		c.table)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", c.table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect table %s: %w", c.table, err)
	}
	if len(present) == 0 {
		return errs.New(errs.KindConfiguration, fmt.Sprintf("table %s does not exist", c.table))
	}

	required := c.all()
	for _, f := range def.Filters {
		required = append(required, f.Column)
	}
	var missing []string
	seen := make(map[string]bool)
	for _, col := range required {
		if !present[col] && !seen[col] {
			missing = append(missing, col)
			seen[col] = true
		}
	}
	if len(missing) > 0 {
		return errs.New(errs.KindConfiguration,
			fmt.Sprintf("table %s has no columns: %s", c.table, strings.Join(missing, ", ")))
	}
	return nil
}

type sampleRow struct {
	ID              string
	NationalID      *string
	Kind            string
	Sample          []byte
	MissingCode     *string
	TemplateVersion *string
}

// Fetch returns at most one candidate per identity. Identities without a
// usable sample are returned with their missing reason set.
func (d *Driver) Fetch(ctx context.Context, def *backend.Definition, q backend.Query) ([]models.Candidate, error) {
	sql, args := buildFetch(def, q, d.opts)

	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var fetched []sampleRow
	for rows.Next() {
		var r sampleRow
		if err := rows.Scan(&r.ID, &r.NationalID, &r.Kind, &r.Sample, &r.MissingCode, &r.TemplateVersion); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		fetched = append(fetched, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return d.collect(ctx, q.Position, fetched)
}

func (d *Driver) collect(ctx context.Context, pos models.Position, fetched []sampleRow) ([]models.Candidate, error) {
	var order []string
	byID := make(map[string]*models.Candidate)

	for _, r := range fetched {
		existing, seen := byID[r.ID]
		if !seen {
			order = append(order, r.ID)
		}

		if len(r.Sample) == 0 {
			if !seen {
				byID[r.ID] = &models.Candidate{
					ID:            r.ID,
					NationalID:    deref(r.NationalID),
					Samples:       map[models.Position][]byte{},
					Kind:          models.SampleKind(r.Kind),
					MissingReason: models.ParseMissingCode(deref(r.MissingCode)),
				}
			}
			continue
		}

		if seen {
			if _, ok := existing.Sample(pos); ok {
				// keep a template over an image for the same identity
				if existing.Kind == models.SampleKindTemplate || r.Kind != string(models.SampleKindTemplate) {
					continue
				}
			}
		}

		sample, err := d.resolve(ctx, r.Sample)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = &models.Candidate{
			ID:              r.ID,
			NationalID:      deref(r.NationalID),
			Samples:         map[models.Position][]byte{pos: sample},
			Kind:            models.SampleKind(r.Kind),
			TemplateVersion: r.TemplateVersion,
		}
	}

	out := make([]models.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (d *Driver) resolve(ctx context.Context, stored []byte) ([]byte, error) {
	if d.store != StoreObject {
		return stored, nil
	}
	key := string(stored)
	data, err := d.objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch sample %s: %w", key, err)
	}
	return data, nil
}

// Positions lists positions holding a usable sample for the identity
// selected by filters, best quality first.
func (d *Driver) Positions(ctx context.Context, def *backend.Definition, filters map[string]string) ([]models.Position, error) {
	sql, args, err := buildPositions(def, filters, d.opts)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos, err := models.ParsePosition(code)
		if err != nil {
			slog.Warn("skipping stored position", "backend", def.Name, "code", code)
			continue
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
