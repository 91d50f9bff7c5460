// Package backend loads declarative backend definitions, binds them to
// compiled-in drivers and validates verification queries against them.
package backend

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

// Query is a validated request handed to a driver.
type Query struct {
	Filters      map[string]string
	CandidateIDs []string
	Position     models.Position
	Kinds        []models.SampleKind
	// TemplateVersion and TemplateType select stored templates compatible
	// with the active matcher.
	TemplateVersion string
	TemplateType    string
}

// Driver executes queries against a concrete store.
type Driver interface {
	// Validate lets the driver reject a definition at load time.
	Validate(ctx context.Context, def *Definition) error
	Fetch(ctx context.Context, def *Definition, q Query) ([]models.Candidate, error)
	// Positions lists the enrolled positions of the matching identity, best quality first.
	Positions(ctx context.Context, def *Definition, filters map[string]string) ([]models.Position, error)
}

// DriverFactory builds a driver for one backend definition.
type DriverFactory func(def *Definition) (Driver, error)

// Backend is a loaded definition bound to its driver.
type Backend struct {
	Definition *Definition
	Driver     Driver
}

type Options struct {
	// CandidateListFilter is the filter key holding explicit candidate ids.
	CandidateListFilter string
	MaxCandidateIDs     int
}

// Registry is populated once at startup and read-only afterwards.
type Registry struct {
	factories map[string]DriverFactory
	opts      Options
	backends  map[string]*Backend
	names     []string
}

func NewRegistry(factories map[string]DriverFactory, opts Options) *Registry {
	return &Registry{
		factories: factories,
		opts:      opts,
		backends:  make(map[string]*Backend),
	}
}

// LoadFile parses and loads a definitions file.
func (r *Registry) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(err, errs.KindConfiguration, fmt.Sprintf("read backend definitions: %v", err))
	}
	raws, err := ParseDefinitions(data)
	if err != nil {
		return err
	}
	return r.Load(ctx, raws)
}

// Load compiles and registers definitions. Any error leaves the registry unchanged.
func (r *Registry) Load(ctx context.Context, raws []RawDefinition) error {
	loaded := make(map[string]*Backend, len(raws))
	var names []string

	for _, raw := range raws {
		if raw.Name == "" {
			return errs.New(errs.KindConfiguration, "backend definition has an empty name")
		}
		if _, dup := r.backends[raw.Name]; dup {
			return errs.New(errs.KindConfiguration, fmt.Sprintf("backend %s is declared more than once", raw.Name))
		}
		if _, dup := loaded[raw.Name]; dup {
			return errs.New(errs.KindConfiguration, fmt.Sprintf("backend %s is declared more than once", raw.Name))
		}

		factory, ok := r.factories[raw.Driver]
		if !ok {
			return errs.New(errs.KindConfiguration, fmt.Sprintf("backend %s: unknown driver %q", raw.Name, raw.Driver))
		}

		def, err := compile(raw)
		if err != nil {
			return err
		}

		driver, err := factory(def)
		if err != nil {
			return errs.Wrap(err, errs.KindConfiguration, fmt.Sprintf("backend %s: create driver: %v", raw.Name, err))
		}
		if err := driver.Validate(ctx, def); err != nil {
			return errs.Wrap(err, errs.KindConfiguration, fmt.Sprintf("backend %s: %v", raw.Name, err))
		}

		loaded[raw.Name] = &Backend{Definition: def, Driver: driver}
		names = append(names, raw.Name)
	}

	for name, b := range loaded {
		r.backends[name] = b
	}
	r.names = append(r.names, names...)
	return nil
}

// Get returns the named backend.
func (r *Registry) Get(name string) (*Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, errs.New(errs.KindUnknownBackend, fmt.Sprintf("unknown backend %q", name))
	}
	return b, nil
}

// Names lists backends in load order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// ValidateQuery checks a verification request against its backend.
// Checks run in a fixed order and the first failure is returned.
func (r *Registry) ValidateQuery(req models.VerificationRequest) (*Backend, error) {
	b, err := r.Get(req.Backend)
	if err != nil {
		return nil, err
	}
	def := b.Definition

	if req.InlineSample != nil && strings.TrimSpace(*req.InlineSample) == "" {
		return nil, errs.New(errs.KindInvalidFilter, "image must not be empty")
	}

	var missing []string
	for _, f := range def.Filters {
		if f.Required && strings.TrimSpace(req.Filters[f.Key]) == "" {
			missing = append(missing, f.Key)
		}
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.KindInvalidFilter, "missing required filters: "+strings.Join(missing, ", "))
	}

	if err := checkFilterKeys(def, req.Filters); err != nil {
		return nil, err
	}

	if !def.HasPosition(req.Position) {
		return nil, errs.New(errs.KindInvalidFilter,
			fmt.Sprintf("position %d is not available on backend %s", req.Position.Code(), def.Name))
	}

	if err := r.checkCandidateList(req.Filters, req.CandidateIDs); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidateLookup checks the filters of a positions lookup.
func (r *Registry) ValidateLookup(backend string, filters map[string]string) (*Backend, error) {
	b, err := r.Get(backend)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, errs.New(errs.KindInvalidFilter, "at least one filter is required")
	}
	if err := checkFilterKeys(b.Definition, filters); err != nil {
		return nil, err
	}
	if err := r.checkCandidateList(filters, nil); err != nil {
		return nil, err
	}
	return b, nil
}

// checkFilterKeys enforces unique-filter exclusivity, then rejects undeclared keys.
func checkFilterKeys(def *Definition, filters map[string]string) error {
	if len(filters) > 1 {
		for _, key := range sortedKeys(filters) {
			if f, ok := def.Filter(key); ok && f.Unique {
				return errs.New(errs.KindInvalidFilter,
					fmt.Sprintf("filter %s is unique and cannot be combined with other filters", key))
			}
		}
	}

	var unknown []string
	for _, key := range sortedKeys(filters) {
		if _, ok := def.Filter(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return errs.New(errs.KindInvalidFilter, "unknown filters: "+strings.Join(unknown, ", "))
	}
	return nil
}

func (r *Registry) checkCandidateList(filters map[string]string, ids []string) error {
	if r.opts.MaxCandidateIDs <= 0 {
		return nil
	}
	n := len(ids)
	if raw, ok := filters[r.opts.CandidateListFilter]; ok && r.opts.CandidateListFilter != "" {
		n += len(SplitList(raw))
	}
	if n > r.opts.MaxCandidateIDs {
		return errs.New(errs.KindInvalidFilter,
			fmt.Sprintf("%d candidate ids exceed the maximum of %d", n, r.opts.MaxCandidateIDs))
	}
	return nil
}

// Describe summarizes loaded backends for listing endpoints.
func (r *Registry) Describe() []Summary {
	out := make([]Summary, 0, len(r.names))
	for _, name := range r.names {
		def := r.backends[name].Definition
		s := Summary{Name: name, Driver: def.DriverName}
		for _, p := range def.Positions {
			s.Positions = append(s.Positions, p.Code())
		}
		sort.Ints(s.Positions)
		for _, f := range def.Filters {
			s.Filters = append(s.Filters, f.Key)
		}
		out = append(out, s)
	}
	return out
}

type Summary struct {
	Name      string
	Driver    string
	Positions []int
	Filters   []string
}
