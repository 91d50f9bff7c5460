package pgdriver

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

// columns maps logical fields onto the backend's table.
type columns struct {
	table      string
	id         string
	nationalID string
	position   string
	kind       string
	sample     string
	missing    string
	version    string
	tmplType   string
	quality    string
}

func columnsFor(def *backend.Definition) columns {
	return columns{
		table:      def.Param("table", ""),
		id:         def.Param("id_column", "identity_id"),
		nationalID: def.Param("national_id_column", "national_id"),
		position:   def.Param("position_column", "position"),
		kind:       def.Param("kind_column", "kind"),
		sample:     def.Param("sample_column", "sample"),
		missing:    def.Param("missing_column", "missing_code"),
		version:    def.Param("version_column", "template_version"),
		tmplType:   def.Param("type_column", "template_type"),
		quality:    def.Param("quality_column", "quality"),
	}
}

func (c columns) all() []string {
	return []string{c.id, c.nationalID, c.position, c.kind, c.sample, c.missing, c.version, c.tmplType, c.quality}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// statement accumulates positional arguments, predicates and ordering terms.
type statement struct {
	args  []any
	where []string
	order []string
}

func (s *statement) arg(v any) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

func (s *statement) and(pred string) {
	s.where = append(s.where, pred)
}

func (s *statement) whereClause() string {
	if len(s.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(s.where, " AND ")
}

// filterValues applies the hashed transform to every item of a filter value.
func filterValues(spec backend.FilterSpec, raw, pepper string) []string {
	values := spec.Values(raw)
	if !spec.Hashed {
		return values
	}
	hashed := make([]string, len(values))
	for i, v := range values {
		hashed[i] = backend.PepperHash(v, pepper)
	}
	return hashed
}

// applyFilters adds one predicate per supplied filter, in declaration order.
func applyFilters(s *statement, def *backend.Definition, filters map[string]string, opts Options) {
	for _, spec := range def.Filters {
		raw, ok := filters[spec.Key]
		if !ok {
			continue
		}
		values := filterValues(spec, raw, opts.Pepper)
		col := ident(spec.Column)

		if len(values) == 0 {
			s.and("FALSE")
			continue
		}

		switch {
		case spec.Operator == backend.OperatorFuzzy:
			p := s.arg(strings.Join(values, " "))
			s.and(fmt.Sprintf("similarity(%s, %s) >= %s", col, p, s.arg(opts.FuzzyThreshold)))
			s.order = append(s.order, fmt.Sprintf("similarity(%s, %s) DESC", col, p))
		case spec.Operator == backend.OperatorIn:
			s.and(fmt.Sprintf("%s = ANY(%s)", col, s.arg(values)))
		case spec.List:
			preds := make([]string, len(values))
			for i, v := range values {
				preds[i] = fmt.Sprintf("%s = %s", col, s.arg(v))
			}
			if len(preds) == 1 {
				s.and(preds[0])
			} else {
				s.and("(" + strings.Join(preds, " OR ") + ")")
			}
		default:
			s.and(fmt.Sprintf("%s = %s", col, s.arg(values[0])))
		}
	}
}

// buildFetch compiles a candidate query.
func buildFetch(def *backend.Definition, q backend.Query, opts Options) (string, []any) {
	c := columnsFor(def)
	s := &statement{}

	s.and(fmt.Sprintf("%s = %s", ident(c.position), s.arg(q.Position.Code())))

	kinds := make([]string, 0, len(q.Kinds))
	withTemplates := false
	for _, k := range q.Kinds {
		kinds = append(kinds, string(k))
		if k == models.SampleKindTemplate {
			withTemplates = true
		}
	}
	s.and(fmt.Sprintf("%s = ANY(%s)", ident(c.kind), s.arg(kinds)))
	if withTemplates {
		s.and(fmt.Sprintf("(%s <> %s OR (%s = %s AND %s = %s))",
			ident(c.kind), s.arg(string(models.SampleKindTemplate)),
			ident(c.version), s.arg(q.TemplateVersion),
			ident(c.tmplType), s.arg(q.TemplateType)))
	}

	if len(q.CandidateIDs) > 0 {
		s.and(fmt.Sprintf("%s = ANY(%s)", ident(c.id), s.arg(q.CandidateIDs)))
	}

	applyFilters(s, def, q.Filters, opts)

	order := append(append([]string(nil), s.order...), ident(c.id), ident(c.kind)+" DESC")

	sql := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s FROM %s%s ORDER BY %s LIMIT %d",
		ident(c.id), ident(c.nationalID), ident(c.kind), ident(c.sample), ident(c.missing), ident(c.version),
		ident(c.table), s.whereClause(), strings.Join(order, ", "), opts.FetchLimit)
	return sql, s.args
}

// buildPositions compiles a positions lookup. Only exact single-value filters are allowed.
func buildPositions(def *backend.Definition, filters map[string]string, opts Options) (string, []any, error) {
	for _, spec := range def.Filters {
		raw, ok := filters[spec.Key]
		if !ok {
			continue
		}
		if spec.Operator == backend.OperatorFuzzy {
			return "", nil, errs.New(errs.KindUnsupportedBackendOperation,
				fmt.Sprintf("fuzzy filter %s cannot be used to look up positions", spec.Key))
		}
		if (spec.List || spec.Operator == backend.OperatorIn) && len(spec.Values(raw)) > 1 {
			return "", nil, errs.New(errs.KindUnsupportedBackendOperation,
				fmt.Sprintf("multi-value filter %s cannot be used to look up positions", spec.Key))
		}
	}

	c := columnsFor(def)
	s := &statement{}
	applyFilters(s, def, filters, opts)
	s.and(fmt.Sprintf("%s IS NOT NULL", ident(c.sample)))
	s.and(fmt.Sprintf("COALESCE(%s, '') = ''", ident(c.missing)))

	sql := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY MAX(%s) DESC NULLS LAST, %s",
		ident(c.position), ident(c.table), s.whereClause(),
		ident(c.position), ident(c.quality), ident(c.position))
	return sql, s.args, nil
}
