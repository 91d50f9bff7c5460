package backend

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

// Operator is the comparison a filter applies to its mapped column.
type Operator string

const (
	OperatorEqual Operator = "equal"
	OperatorIn    Operator = "in"
	OperatorFuzzy Operator = "fuzzy"
)

// ParseOperator decodes a configured operator. Empty means equal.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equal", "eq":
		return OperatorEqual, nil
	case "in", "in-list":
		return OperatorIn, nil
	case "fuzzy", "fuzzy-similarity":
		return OperatorFuzzy, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// FilterSpec is a compiled filter declaration.
type FilterSpec struct {
	Key      string
	Column   string
	Operator Operator
	Required bool
	// Unique filters may not be combined with any other filter in one query.
	Unique bool
	// List values are comma-separated.
	List bool
	// Hashed values are pepper-hashed before comparison; the column is hashed at rest.
	Hashed bool
}

// Values splits a supplied filter value into its items.
// Non-list filters always yield exactly one item.
func (f FilterSpec) Values(raw string) []string {
	if !f.List && f.Operator != OperatorIn {
		return []string{raw}
	}
	return SplitList(raw)
}

// Definition is an immutable, validated backend declaration.
type Definition struct {
	Name       string
	DriverName string
	Filters    []FilterSpec
	Positions  []models.Position
	Params     map[string]string

	filterIndex map[string]int
	positionSet map[models.Position]struct{}
}

func (d *Definition) Filter(key string) (FilterSpec, bool) {
	i, ok := d.filterIndex[key]
	if !ok {
		return FilterSpec{}, false
	}
	return d.Filters[i], true
}

func (d *Definition) HasPosition(p models.Position) bool {
	_, ok := d.positionSet[p]
	return ok
}

// Param returns a driver parameter or def when unset.
func (d *Definition) Param(key, def string) string {
	if v, ok := d.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// RawFilter is a filter entry as written in the definitions file.
type RawFilter struct {
	Key      string `yaml:"-"`
	To       string `yaml:"to"`
	Operator string `yaml:"operator"`
	Required bool   `yaml:"required"`
	Unique   bool   `yaml:"unique"`
	List     bool   `yaml:"list"`
	Hashed   bool   `yaml:"hashed"`
}

// RawDefinition is a backend entry as written in the definitions file.
type RawDefinition struct {
	Name      string            `yaml:"name"`
	Driver    string            `yaml:"driver"`
	Positions []int             `yaml:"positions"`
	Params    map[string]string `yaml:"params"`
	// Filters keeps declaration order.
	Filters []RawFilter `yaml:"-"`
}

var requiredRootKeys = []string{"name", "driver", "filters", "positions"}

// ParseDefinitions decodes a definitions document:
//
//	backends:
//	  - name: national
//	    driver: postgres
//	    positions: [1, 2]
//	    filters:
//	      nationalId: {to: national_id, unique: true, hashed: true}
func ParseDefinitions(data []byte) ([]RawDefinition, error) {
	var doc struct {
		Backends []yaml.Node `yaml:"backends"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(err, errs.KindConfiguration, "parse backend definitions: "+err.Error())
	}

	defs := make([]RawDefinition, 0, len(doc.Backends))
	for i := range doc.Backends {
		def, err := parseDefinition(&doc.Backends[i])
		if err != nil {
			return nil, fmt.Errorf("backend #%d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseDefinition(node *yaml.Node) (RawDefinition, error) {
	if node.Kind != yaml.MappingNode {
		return RawDefinition{}, errs.New(errs.KindConfiguration, "backend definition must be a mapping")
	}

	present := map[string]*yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		present[node.Content[i].Value] = node.Content[i+1]
	}
	var missing []string
	for _, key := range requiredRootKeys {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return RawDefinition{}, errs.New(errs.KindConfiguration,
			"backend definition is missing keys: "+strings.Join(missing, ", "))
	}

	var def RawDefinition
	if err := node.Decode(&def); err != nil {
		return RawDefinition{}, errs.Wrap(err, errs.KindConfiguration, "decode backend definition: "+err.Error())
	}

	filters := present["filters"]
	if filters.Kind != yaml.MappingNode {
		return RawDefinition{}, errs.New(errs.KindConfiguration,
			fmt.Sprintf("backend %s: filters must be a mapping", def.Name))
	}
	for i := 0; i+1 < len(filters.Content); i += 2 {
		f := RawFilter{Key: filters.Content[i].Value}
		if body := filters.Content[i+1]; body.Kind == yaml.MappingNode {
			if err := body.Decode(&f); err != nil {
				return RawDefinition{}, errs.Wrap(err, errs.KindConfiguration,
					fmt.Sprintf("backend %s: decode filter %s: %v", def.Name, f.Key, err))
			}
			f.Key = filters.Content[i].Value
		}
		def.Filters = append(def.Filters, f)
	}
	return def, nil
}

// compile turns a raw definition into a Definition, rejecting invalid positions and operators.
func compile(raw RawDefinition) (*Definition, error) {
	def := &Definition{
		Name:        raw.Name,
		DriverName:  raw.Driver,
		Params:      raw.Params,
		filterIndex: make(map[string]int, len(raw.Filters)),
		positionSet: make(map[models.Position]struct{}, len(raw.Positions)),
	}
	if def.Params == nil {
		def.Params = map[string]string{}
	}

	for _, code := range raw.Positions {
		p, err := models.ParsePosition(code)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindConfiguration, fmt.Sprintf("backend %s: %v", raw.Name, err))
		}
		if _, dup := def.positionSet[p]; dup {
			continue
		}
		def.positionSet[p] = struct{}{}
		def.Positions = append(def.Positions, p)
	}

	for _, rf := range raw.Filters {
		op, err := ParseOperator(rf.Operator)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindConfiguration,
				fmt.Sprintf("backend %s: filter %s: %v", raw.Name, rf.Key, err))
		}
		column := rf.To
		if column == "" {
			column = rf.Key
		}
		def.filterIndex[rf.Key] = len(def.Filters)
		def.Filters = append(def.Filters, FilterSpec{
			Key:      rf.Key,
			Column:   column,
			Operator: op,
			Required: rf.Required,
			Unique:   rf.Unique,
			List:     rf.List,
			Hashed:   rf.Hashed,
		})
	}
	return def, nil
}

// SplitList splits a comma-separated value, trimming blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
