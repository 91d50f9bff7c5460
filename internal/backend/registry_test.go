package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/models"
)

const definitionsYAML = `
backends:
  - name: national
    driver: fake
    positions: [1, 2, 6, 7]
    filters:
      nationalId:
        to: national_id
        unique: true
        hashed: true
      dids:
        to: did
        operator: in
        list: true
      name:
        to: full_name
        operator: fuzzy
      region:
        required: true
    params:
      table: fingerprints
  - name: border
    driver: fake
    positions: [1]
    filters:
      passport: {}
`

type fakeDriver struct {
	validateFunc func(ctx context.Context, def *Definition) error
}

func (d *fakeDriver) Validate(ctx context.Context, def *Definition) error {
	if d.validateFunc != nil {
		return d.validateFunc(ctx, def)
	}
	return nil
}

func (d *fakeDriver) Fetch(context.Context, *Definition, Query) ([]models.Candidate, error) {
	return nil, nil
}

func (d *fakeDriver) Positions(context.Context, *Definition, map[string]string) ([]models.Position, error) {
	return nil, nil
}

func fakeFactories(d *fakeDriver) map[string]DriverFactory {
	return map[string]DriverFactory{
		"fake": func(*Definition) (Driver, error) { return d, nil },
	}
}

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	raws, err := ParseDefinitions([]byte(definitionsYAML))
	require.NoError(t, err)

	r := NewRegistry(fakeFactories(&fakeDriver{}), Options{CandidateListFilter: "dids", MaxCandidateIDs: 3})
	require.NoError(t, r.Load(context.Background(), raws))
	return r
}

func TestParseDefinitionsKeepsFilterOrder(t *testing.T) {
	raws, err := ParseDefinitions([]byte(definitionsYAML))
	require.NoError(t, err)
	require.Len(t, raws, 2)

	var keys []string
	for _, f := range raws[0].Filters {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"nationalId", "dids", "name", "region"}, keys)
	assert.Equal(t, "fingerprints", raws[0].Params["table"])
	assert.Equal(t, "passport", raws[1].Filters[0].Key)
}

func TestParseDefinitionsMissingKeys(t *testing.T) {
	_, err := ParseDefinitions([]byte(`
backends:
  - name: broken
    driver: fake
`))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindConfiguration))
	assert.Contains(t, err.Error(), "filters, positions")
}

func TestLoadCompilesFilters(t *testing.T) {
	r := loadRegistry(t)

	b, err := r.Get("national")
	require.NoError(t, err)

	nid, ok := b.Definition.Filter("nationalId")
	require.True(t, ok)
	assert.Equal(t, "national_id", nid.Column)
	assert.Equal(t, OperatorEqual, nid.Operator)
	assert.True(t, nid.Unique)
	assert.True(t, nid.Hashed)

	region, ok := b.Definition.Filter("region")
	require.True(t, ok)
	assert.Equal(t, "region", region.Column, "column defaults to the filter key")
	assert.True(t, region.Required)

	name, _ := b.Definition.Filter("name")
	assert.Equal(t, OperatorFuzzy, name.Operator)

	assert.True(t, b.Definition.HasPosition(models.LeftThumb))
	assert.False(t, b.Definition.HasPosition(models.LeftLittle))
	assert.Equal(t, []string{"national", "border"}, r.Names())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate name",
			yaml: `
backends:
  - {name: a, driver: fake, positions: [1], filters: {x: {}}}
  - {name: a, driver: fake, positions: [1], filters: {x: {}}}
`,
			want: "declared more than once",
		},
		{
			name: "unknown driver",
			yaml: `
backends:
  - {name: a, driver: oracle, positions: [1], filters: {x: {}}}
`,
			want: "unknown driver",
		},
		{
			name: "invalid position",
			yaml: `
backends:
  - {name: a, driver: fake, positions: [1, 11], filters: {x: {}}}
`,
			want: "invalid position code 11",
		},
		{
			name: "unknown operator",
			yaml: `
backends:
  - {name: a, driver: fake, positions: [1], filters: {x: {operator: like}}}
`,
			want: "unknown operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := ParseDefinitions([]byte(tt.yaml))
			require.NoError(t, err)

			r := NewRegistry(fakeFactories(&fakeDriver{}), Options{})
			err = r.Load(context.Background(), raws)
			require.Error(t, err)
			assert.True(t, errs.Has(err, errs.KindConfiguration))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, r.Names())
		})
	}
}

func TestLoadDriverSelfValidation(t *testing.T) {
	raws, err := ParseDefinitions([]byte(definitionsYAML))
	require.NoError(t, err)

	d := &fakeDriver{validateFunc: func(_ context.Context, def *Definition) error {
		if def.Name == "border" {
			return errors.New("column passport does not exist")
		}
		return nil
	}}
	r := NewRegistry(fakeFactories(d), Options{})
	err = r.Load(context.Background(), raws)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindConfiguration))
	assert.Contains(t, err.Error(), "column passport does not exist")
}

func TestLoadRejectsRedeclarationAcrossLoads(t *testing.T) {
	r := loadRegistry(t)
	raws, err := ParseDefinitions([]byte(`
backends:
  - {name: border, driver: fake, positions: [1], filters: {x: {}}}
`))
	require.NoError(t, err)
	assert.True(t, errs.Has(r.Load(context.Background(), raws), errs.KindConfiguration))
}

func request(backend string, filters map[string]string) models.VerificationRequest {
	return models.VerificationRequest{
		Backend:  backend,
		Sample:   []byte("sample"),
		Kind:     models.SampleKindImage,
		Position: models.RightThumb,
		Filters:  filters,
	}
}

func TestValidateQuery(t *testing.T) {
	r := loadRegistry(t)
	empty := ""

	tests := []struct {
		name    string
		req     func() models.VerificationRequest
		kind    errs.Kind
		message string
	}{
		{
			name: "valid",
			req: func() models.VerificationRequest {
				return request("national", map[string]string{"region": "north", "name": "Ann"})
			},
		},
		{
			name:    "unknown backend",
			req:     func() models.VerificationRequest { return request("nope", map[string]string{"region": "x"}) },
			kind:    errs.KindUnknownBackend,
			message: `unknown backend "nope"`,
		},
		{
			name: "empty inline sample",
			req: func() models.VerificationRequest {
				req := request("national", map[string]string{"region": "x"})
				req.InlineSample = &empty
				return req
			},
			kind:    errs.KindInvalidFilter,
			message: "image must not be empty",
		},
		{
			name:    "missing required",
			req:     func() models.VerificationRequest { return request("national", map[string]string{"name": "Ann"}) },
			kind:    errs.KindInvalidFilter,
			message: "missing required filters: region",
		},
		{
			name: "unique combined",
			req: func() models.VerificationRequest {
				return request("national", map[string]string{"region": "x", "nationalId": "123"})
			},
			kind:    errs.KindInvalidFilter,
			message: "filter nationalId is unique",
		},
		{
			name: "undeclared filters",
			req: func() models.VerificationRequest {
				return request("national", map[string]string{"region": "x", "shoe": "42", "eyes": "blue"})
			},
			kind:    errs.KindInvalidFilter,
			message: "unknown filters: eyes, shoe",
		},
		{
			name: "position not offered",
			req: func() models.VerificationRequest {
				req := request("national", map[string]string{"region": "x"})
				req.Position = models.LeftLittle
				return req
			},
			kind:    errs.KindInvalidFilter,
			message: "position 10",
		},
		{
			name: "too many dids",
			req: func() models.VerificationRequest {
				return request("national", map[string]string{"region": "x", "dids": "d1,d2,d3,d4"})
			},
			kind:    errs.KindInvalidFilter,
			message: "4 candidate ids exceed the maximum of 3",
		},
		{
			name: "too many explicit candidate ids",
			req: func() models.VerificationRequest {
				req := request("national", map[string]string{"region": "x", "dids": "d1,d2"})
				req.CandidateIDs = []string{"c1", "c2"}
				return req
			},
			kind: errs.KindInvalidFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := r.ValidateQuery(tt.req())
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, "national", b.Definition.Name)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateQueryUnknownBackendIgnoresFilters(t *testing.T) {
	r := loadRegistry(t)
	filterSets := []map[string]string{
		nil,
		{},
		{"region": "x"},
		{"nationalId": "1", "dids": "a,b,c,d,e,f"},
		{"whatever": ""},
	}
	for i, filters := range filterSets {
		_, err := r.ValidateQuery(request(fmt.Sprintf("missing-%d", i), filters))
		assert.True(t, errs.Has(err, errs.KindUnknownBackend), "filters %v", filters)
	}
}

func TestValidateQueryUniqueAlwaysExclusive(t *testing.T) {
	r := loadRegistry(t)
	for _, other := range []string{"dids", "name", "region", "undeclared"} {
		_, err := r.ValidateQuery(request("national", map[string]string{
			"nationalId": "123",
			"region":     "north",
			other:        "v",
		}))
		require.Error(t, err)
		assert.Equal(t, errs.KindInvalidFilter, errs.KindOf(err), "combined with %s", other)
	}
}

func TestValidateQueryTooManyDIDs(t *testing.T) {
	r := loadRegistry(t)
	var dids []string
	for i := 1; i <= 10; i++ {
		dids = append(dids, fmt.Sprintf("d%d", i))
	}
	_, err := r.ValidateQuery(request("national", map[string]string{
		"region": "x",
		"dids":   strings.Join(dids, ","),
	}))
	assert.True(t, errors.Is(err, errs.InvalidFilter))
}

func TestValidateLookup(t *testing.T) {
	r := loadRegistry(t)

	_, err := r.ValidateLookup("national", map[string]string{"nationalId": "123"})
	require.NoError(t, err)

	_, err = r.ValidateLookup("national", nil)
	assert.True(t, errs.Has(err, errs.KindInvalidFilter))

	_, err = r.ValidateLookup("national", map[string]string{"shoe": "42"})
	assert.True(t, errs.Has(err, errs.KindInvalidFilter))

	_, err = r.ValidateLookup("gone", map[string]string{"nationalId": "123"})
	assert.True(t, errs.Has(err, errs.KindUnknownBackend))
}

func TestDescribe(t *testing.T) {
	r := loadRegistry(t)
	summaries := r.Describe()
	require.Len(t, summaries, 2)
	assert.Equal(t, "national", summaries[0].Name)
	assert.Equal(t, []int{1, 2, 6, 7}, summaries[0].Positions)
	assert.Equal(t, []string{"nationalId", "dids", "name", "region"}, summaries[0].Filters)
}

func TestFilterValues(t *testing.T) {
	list := FilterSpec{List: true}
	assert.Equal(t, []string{"a", "b"}, list.Values(" a, b ,"))

	single := FilterSpec{}
	assert.Equal(t, []string{"a,b"}, single.Values("a,b"))

	in := FilterSpec{Operator: OperatorIn}
	assert.Equal(t, []string{"x", "y"}, in.Values("x,y"))
}

func TestPepperHashStable(t *testing.T) {
	a := PepperHash("123", "pepper")
	assert.Equal(t, a, PepperHash("123", "pepper"))
	assert.NotEqual(t, a, PepperHash("123", "salt"))
	assert.Len(t, a, 64)
}
