package matcher

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// Version identifies the extraction and encoding revision of native templates.
	Version = "1.0.0"
	// TemplateType names the native template family.
	TemplateType = "fpv-minutiae"
)

type MinutiaType string

const (
	MinutiaEnding      MinutiaType = "ending"
	MinutiaBifurcation MinutiaType = "bifurcation"
)

// Minutia is a ridge feature in pixel coordinates. Direction is in whole
// degrees, [0, 360).
type Minutia struct {
	X         int         `json:"x"`
	Y         int         `json:"y"`
	Direction int         `json:"direction"`
	Type      MinutiaType `json:"type"`
}

// Template is the native serialized form.
type Template struct {
	Version  string    `json:"version"`
	Type     string    `json:"type"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Minutiae []Minutia `json:"minutiae"`
}

func newTemplate(width, height int, minutiae []Minutia) *Template {
	sortMinutiae(minutiae)
	return &Template{
		Version:  Version,
		Type:     TemplateType,
		Width:    width,
		Height:   height,
		Minutiae: minutiae,
	}
}

func (t *Template) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	return data, nil
}

func sortMinutiae(m []Minutia) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Y != m[j].Y {
			return m[i].Y < m[j].Y
		}
		if m[i].X != m[j].X {
			return m[i].X < m[j].X
		}
		return m[i].Direction < m[j].Direction
	})
}

// envelope holds the fields used to recognize a template encoding.
type envelope struct {
	Format  string `json:"format"`
	Version string `json:"version"`
	Type    string `json:"type"`
}

var errUnknownEncoding = fmt.Errorf("unrecognized template encoding")

// decodeTemplate parses native templates and converts recognized foreign
// encodings. Native templates of another version are rejected.
func decodeTemplate(data []byte) (*Template, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnknownEncoding, err)
	}

	switch {
	case env.Format == isoFormat:
		return convertISO(data)
	case env.Type == TemplateType:
		if env.Version != Version {
			return nil, &versionError{got: env.Version}
		}
		var t Template
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode template: %w", err)
		}
		for _, m := range t.Minutiae {
			if m.Type != MinutiaEnding && m.Type != MinutiaBifurcation {
				return nil, fmt.Errorf("decode template: unknown minutia type %q", m.Type)
			}
		}
		sortMinutiae(t.Minutiae)
		return &t, nil
	default:
		return nil, errUnknownEncoding
	}
}

type versionError struct {
	got string
}

func (e *versionError) Error() string {
	return fmt.Sprintf("template version %q does not match %q", e.got, Version)
}
