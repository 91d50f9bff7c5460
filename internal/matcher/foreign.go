package matcher

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	isoFormat = "ISO_19794_2"
	// Native coordinates are expressed at this resolution.
	nativeDPI = 500
)

// isoTemplate is the JSON export of an ISO/IEC 19794-2 finger minutiae
// record. Angles are in units of 360/256 degrees; type 1 is a ridge ending,
// type 2 a bifurcation.
type isoTemplate struct {
	Format     string `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Resolution int    `json:"resolution"`
	Minutiae   []struct {
		X     int `json:"x"`
		Y     int `json:"y"`
		Angle int `json:"angle"`
		Type  int `json:"type"`
	} `json:"minutiae"`
}

func convertISO(data []byte) (*Template, error) {
	var iso isoTemplate
	if err := json.Unmarshal(data, &iso); err != nil {
		return nil, fmt.Errorf("decode %s template: %w", isoFormat, err)
	}

	scale := 1.0
	if iso.Resolution > 0 && iso.Resolution != nativeDPI {
		scale = float64(nativeDPI) / float64(iso.Resolution)
	}

	minutiae := make([]Minutia, 0, len(iso.Minutiae))
	for _, m := range iso.Minutiae {
		var typ MinutiaType
		switch m.Type {
		case 1:
			typ = MinutiaEnding
		case 2:
			typ = MinutiaBifurcation
		default:
			// type 0 ("other") carries no usable class
			continue
		}
		if m.Angle < 0 || m.Angle > 255 {
			return nil, fmt.Errorf("decode %s template: angle %d out of range", isoFormat, m.Angle)
		}
		minutiae = append(minutiae, Minutia{
			X:         int(math.Round(float64(m.X) * scale)),
			Y:         int(math.Round(float64(m.Y) * scale)),
			Direction: int(math.Round(float64(m.Angle)*360/256)) % 360,
			Type:      typ,
		})
	}

	w := int(math.Round(float64(iso.Width) * scale))
	h := int(math.Round(float64(iso.Height) * scale))
	return newTemplate(w, h, minutiae), nil
}
