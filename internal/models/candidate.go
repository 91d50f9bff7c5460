package models

// SampleKind distinguishes raw images from pre-built templates.
type SampleKind string

const (
	SampleKindImage    SampleKind = "image"
	SampleKindTemplate SampleKind = "template"
)

func (k SampleKind) Valid() bool {
	return k == SampleKindImage || k == SampleKindTemplate
}

// MissingReason explains why an enrolled position holds no sample.
type MissingReason string

const (
	MissingNone          MissingReason = ""
	MissingNotCaptured   MissingReason = "not_captured"
	MissingAmputation    MissingReason = "amputation"
	MissingUnableToPrint MissingReason = "unable_to_print"
)

// Stored missing codes, as written by enrollment stations.
const (
	MissingCodeAmputation    = "XX"
	MissingCodeUnableToPrint = "UP"
)

// ParseMissingCode maps a stored reason code to a MissingReason.
// Unknown or empty codes mean the sample was simply not captured.
func ParseMissingCode(code string) MissingReason {
	switch code {
	case MissingCodeAmputation:
		return MissingAmputation
	case MissingCodeUnableToPrint:
		return MissingUnableToPrint
	default:
		return MissingNotCaptured
	}
}

// Candidate is an enrolled identity considered for matching.
// It is not mutated once fetched; scores live in ScoredCandidate.
type Candidate struct {
	ID              string
	NationalID      string
	Samples         map[Position][]byte
	Kind            SampleKind
	TemplateVersion *string
	MissingReason   MissingReason
}

// Sample returns the candidate's sample for pos, if present and non-empty.
func (c *Candidate) Sample(pos Position) ([]byte, bool) {
	s, ok := c.Samples[pos]
	return s, ok && len(s) > 0
}

// ScoredCandidate pairs a candidate with the similarity score computed for it.
type ScoredCandidate struct {
	Candidate *Candidate
	Score     float64
}
