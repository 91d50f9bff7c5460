package models

// VerificationRequest is a validated-shape request to authenticate a person.
type VerificationRequest struct {
	Backend string
	Sample  []byte
	// InlineSample is the sample string as supplied at the top level of the
	// request, outside params. nil when the caller used params.
	InlineSample *string
	Kind         SampleKind
	Position     Position
	Filters      map[string]string
	CandidateIDs []string
}

// Decision is the outcome of a verification.
type Decision struct {
	Matched     bool
	CandidateID string
	NationalID  string
	Score       float64
	Backend     string
	Position    Position
	Kind        SampleKind
}
