package dto

import "github.com/google/uuid"

type EventResponse struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Backend     string    `json:"backend"`
	Position    int       `json:"position,omitempty"`
	SampleKind  string    `json:"sample_kind,omitempty"`
	Outcome     string    `json:"outcome"`
	CandidateID string    `json:"candidate_id,omitempty"`
	Score       float64   `json:"score,omitempty"`
	ProbeHash   string    `json:"probe_hash,omitempty"`
	SeenCount   int64     `json:"seen_count,omitempty"`
	Timestamp   string    `json:"timestamp"`
	CreatedAt   string    `json:"created_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}
