package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeDecided EventType = "decided"
	EventTypeReplay  EventType = "replay"
)

// VerificationEvent is published for every decision and replay hit,
// and persisted by the audit worker.
type VerificationEvent struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Type        EventType `json:"type" db:"type"`
	Backend     string    `json:"backend" db:"backend"`
	Position    int       `json:"position,omitempty" db:"position"`
	SampleKind  string    `json:"sample_kind,omitempty" db:"sample_kind"`
	Outcome     string    `json:"outcome" db:"outcome"` // matched, or an error kind
	CandidateID string    `json:"candidate_id,omitempty" db:"candidate_id"`
	Score       float64   `json:"score,omitempty" db:"score"`
	ProbeHash   string    `json:"probe_hash,omitempty" db:"probe_hash"`
	SeenCount   int64     `json:"seen_count,omitempty" db:"seen_count"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
