package models

import "time"

// ReplayRecord tracks every submission of an identical sample.
type ReplayRecord struct {
	Hash      string    `json:"hash"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SeenCount int64     `json:"seen_count"`
}

// Replayed reports whether the sample had been submitted before.
func (r *ReplayRecord) Replayed() bool {
	return r != nil && r.SeenCount > 1
}

// QualityResult is the quality analyzer's verdict on a raw sample.
type QualityResult struct {
	Score  float64 `json:"quality"`
	Format string  `json:"format"`
}
