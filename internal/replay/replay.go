// Package replay records every submitted sample so resubmissions of an
// identical capture can be flagged. It never influences the decision.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/internal/observability"
)

// Ledger performs an atomic insert-or-increment keyed by sample hash.
type Ledger interface {
	UpsertReplay(ctx context.Context, hash string, now time.Time) (*models.ReplayRecord, error)
}

type Recorder struct {
	enabled bool
	ledger  Ledger
	now     func() time.Time
}

func NewRecorder(enabled bool, ledger Ledger) *Recorder {
	return &Recorder{
		enabled: enabled && ledger != nil,
		ledger:  ledger,
		now:     time.Now,
	}
}

func (r *Recorder) Enabled() bool {
	return r.enabled
}

// Hash is the ledger key of a sample.
func Hash(sample []byte) string {
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

// Record upserts the sample's ledger entry and returns it. It returns nil
// when disabled or when the ledger fails; failures are logged only.
func (r *Recorder) Record(ctx context.Context, sample []byte) *models.ReplayRecord {
	if !r.enabled {
		return nil
	}

	hash := Hash(sample)
	rec, err := r.ledger.UpsertReplay(ctx, hash, r.now().UTC())
	if err != nil {
		observability.ReplayErrors.Inc()
		slog.Error("record replay", "hash", hash, "error", err)
		return nil
	}

	if rec.Replayed() {
		observability.ReplayHits.Inc()
		slog.Warn("sample replayed",
			"hash", hash,
			"seen_count", rec.SeenCount,
			"first_seen", rec.FirstSeen,
		)
	}
	return rec
}
