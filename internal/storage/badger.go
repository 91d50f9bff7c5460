package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/your-org/fpv/internal/models"
)

const (
	prefixReplay       = "replay:"
	maxConflictRetries = 64
)

// BadgerLedger is an embedded replay ledger for single-node deployments.
type BadgerLedger struct {
	db *badger.DB
}

// OpenBadgerLedger opens the ledger at path. An empty path keeps it in memory.
func OpenBadgerLedger(path string) (*BadgerLedger, error) {
	opt := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opt = opt.WithInMemory(true)
	}
	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerLedger{db: db}, nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// UpsertReplay increments the record for hash inside a serializable
// transaction, retrying when a concurrent writer wins the conflict.
func (l *BadgerLedger) UpsertReplay(ctx context.Context, hash string, now time.Time) (*models.ReplayRecord, error) {
	key := []byte(prefixReplay + hash)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var rec models.ReplayRecord
		err := l.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				rec = models.ReplayRecord{Hash: hash, FirstSeen: now, LastSeen: now, SeenCount: 1}
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return fmt.Errorf("decode replay record: %w", err)
				}
				rec.SeenCount++
				rec.LastSeen = now
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode replay record: %w", err)
			}
			return txn.Set(key, data)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("upsert replay record: %w", err)
		}
		return &rec, nil
	}
}
