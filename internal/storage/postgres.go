package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/fpv/internal/config"
	"github.com/your-org/fpv/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Query exposes the pool to backend drivers.
func (s *PostgresStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.pool.Query(ctx, sql, args...)
}

// --- Replay ledger ---

// UpsertReplay inserts a record for hash or increments the existing one in a
// single statement.
func (s *PostgresStore) UpsertReplay(ctx context.Context, hash string, now time.Time) (*models.ReplayRecord, error) {
	rec := &models.ReplayRecord{Hash: hash}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO replay_records (hash, first_seen, last_seen, seen_count) VALUES ($1, $2, $2, 1)
		 ON CONFLICT (hash) DO UPDATE
		 SET seen_count = replay_records.seen_count + 1, last_seen = EXCLUDED.last_seen
		 RETURNING first_seen, last_seen, seen_count`,
		hash, now,
	).Scan(&rec.FirstSeen, &rec.LastSeen, &rec.SeenCount)
	if err != nil {
		return nil, fmt.Errorf("upsert replay record: %w", err)
	}
	return rec, nil
}

// --- Enrollment ---

// FingerprintRow is one enrolled sample in the reference fingerprints table.
// Sample is nil when MissingCode explains its absence.
type FingerprintRow struct {
	IdentityID      string
	NationalID      string
	NationalIDHash  string
	Position        int
	Kind            models.SampleKind
	Sample          []byte
	MissingCode     string
	TemplateVersion *string
	TemplateType    *string
	Quality         *float64
}

// UpsertFingerprint inserts or replaces the sample of one kind at one position
// in table.
func (s *PostgresStore) UpsertFingerprint(ctx context.Context, table string, fp FingerprintRow) error {
	if err := upsertFingerprint(ctx, s.pool, table, fp); err != nil {
		return fmt.Errorf("upsert fingerprint %s/%d: %w", fp.IdentityID, fp.Position, err)
	}
	return nil
}

// MarkFingerprintMissing records fp.MissingCode on the image row of one
// position and drops any template enrolled there before.
func (s *PostgresStore) MarkFingerprintMissing(ctx context.Context, table string, fp FingerprintRow) error {
	fp.Kind = models.SampleKindImage
	fp.Sample = nil
	fp.TemplateVersion, fp.TemplateType, fp.Quality = nil, nil, nil
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertFingerprint(ctx, tx, table, fp); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE identity_id = $1 AND position = $2 AND kind = $3`, pgx.Identifier{table}.Sanitize()),
			fp.IdentityID, fp.Position, string(models.SampleKindTemplate))
		return err
	})
	if err != nil {
		return fmt.Errorf("mark fingerprint %s/%d missing: %w", fp.IdentityID, fp.Position, err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertFingerprint(ctx context.Context, db execer, table string, fp FingerprintRow) error {
	var missing *string
	if fp.MissingCode != "" {
		missing = &fp.MissingCode
	}
	_, err := db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (identity_id, national_id, national_id_hash, position, kind, sample, missing_code, template_version, template_type, quality)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (identity_id, position, kind) DO UPDATE
		 SET national_id = EXCLUDED.national_id, national_id_hash = EXCLUDED.national_id_hash, sample = EXCLUDED.sample, missing_code = EXCLUDED.missing_code,
		     template_version = EXCLUDED.template_version, template_type = EXCLUDED.template_type, quality = EXCLUDED.quality`,
			pgx.Identifier{table}.Sanitize()),
		fp.IdentityID, fp.NationalID, fp.NationalIDHash, fp.Position, string(fp.Kind), fp.Sample, missing,
		fp.TemplateVersion, fp.TemplateType, fp.Quality)
	return err
}

// --- Verification events ---

func (s *PostgresStore) CreateVerificationEvent(ctx context.Context, ev *models.VerificationEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_events (id, type, backend, position, sample_kind, outcome, candidate_id, score, probe_hash, seen_count, timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Type, ev.Backend, ev.Position, ev.SampleKind, ev.Outcome,
		ev.CandidateID, ev.Score, ev.ProbeHash, ev.SeenCount, ev.Timestamp, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create verification event: %w", err)
	}
	return nil
}

// EventFilter narrows an audit query. Zero fields are ignored.
type EventFilter struct {
	Backend string
	Outcome string
	Type    models.EventType
	From    *time.Time
	To      *time.Time
}

func (s *PostgresStore) QueryVerificationEvents(ctx context.Context, f EventFilter, limit, offset int) ([]models.VerificationEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE TRUE"
	var args []interface{}
	argIdx := 1

	if f.Backend != "" {
		baseWhere += fmt.Sprintf(" AND backend = $%d", argIdx)
		args = append(args, f.Backend)
		argIdx++
	}
	if f.Outcome != "" {
		baseWhere += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, f.Outcome)
		argIdx++
	}
	if f.Type != "" {
		baseWhere += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}
	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verification_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count verification events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, type, backend, position, sample_kind, outcome, candidate_id, score, probe_hash, seen_count, timestamp, created_at
		 FROM verification_events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query verification events: %w", err)
	}
	defer rows.Close()

	var events []models.VerificationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate verification events: %w", err)
	}
	return events, total, nil
}

// GetVerificationEvent returns a single event by ID.
func (s *PostgresStore) GetVerificationEvent(ctx context.Context, id uuid.UUID) (*models.VerificationEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, backend, position, sample_kind, outcome, candidate_id, score, probe_hash, seen_count, timestamp, created_at
		 FROM verification_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func scanEvent(row pgx.Row) (*models.VerificationEvent, error) {
	var ev models.VerificationEvent
	if err := row.Scan(&ev.ID, &ev.Type, &ev.Backend, &ev.Position, &ev.SampleKind, &ev.Outcome,
		&ev.CandidateID, &ev.Score, &ev.ProbeHash, &ev.SeenCount, &ev.Timestamp, &ev.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan verification event: %w", err)
	}
	return &ev, nil
}
