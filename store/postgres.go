package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/migrate"
	"github.com/theimaginaryfoundation/soulprint/quality"
)

// Postgres is the production Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS soulprint_profiles (
			user_id TEXT PRIMARY KEY,
			soulprint JSONB NOT NULL DEFAULT '{}'::jsonb,
			sections JSONB NOT NULL DEFAULT '{}'::jsonb,
			quality_breakdown JSONB,
			revision BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_soulprint_profiles_updated ON soulprint_profiles(updated_at);`,
		`CREATE TABLE IF NOT EXISTS conversation_chunks (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			chunk_number INT NOT NULL,
			chunk JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_chunks_user ON conversation_chunks(user_id, id);`,
		`CREATE TABLE IF NOT EXISTS import_jobs (
			user_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			import_status TEXT NOT NULL DEFAULT 'queued',
			import_stage TEXT NOT NULL DEFAULT '',
			progress_percent INT NOT NULL DEFAULT 0,
			import_error TEXT NOT NULL DEFAULT '',
			extraction_path TEXT NOT NULL DEFAULT '',
			processing_started_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("Postgres.Migrate: %w", err)
		}
	}
	return nil
}

const profileColumns = `user_id, soulprint, sections, quality_breakdown, revision, created_at, updated_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p        Profile
		raw      []byte
		sections []byte
		qb       []byte
	)
	if err := row.Scan(&p.UserID, &raw, &sections, &qb, &p.Revision, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	p.SoulPrint = json.RawMessage(raw)
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &p.Sections); err != nil {
			return Profile{}, fmt.Errorf("decode sections: %w", err)
		}
	}
	if len(qb) > 0 {
		if err := json.Unmarshal(qb, &p.Quality); err != nil {
			return Profile{}, fmt.Errorf("decode quality breakdown: %w", err)
		}
	}
	return p, nil
}

func (s *Postgres) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM soulprint_profiles WHERE user_id=$1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("GetProfile: %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("GetProfile: %w", err)
	}
	return p, nil
}

func (s *Postgres) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	if p.UserID == "" {
		return Profile{}, errors.New("SaveProfile: user id is required")
	}
	sections, err := json.Marshal(nonNilSections(p.Sections))
	if err != nil {
		return Profile{}, fmt.Errorf("SaveProfile: encode sections: %w", err)
	}
	qb, err := breakdownParam(p.Quality)
	if err != nil {
		return Profile{}, fmt.Errorf("SaveProfile: %w", err)
	}

	out, err := scanProfile(s.pool.QueryRow(ctx, `
		INSERT INTO soulprint_profiles (user_id, soulprint, sections, quality_breakdown)
		VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb)
		ON CONFLICT (user_id) DO UPDATE SET
			soulprint = EXCLUDED.soulprint,
			sections = EXCLUDED.sections,
			quality_breakdown = EXCLUDED.quality_breakdown,
			revision = soulprint_profiles.revision + 1,
			updated_at = NOW()
		RETURNING `+profileColumns,
		p.UserID, []byte(p.SoulPrint), sections, qb))
	if err != nil {
		return Profile{}, fmt.Errorf("SaveProfile: %w", err)
	}
	return out, nil
}

func (s *Postgres) ListUnscored(ctx context.Context, limit int) ([]quality.Candidate, error) {
	return s.listCandidates(ctx, `
		SELECT `+profileColumns+`
		FROM soulprint_profiles
		WHERE quality_breakdown IS NULL
		ORDER BY updated_at, user_id
		LIMIT $1
	`, limit)
}

func (s *Postgres) ListBelowThreshold(ctx context.Context, threshold int, limit int) ([]quality.Candidate, error) {
	return s.listCandidates(ctx, `
		SELECT `+profileColumns+`
		FROM soulprint_profiles p
		WHERE p.quality_breakdown IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM jsonb_each(p.quality_breakdown) AS q(section, scores)
			WHERE COALESCE((q.scores->>'completeness')::int, 0) < $2
			   OR COALESCE((q.scores->>'coherence')::int, 0) < $2
			   OR COALESCE((q.scores->>'specificity')::int, 0) < $2
		  )
		ORDER BY p.updated_at, p.user_id
		LIMIT $1
	`, limit, threshold)
}

func (s *Postgres) listCandidates(ctx context.Context, query string, args ...any) ([]quality.Candidate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []quality.Candidate
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		out = append(out, p.candidate())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

func (s *Postgres) SaveQuality(ctx context.Context, userID string, b quality.Breakdown, revision int64) (int64, error) {
	qb, err := breakdownParam(b)
	if err != nil {
		return 0, fmt.Errorf("SaveQuality: %w", err)
	}
	return s.guardedUpdate(ctx, userID, revision, `
		UPDATE soulprint_profiles
		SET quality_breakdown = $3::jsonb, revision = revision + 1, updated_at = NOW()
		WHERE user_id=$1 AND revision=$2
		RETURNING revision
	`, qb)
}

func (s *Postgres) SaveSections(ctx context.Context, userID string, sections map[quality.Section]string, scores quality.Breakdown, revision int64) (int64, error) {
	sec, err := json.Marshal(nonNilSections(sections))
	if err != nil {
		return 0, fmt.Errorf("SaveSections: encode sections: %w", err)
	}
	sc, err := json.Marshal(scores)
	if err != nil {
		return 0, fmt.Errorf("SaveSections: encode scores: %w", err)
	}
	// jsonb || replaces only the keys present on the right.
	return s.guardedUpdate(ctx, userID, revision, `
		UPDATE soulprint_profiles
		SET sections = sections || $3::jsonb,
			quality_breakdown = COALESCE(quality_breakdown, '{}'::jsonb) || $4::jsonb,
			revision = revision + 1,
			updated_at = NOW()
		WHERE user_id=$1 AND revision=$2
		RETURNING revision
	`, sec, sc)
}

func (s *Postgres) ListSoulPrints(ctx context.Context, afterUserID string, limit int) ([]migrate.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, soulprint, revision
		FROM soulprint_profiles
		WHERE user_id > $1
		ORDER BY user_id
		LIMIT $2
	`, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSoulPrints: %w", err)
	}
	defer rows.Close()

	var out []migrate.Record
	for rows.Next() {
		var (
			rec migrate.Record
			raw []byte
		)
		if err := rows.Scan(&rec.UserID, &raw, &rec.Revision); err != nil {
			return nil, fmt.Errorf("ListSoulPrints: %w", err)
		}
		rec.SoulPrint = json.RawMessage(raw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSoulPrints: %w", err)
	}
	return out, nil
}

func (s *Postgres) SaveSoulPrint(ctx context.Context, userID string, raw json.RawMessage, revision int64) (int64, error) {
	return s.guardedUpdate(ctx, userID, revision, `
		UPDATE soulprint_profiles
		SET soulprint = $3::jsonb, revision = revision + 1, updated_at = NOW()
		WHERE user_id=$1 AND revision=$2
		RETURNING revision
	`, []byte(raw))
}

// guardedUpdate runs an UPDATE ... WHERE revision=$2 RETURNING revision and tells a missing row
// apart from a stale revision.
func (s *Postgres) guardedUpdate(ctx context.Context, userID string, revision int64, query string, args ...any) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, query, append([]any{userID, revision}, args...)...).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update profile %s: %w", userID, err)
	}

	var stored int64
	err = s.pool.QueryRow(ctx, `SELECT revision FROM soulprint_profiles WHERE user_id=$1`, userID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("update profile %s: %w", userID, err)
	}
	return 0, fmt.Errorf("update profile %s: have revision %d, stored %d: %w", userID, revision, stored, ErrRevisionConflict)
}

// SaveChunks replaces the user's stored chunks.
func (s *Postgres) SaveChunks(ctx context.Context, userID string, chunks []archive.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("SaveChunks: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_chunks WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("SaveChunks: clear: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("SaveChunks: encode chunk %s/%d: %w", c.ThreadID, c.ChunkNumber, err)
		}
		batch.Queue(`
			INSERT INTO conversation_chunks (user_id, thread_id, chunk_number, chunk)
			VALUES ($1, $2, $3, $4::jsonb)
		`, userID, c.ThreadID, c.ChunkNumber, b)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("SaveChunks: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("SaveChunks: commit: %w", err)
	}
	return nil
}

func (s *Postgres) LoadChunks(ctx context.Context, userID string) ([]archive.Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT chunk FROM conversation_chunks WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("LoadChunks: %w", err)
	}
	defer rows.Close()

	var out []archive.Chunk
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("LoadChunks: %w", err)
		}
		var c archive.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("LoadChunks: decode chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadChunks: %w", err)
	}
	return out, nil
}

const importColumns = `job_id, user_id, import_status, import_stage, progress_percent, import_error, extraction_path, processing_started_at, updated_at`

func scanImport(row pgx.Row) (ImportJob, error) {
	var (
		job     ImportJob
		status  string
		started *time.Time
	)
	if err := row.Scan(&job.ID, &job.UserID, &status, &job.Stage, &job.ProgressPercent, &job.Error, &job.ExtractionPath, &started, &job.UpdatedAt); err != nil {
		return ImportJob{}, err
	}
	job.Status = ImportStatus(status)
	if started != nil {
		job.ProcessingStartedAt = *started
	}
	return job, nil
}

func (s *Postgres) StartImport(ctx context.Context, userID, extractionPath string) (ImportJob, error) {
	job, err := scanImport(s.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (user_id, job_id, import_status, import_stage, progress_percent, import_error, extraction_path, processing_started_at, updated_at)
		VALUES ($1, $2, 'queued', 'queued', 0, '', $3, NULL, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			import_status = EXCLUDED.import_status,
			import_stage = EXCLUDED.import_stage,
			progress_percent = 0,
			import_error = '',
			extraction_path = EXCLUDED.extraction_path,
			processing_started_at = NULL,
			updated_at = NOW()
		RETURNING `+importColumns,
		userID, uuid.NewString(), extractionPath))
	if err != nil {
		return ImportJob{}, fmt.Errorf("StartImport: %w", err)
	}
	return job, nil
}

// UpdateImport applies the transition under a row lock so concurrent updates cannot move progress backwards.
func (s *Postgres) UpdateImport(ctx context.Context, userID string, upd ImportUpdate) (ImportJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ImportJob{}, fmt.Errorf("UpdateImport: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanImport(tx.QueryRow(ctx, `SELECT `+importColumns+` FROM import_jobs WHERE user_id=$1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportJob{}, fmt.Errorf("UpdateImport: %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return ImportJob{}, fmt.Errorf("UpdateImport: %w", err)
	}
	if err := checkJob(job, upd); err != nil {
		return ImportJob{}, err
	}

	job = applyImportUpdate(job, upd, time.Now().UTC())
	var started *time.Time
	if !job.ProcessingStartedAt.IsZero() {
		started = &job.ProcessingStartedAt
	}
	if _, err := tx.Exec(ctx, `
		UPDATE import_jobs
		SET import_status=$2, import_stage=$3, progress_percent=$4, import_error=$5, processing_started_at=$6, updated_at=$7
		WHERE user_id=$1
	`, userID, string(job.Status), job.Stage, job.ProgressPercent, job.Error, started, job.UpdatedAt); err != nil {
		return ImportJob{}, fmt.Errorf("UpdateImport: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ImportJob{}, fmt.Errorf("UpdateImport: commit: %w", err)
	}
	return job, nil
}

func (s *Postgres) GetImport(ctx context.Context, userID string) (ImportJob, error) {
	job, err := scanImport(s.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM import_jobs WHERE user_id=$1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportJob{}, fmt.Errorf("GetImport: %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return ImportJob{}, fmt.Errorf("GetImport: %w", err)
	}
	return job, nil
}

func breakdownParam(b quality.Breakdown) (any, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode quality breakdown: %w", err)
	}
	return raw, nil
}

func nonNilSections(in map[quality.Section]string) map[quality.Section]string {
	if in == nil {
		return map[quality.Section]string{}
	}
	return in
}
