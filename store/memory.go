package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/migrate"
	"github.com/theimaginaryfoundation/soulprint/quality"
)

// Memory is an in-process Store for tests and single-node runs.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]Profile
	chunks   map[string][]archive.Chunk
	imports  map[string]ImportJob

	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		chunks:   make(map[string][]archive.Chunk),
		imports:  make(map[string]ImportJob),
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("GetProfile: %s: %w", userID, ErrNotFound)
	}
	return cloneProfile(p), nil
}

func (m *Memory) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	if p.UserID == "" {
		return Profile{}, errors.New("SaveProfile: user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	prev, ok := m.profiles[p.UserID]
	p = cloneProfile(p)
	p.CreatedAt = now
	p.Revision = 1
	if ok {
		p.CreatedAt = prev.CreatedAt
		p.Revision = prev.Revision + 1
	}
	p.UpdatedAt = now
	m.profiles[p.UserID] = p
	return cloneProfile(p), nil
}

// ListUnscored returns profiles that were never scored, least recently updated first.
func (m *Memory) ListUnscored(ctx context.Context, limit int) ([]quality.Candidate, error) {
	return m.listCandidates(ctx, limit, func(p Profile) bool { return p.Quality == nil })
}

// ListBelowThreshold returns scored profiles with at least one low section, least recently updated first.
func (m *Memory) ListBelowThreshold(ctx context.Context, threshold int, limit int) ([]quality.Candidate, error) {
	return m.listCandidates(ctx, limit, func(p Profile) bool { return p.Quality != nil && p.Quality.IsLow(threshold) })
}

func (m *Memory) listCandidates(ctx context.Context, limit int, keep func(Profile) bool) ([]quality.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []Profile
	for _, p := range m.profiles {
		if keep(p) {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]quality.Candidate, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.candidate())
	}
	return out, nil
}

func (m *Memory) SaveQuality(ctx context.Context, userID string, b quality.Breakdown, revision int64) (int64, error) {
	return m.guardedUpdate(ctx, userID, revision, func(p *Profile) {
		p.Quality = b.Clone()
	})
}

func (m *Memory) SaveSections(ctx context.Context, userID string, sections map[quality.Section]string, scores quality.Breakdown, revision int64) (int64, error) {
	return m.guardedUpdate(ctx, userID, revision, func(p *Profile) {
		if p.Sections == nil {
			p.Sections = make(map[quality.Section]string, len(sections))
		}
		for k, v := range sections {
			p.Sections[k] = v
		}
		if p.Quality == nil {
			p.Quality = make(quality.Breakdown, len(scores))
		}
		for k, v := range scores {
			p.Quality[k] = v
		}
	})
}

// ListSoulPrints pages through profiles in user id order.
func (m *Memory) ListSoulPrints(ctx context.Context, afterUserID string, limit int) ([]migrate.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]migrate.Record, 0, len(ids))
	for _, id := range ids {
		p := m.profiles[id]
		out = append(out, migrate.Record{
			UserID:    p.UserID,
			SoulPrint: append(json.RawMessage(nil), p.SoulPrint...),
			Revision:  p.Revision,
		})
	}
	return out, nil
}

func (m *Memory) SaveSoulPrint(ctx context.Context, userID string, raw json.RawMessage, revision int64) (int64, error) {
	return m.guardedUpdate(ctx, userID, revision, func(p *Profile) {
		p.SoulPrint = append(json.RawMessage(nil), raw...)
	})
}

func (m *Memory) guardedUpdate(ctx context.Context, userID string, revision int64, apply func(*Profile)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return 0, fmt.Errorf("update profile %s: %w", userID, ErrNotFound)
	}
	if p.Revision != revision {
		return 0, fmt.Errorf("update profile %s: have revision %d, stored %d: %w", userID, revision, p.Revision, ErrRevisionConflict)
	}
	apply(&p)
	p.Revision++
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return p.Revision, nil
}

func (m *Memory) SaveChunks(ctx context.Context, userID string, chunks []archive.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[userID] = append([]archive.Chunk(nil), chunks...)
	return nil
}

// LoadChunks returns nil without error when the user has no stored chunks.
func (m *Memory) LoadChunks(ctx context.Context, userID string) ([]archive.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]archive.Chunk(nil), m.chunks[userID]...), nil
}

func (m *Memory) StartImport(ctx context.Context, userID, extractionPath string) (ImportJob, error) {
	if err := ctx.Err(); err != nil {
		return ImportJob{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job := ImportJob{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         ImportQueued,
		Stage:          "queued",
		ExtractionPath: extractionPath,
		UpdatedAt:      m.now(),
	}
	m.imports[userID] = job
	return job, nil
}

func (m *Memory) UpdateImport(ctx context.Context, userID string, upd ImportUpdate) (ImportJob, error) {
	if err := ctx.Err(); err != nil {
		return ImportJob{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.imports[userID]
	if !ok {
		return ImportJob{}, fmt.Errorf("UpdateImport: %s: %w", userID, ErrNotFound)
	}
	if err := checkJob(job, upd); err != nil {
		return ImportJob{}, err
	}
	job = applyImportUpdate(job, upd, m.now())
	m.imports[userID] = job
	return job, nil
}

func (m *Memory) GetImport(ctx context.Context, userID string) (ImportJob, error) {
	if err := ctx.Err(); err != nil {
		return ImportJob{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.imports[userID]
	if !ok {
		return ImportJob{}, fmt.Errorf("GetImport: %s: %w", userID, ErrNotFound)
	}
	return job, nil
}

func cloneProfile(p Profile) Profile {
	p.SoulPrint = append(json.RawMessage(nil), p.SoulPrint...)
	if p.Sections != nil {
		p.Sections = cloneSections(p.Sections)
	}
	p.Quality = p.Quality.Clone()
	return p
}
