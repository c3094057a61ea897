// Package store persists profiles, their conversation chunks and import job status.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/migrate"
	"github.com/theimaginaryfoundation/soulprint/quality"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrJobSuperseded is returned when an update names a job that a newer import has replaced.
	ErrJobSuperseded = errors.New("import job superseded")

	// ErrRevisionConflict is returned when a guarded write sees a newer revision than the caller read.
	ErrRevisionConflict = quality.ErrRevisionConflict
)

// Profile is one stored profile row. SoulPrint is kept exactly as stored and may be in an older shape.
type Profile struct {
	UserID    string                     `json:"user_id"`
	SoulPrint json.RawMessage            `json:"soulprint"`
	Sections  map[quality.Section]string `json:"sections"`
	Quality   quality.Breakdown          `json:"quality_breakdown"`
	Revision  int64                      `json:"revision"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func (p Profile) candidate() quality.Candidate {
	return quality.Candidate{
		UserID:    p.UserID,
		SoulPrint: append(json.RawMessage(nil), p.SoulPrint...),
		Sections:  cloneSections(p.Sections),
		Quality:   p.Quality.Clone(),
		Revision:  p.Revision,
	}
}

// ImportStatus is the lifecycle state of a user's import.
type ImportStatus string

const (
	ImportQueued     ImportStatus = "queued"
	ImportProcessing ImportStatus = "processing"
	ImportQuickReady ImportStatus = "quick_ready"
	ImportComplete   ImportStatus = "complete"
	ImportFailed     ImportStatus = "failed"
)

// Terminal reports whether no further progress is expected.
func (s ImportStatus) Terminal() bool {
	return s == ImportComplete || s == ImportFailed
}

// ImportJob is the status row polled by the client. There is at most one per user; a new import replaces it.
type ImportJob struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	Status              ImportStatus `json:"import_status"`
	Stage               string       `json:"import_stage"`
	ProgressPercent     int          `json:"progress_percent"`
	Error               string       `json:"import_error,omitempty"`
	ExtractionPath      string       `json:"extraction_path,omitempty"`
	ProcessingStartedAt time.Time    `json:"processing_started_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// ImportUpdate is a status transition. Progress never moves backwards; see MonotonicProgress.
// When JobID is set the update only applies while that job is still the user's current one.
type ImportUpdate struct {
	JobID    string
	Status   ImportStatus
	Stage    string
	Progress int
	Error    string
}

// MonotonicProgress clamps next into [0,100] and never returns less than prev.
func MonotonicProgress(prev, next int) int {
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	if next < prev {
		return prev
	}
	return next
}

// Store is everything the import pipeline, the refinement scheduler and the migrator need.
type Store interface {
	quality.Store
	quality.ChunkSource
	migrate.Store

	GetProfile(ctx context.Context, userID string) (Profile, error)
	// SaveProfile writes a whole profile unconditionally and bumps the revision.
	SaveProfile(ctx context.Context, p Profile) (Profile, error)
	SaveChunks(ctx context.Context, userID string, chunks []archive.Chunk) error

	// StartImport resets the user's job to queued with a fresh id.
	StartImport(ctx context.Context, userID, extractionPath string) (ImportJob, error)
	// UpdateImport returns ErrJobSuperseded when upd.JobID is no longer the current job.
	UpdateImport(ctx context.Context, userID string, upd ImportUpdate) (ImportJob, error)
	GetImport(ctx context.Context, userID string) (ImportJob, error)
}

func checkJob(job ImportJob, upd ImportUpdate) error {
	if upd.JobID != "" && upd.JobID != job.ID {
		return fmt.Errorf("UpdateImport: job %s replaced by %s: %w", upd.JobID, job.ID, ErrJobSuperseded)
	}
	return nil
}

// applyImportUpdate is the transition rule shared by every backend.
func applyImportUpdate(job ImportJob, upd ImportUpdate, now time.Time) ImportJob {
	job.Status = upd.Status
	if upd.Stage != "" {
		job.Stage = upd.Stage
	}
	job.ProgressPercent = MonotonicProgress(job.ProgressPercent, upd.Progress)
	job.Error = upd.Error
	if upd.Status == ImportProcessing && job.ProcessingStartedAt.IsZero() {
		job.ProcessingStartedAt = now
	}
	job.UpdatedAt = now
	return job
}

func cloneSections(in map[quality.Section]string) map[quality.Section]string {
	out := make(map[quality.Section]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
