package importer

import (
	"time"

	"github.com/theimaginaryfoundation/soulprint/store"
)

// ExtractionPath records where the archive was unpacked.
type ExtractionPath string

const (
	ExtractionClient ExtractionPath = "client"
	ExtractionServer ExtractionPath = "server"
)

const (
	// DefaultExtractionThreshold is the archive size at which extraction moves server-side.
	DefaultExtractionThreshold int64 = 100 << 20
	// DefaultStaleAfter is how long a job may sit in processing before it is reported as failed.
	DefaultStaleAfter = 30 * time.Minute
)

// Stages, in the order a job passes through them.
const (
	StageQueued       = "queued"
	StageParsing      = "parsing"
	StageChunking     = "chunking"
	StageQuickProfile = "quick_profile"
	StageSynthesizing = "synthesizing"
	StageSections     = "sections"
	StageComplete     = "complete"
)

// Progress checkpoints reported at the start of each stage.
const (
	progressParsing      = 5
	progressChunking     = 30
	progressQuickReady   = 50
	progressSynthesizing = 70
	progressSections     = 90
	progressComplete     = 100
)

// StaleMessage is the import_error shown for an abandoned job.
const StaleMessage = "Import timed out before finishing. Please upload your archive again."

// ChooseExtractionPath picks server-side extraction for archives at or above threshold.
// A non-positive threshold means DefaultExtractionThreshold.
func ChooseExtractionPath(sizeBytes, threshold int64) ExtractionPath {
	if threshold <= 0 {
		threshold = DefaultExtractionThreshold
	}
	if sizeBytes >= threshold {
		return ExtractionServer
	}
	return ExtractionClient
}

// IsStale reports whether a non-terminal job has been running longer than staleAfter.
// Jobs that never started processing are measured from their last update.
func IsStale(job store.ImportJob, now time.Time, staleAfter time.Duration) bool {
	if job.Status.Terminal() || job.Status == "" {
		return false
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	since := job.ProcessingStartedAt
	if since.IsZero() {
		since = job.UpdatedAt
	}
	if since.IsZero() {
		return false
	}
	return now.Sub(since) > staleAfter
}

// Effective is the job as the status endpoint reports it: a stale job reads as failed with a
// retryable message. The stored row is not changed.
func Effective(job store.ImportJob, now time.Time, staleAfter time.Duration) store.ImportJob {
	if !IsStale(job, now, staleAfter) {
		return job
	}
	job.Status = store.ImportFailed
	job.Error = StaleMessage
	return job
}

// ProgressView is the polling client's guard: it never shows a lower percentage than it already
// showed for the same job, even if an older response arrives late.
type ProgressView struct {
	jobID   string
	percent int
}

// Observe folds a polled job into the view and returns it with a non-decreasing percentage.
// A different job id (a retried import) starts over.
func (v *ProgressView) Observe(job store.ImportJob) store.ImportJob {
	if job.ID != v.jobID {
		v.jobID = job.ID
		v.percent = 0
	}
	v.percent = store.MonotonicProgress(v.percent, job.ProgressPercent)
	job.ProgressPercent = v.percent
	return job
}

// Percent is the last percentage shown.
func (v *ProgressView) Percent() int {
	return v.percent
}
