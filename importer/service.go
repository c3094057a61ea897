// Package importer runs a user's archive import from upload to finished profile and keeps the
// job's status row current along the way.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/cadence"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
	"github.com/theimaginaryfoundation/soulprint/store"
)

// ErrNoUserMessages is returned when an archive parses but holds nothing the user wrote.
var ErrNoUserMessages = errors.New("archive has no user messages")

// ProgressSink receives every status update. Its errors are logged and otherwise ignored.
type ProgressSink interface {
	PublishProgress(ctx context.Context, job store.ImportJob) error
}

// Source is one uploaded archive.
type Source struct {
	// Path is a conversations.json file or a ZIP export holding one.
	Path string
	// Size is the upload size in bytes. Zero means stat Path.
	Size int64
	// Name is the user's display name, when known.
	Name string
	// Curve is an optional speech curve whose voice values win over text-derived ones.
	Curve *cadence.Curve
}

// Result summarizes a finished (or failed) run.
type Result struct {
	Job      store.ImportJob
	Stats    archive.ParseStats
	Threads  int
	Messages int
	Chunks   int
	Profile  store.Profile
}

// Service runs imports. Only Store is required.
type Service struct {
	Store store.Store
	// Synth drafts the full profile and its sections. Nil means template only.
	Synth *soulprint.Synthesizer
	// Scorer scores the final sections. Nil leaves them unscored for the refinement run.
	Scorer quality.Scorer
	// Decider picks chunk breakpoints. Nil splits every TargetTurnsPerChunk turns.
	Decider archive.BreakpointDecider

	TargetTurnsPerChunk int   // default 20
	ExtractionThreshold int64 // default DefaultExtractionThreshold

	Sink   ProgressSink
	Logger *zap.Logger
}

func (s *Service) withDefaults() Service {
	cp := *s
	if cp.Logger == nil {
		cp.Logger = zap.NewNop()
	}
	if cp.Synth == nil {
		cp.Synth = &soulprint.Synthesizer{Logger: cp.Logger}
	}
	if cp.TargetTurnsPerChunk <= 0 {
		cp.TargetTurnsPerChunk = 20
	}
	if cp.ExtractionThreshold <= 0 {
		cp.ExtractionThreshold = DefaultExtractionThreshold
	}
	return cp
}

// Begin resets the user's job to queued and returns it. Servers call it before handing the
// upload to a background Run so the first poll already sees the new job.
func (s *Service) Begin(ctx context.Context, userID string, src Source) (store.ImportJob, error) {
	if s.Store == nil {
		return store.ImportJob{}, errors.New("Service.Begin: store is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.ImportJob{}, errors.New("Service.Begin: user id is required")
	}
	cfg := s.withDefaults()

	size := src.Size
	if size <= 0 && src.Path != "" {
		if fi, err := os.Stat(src.Path); err == nil {
			size = fi.Size()
		}
	}
	job, err := cfg.Store.StartImport(ctx, userID, string(ChooseExtractionPath(size, cfg.ExtractionThreshold)))
	if err != nil {
		return store.ImportJob{}, fmt.Errorf("Service.Begin: %w", err)
	}
	cfg.publish(ctx, job)
	return job, nil
}

// Run starts a fresh job for userID and drives it to complete or failed. A failed job keeps its
// last progress and carries a human-readable import_error; running again starts over.
func (s *Service) Run(ctx context.Context, userID string, src Source) (Result, error) {
	job, err := s.Begin(ctx, userID, src)
	if err != nil {
		return Result{}, err
	}
	return s.Continue(ctx, job, src)
}

// Continue drives a job returned by Begin.
func (s *Service) Continue(ctx context.Context, job store.ImportJob, src Source) (Result, error) {
	cfg := s.withDefaults()
	r := &run{
		svc: cfg,
		log: cfg.Logger.With(zap.String("user_id", job.UserID), zap.String("job_id", job.ID)),
		res: Result{Job: job},
	}

	if err := r.execute(ctx, src); err != nil {
		if errors.Is(err, store.ErrJobSuperseded) {
			// A retry owns the row now; leave its status alone.
			r.log.Info("import superseded", zap.String("stage", r.stage))
			return r.res, fmt.Errorf("importer.Run: %s: %w", r.stage, err)
		}
		r.fail(ctx, err)
		return r.res, fmt.Errorf("importer.Run: %s: %w", r.stage, err)
	}
	r.log.Info("import complete",
		zap.Int("threads", r.res.Threads),
		zap.Int("messages", r.res.Messages),
		zap.Int("chunks", r.res.Chunks),
		zap.Int("dropped", r.res.Stats.Dropped()))
	return r.res, nil
}

type run struct {
	svc   Service
	log   *zap.Logger
	stage string
	res   Result
}

func (r *run) execute(ctx context.Context, src Source) error {
	if src.Path == "" {
		r.stage = StageParsing
		return errors.New("archive path is empty")
	}

	if err := r.advance(ctx, store.ImportProcessing, StageParsing, progressParsing); err != nil {
		return err
	}
	var threads []archive.ConversationThread
	stats, err := archive.StreamArchiveFile(ctx, src.Path, archive.ParseOptions{}, func(t archive.ConversationThread) error {
		threads = append(threads, t)
		return nil
	})
	if err != nil {
		return err
	}
	msgs := archive.Flatten(threads)
	r.res.Stats = stats
	r.res.Threads = len(threads)
	r.res.Messages = len(msgs)
	if len(archive.UserMessages(msgs)) == 0 {
		return ErrNoUserMessages
	}

	if err := r.advance(ctx, store.ImportProcessing, StageChunking, progressChunking); err != nil {
		return err
	}
	var chunks []archive.Chunk
	for _, t := range threads {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs, err := archive.ChunkThread(ctx, t, r.svc.Decider, r.svc.TargetTurnsPerChunk)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", t.ThreadID, err)
		}
		chunks = append(chunks, cs...)
	}
	if err := r.ensureCurrent(ctx); err != nil {
		return err
	}
	if err := r.svc.Store.SaveChunks(ctx, r.res.Job.UserID, chunks); err != nil {
		return err
	}
	r.res.Chunks = len(chunks)

	// The quick profile is template-only so the user has something while the model runs.
	r.stage = StageQuickProfile
	in := soulprint.SynthesisInput{UserID: r.res.Job.UserID, Name: src.Name, Messages: msgs, Curve: src.Curve}
	quick := soulprint.QuickProfile(in)
	quickSections, err := (&soulprint.Synthesizer{Logger: r.log}).DraftSections(ctx, quick, chunks)
	if err != nil {
		return err
	}
	if err := r.saveProfile(ctx, quick, quickSections, nil); err != nil {
		return err
	}
	if err := r.advance(ctx, store.ImportQuickReady, StageQuickProfile, progressQuickReady); err != nil {
		return err
	}

	if err := r.advance(ctx, store.ImportQuickReady, StageSynthesizing, progressSynthesizing); err != nil {
		return err
	}
	sp, err := r.svc.Synth.Synthesize(ctx, in)
	if err != nil {
		return err
	}

	if err := r.advance(ctx, store.ImportQuickReady, StageSections, progressSections); err != nil {
		return err
	}
	sections, err := r.svc.Synth.DraftSections(ctx, sp, chunks)
	if err != nil {
		return err
	}
	var scores quality.Breakdown
	if r.svc.Scorer != nil {
		scores, err = quality.CalculateBreakdown(ctx, r.svc.Scorer, sections)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Unscored profiles are picked up by the next refinement run.
			r.log.Warn("initial section scoring failed", zap.Error(err))
			scores = nil
		}
	}
	if err := r.saveProfile(ctx, sp, sections, scores); err != nil {
		return err
	}

	return r.advance(ctx, store.ImportComplete, StageComplete, progressComplete)
}

func (r *run) saveProfile(ctx context.Context, sp soulprint.SoulPrint, sections map[quality.Section]string, scores quality.Breakdown) error {
	if err := r.ensureCurrent(ctx); err != nil {
		return err
	}
	raw, err := soulprint.Encode(sp)
	if err != nil {
		return err
	}
	saved, err := r.svc.Store.SaveProfile(ctx, store.Profile{
		UserID:    r.res.Job.UserID,
		SoulPrint: raw,
		Sections:  sections,
		Quality:   scores,
	})
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	r.res.Profile = saved
	return nil
}

func (r *run) advance(ctx context.Context, status store.ImportStatus, stage string, progress int) error {
	r.stage = stage
	job, err := r.svc.Store.UpdateImport(ctx, r.res.Job.UserID, store.ImportUpdate{JobID: r.res.Job.ID, Status: status, Stage: stage, Progress: progress})
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	r.res.Job = job
	r.log.Debug("import stage", zap.String("stage", stage), zap.Int("progress_percent", job.ProgressPercent))
	r.svc.publish(ctx, job)
	return nil
}

// ensureCurrent stops a worker whose job was replaced by a retry before it overwrites the
// retry's chunks or profile.
func (r *run) ensureCurrent(ctx context.Context) error {
	job, err := r.svc.Store.GetImport(ctx, r.res.Job.UserID)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if job.ID != r.res.Job.ID {
		return fmt.Errorf("job %s replaced by %s: %w", r.res.Job.ID, job.ID, store.ErrJobSuperseded)
	}
	return nil
}

// fail records the failure even when ctx is already canceled.
func (r *run) fail(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := FailureMessage(r.stage, cause)
	r.log.Warn("import failed", zap.String("stage", r.stage), zap.Error(cause))

	job, err := r.svc.Store.UpdateImport(ctx, r.res.Job.UserID, store.ImportUpdate{JobID: r.res.Job.ID, Status: store.ImportFailed, Stage: r.stage, Error: msg})
	if errors.Is(err, store.ErrJobSuperseded) {
		r.log.Info("failed import was already replaced", zap.Error(err))
		r.res.Job.Status = store.ImportFailed
		r.res.Job.Error = msg
		return
	}
	if err != nil {
		r.log.Error("record import failure", zap.Error(err))
		r.res.Job.Status = store.ImportFailed
		r.res.Job.Error = msg
		return
	}
	r.res.Job = job
	r.svc.publish(ctx, job)
}

func (s Service) publish(ctx context.Context, job store.ImportJob) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.PublishProgress(ctx, job); err != nil {
		s.Logger.Warn("publish import progress", zap.String("user_id", job.UserID), zap.Error(err))
	}
}

// FailureMessage turns a pipeline error into the import_error shown to the user.
func FailureMessage(stage string, err error) string {
	switch {
	case errors.Is(err, archive.ErrMalformedArchive):
		return "We couldn't read your archive. Please export your data again and re-upload it."
	case errors.Is(err, archive.ErrConversationsNotFound):
		return "Your archive doesn't contain a conversations.json file."
	case errors.Is(err, ErrNoUserMessages):
		return "We couldn't find any messages from you in this archive."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The import was interrupted. Please try again."
	}
	switch stage {
	case StageParsing:
		return "We couldn't open your archive. Please try uploading it again."
	case StageChunking:
		return "Something went wrong while organizing your conversations. Please try again."
	case StageQuickProfile, StageSynthesizing:
		return "Something went wrong while building your profile. Please try again."
	case StageSections:
		return "Something went wrong while writing your profile documents. Please try again."
	default:
		return "The import failed. Please try again."
	}
}
