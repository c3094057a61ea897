package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/archive"
)

// ErrRevisionConflict is returned by a store when a row changed between read and write.
var ErrRevisionConflict = errors.New("profile revision conflict")

// ReasonNoData is reported for profiles whose source conversations are gone.
const ReasonNoData = "no data available"

// Result statuses.
const (
	StatusHealthy = "healthy"
	StatusRefined = "refined"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Candidate is the slice of a stored profile the scheduler works with.
type Candidate struct {
	UserID    string
	SoulPrint json.RawMessage
	Sections  map[Section]string
	Quality   Breakdown
	Revision  int64
}

// Store is the persistence the scheduler needs. Writes are guarded by the revision read with the
// candidate and return the new revision.
type Store interface {
	ListUnscored(ctx context.Context, limit int) ([]Candidate, error)
	ListBelowThreshold(ctx context.Context, threshold int, limit int) ([]Candidate, error)
	SaveQuality(ctx context.Context, userID string, b Breakdown, revision int64) (int64, error)
	// SaveSections merges sections and their scores into the row, leaving every other section untouched.
	SaveSections(ctx context.Context, userID string, sections map[Section]string, scores Breakdown, revision int64) (int64, error)
}

// ChunkSource loads the conversation chunks a profile was built from.
type ChunkSource interface {
	LoadChunks(ctx context.Context, userID string) ([]archive.Chunk, error)
}

// Drafter regenerates candidate content for every section of a profile.
type Drafter interface {
	DraftSections(ctx context.Context, c Candidate, chunks []archive.Chunk) (map[Section]string, error)
}

// ProfileResult is the outcome for one profile in a run.
type ProfileResult struct {
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	InitialScored   bool      `json:"initial_scored,omitempty"`
	FlaggedSections []Section `json:"flagged_sections,omitempty"`
	RefinedSections []Section `json:"refined_sections,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// RunError ties an error message to the profile (or query) that produced it.
type RunError struct {
	UserID string `json:"user_id,omitempty"`
	Error  string `json:"error"`
}

// RunResult is the cron response body.
type RunResult struct {
	ProfilesChecked int             `json:"profiles_checked"`
	SectionsRefined int             `json:"sections_refined"`
	Results         []ProfileResult `json:"results"`
	Errors          []RunError      `json:"errors"`
}

// Scheduler selects a bounded batch of profiles and refines their weak sections.
type Scheduler struct {
	Store   Store
	Chunks  ChunkSource
	Drafter Drafter
	Scorer  Scorer

	// Threshold defaults to DefaultThreshold.
	Threshold int
	// UnscoredLimit and LowLimit bound each selection query (default 5 each).
	UnscoredLimit int
	LowLimit      int
	// MaxProfiles caps the combined batch (default 10).
	MaxProfiles int

	Logger *zap.Logger
}

func (s *Scheduler) withDefaults() Scheduler {
	cp := *s
	if cp.Threshold <= 0 {
		cp.Threshold = DefaultThreshold
	}
	if cp.UnscoredLimit <= 0 {
		cp.UnscoredLimit = 5
	}
	if cp.LowLimit <= 0 {
		cp.LowLimit = 5
	}
	if cp.MaxProfiles <= 0 {
		cp.MaxProfiles = 10
	}
	if cp.Logger == nil {
		cp.Logger = zap.NewNop()
	}
	return cp
}

// Run processes one batch. Failures are recorded per profile and never stop the rest of the batch;
// the returned error is reserved for misconfiguration and cancellation.
func (s *Scheduler) Run(ctx context.Context) (RunResult, error) {
	if s.Store == nil || s.Chunks == nil || s.Drafter == nil || s.Scorer == nil {
		return RunResult{}, errors.New("Scheduler.Run: store, chunks, drafter and scorer are required")
	}
	cfg := s.withDefaults()
	log := cfg.Logger

	res := RunResult{Results: []ProfileResult{}, Errors: []RunError{}}

	unscored, err := cfg.Store.ListUnscored(ctx, cfg.UnscoredLimit)
	if err != nil {
		log.Warn("list unscored profiles failed", zap.Error(err))
		res.Errors = append(res.Errors, RunError{Error: fmt.Sprintf("list unscored: %v", err)})
	}
	low, err := cfg.Store.ListBelowThreshold(ctx, cfg.Threshold, cfg.LowLimit)
	if err != nil {
		log.Warn("list low-quality profiles failed", zap.Error(err))
		res.Errors = append(res.Errors, RunError{Error: fmt.Sprintf("list below threshold: %v", err)})
	}

	batch := selectBatch(unscored, low, cfg.UnscoredLimit, cfg.LowLimit, cfg.MaxProfiles)
	for _, c := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pr, refined := cfg.refine(ctx, c)
		res.ProfilesChecked++
		res.SectionsRefined += refined
		res.Results = append(res.Results, pr)
		if pr.Status == StatusFailed {
			res.Errors = append(res.Errors, RunError{UserID: pr.UserID, Error: pr.Error})
		}
	}

	log.Info("quality refinement run finished",
		zap.Int("profiles_checked", res.ProfilesChecked),
		zap.Int("sections_refined", res.SectionsRefined),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// selectBatch concatenates both queries (each trimmed to its own limit), drops repeated users and caps the total.
func selectBatch(unscored, low []Candidate, unscoredLimit, lowLimit, max int) []Candidate {
	if len(unscored) > unscoredLimit {
		unscored = unscored[:unscoredLimit]
	}
	if len(low) > lowLimit {
		low = low[:lowLimit]
	}

	seen := make(map[string]struct{}, len(unscored)+len(low))
	out := make([]Candidate, 0, len(unscored)+len(low))
	for _, list := range [][]Candidate{unscored, low} {
		for _, c := range list {
			if c.UserID == "" {
				continue
			}
			if _, ok := seen[c.UserID]; ok {
				continue
			}
			seen[c.UserID] = struct{}{}
			out = append(out, c)
			if len(out) == max {
				return out
			}
		}
	}
	return out
}

func (s Scheduler) refine(ctx context.Context, c Candidate) (ProfileResult, int) {
	log := s.Logger.With(zap.String("user_id", c.UserID))
	pr := ProfileResult{UserID: c.UserID}
	fail := func(op string, err error) (ProfileResult, int) {
		log.Warn("quality refinement failed", zap.String("op", op), zap.Error(err))
		pr.Status = StatusFailed
		pr.Error = fmt.Sprintf("%s: %v", op, err)
		return pr, 0
	}

	if c.Quality == nil {
		b, err := CalculateBreakdown(ctx, s.Scorer, c.Sections)
		if err != nil {
			return fail("initial score", err)
		}
		rev, err := s.Store.SaveQuality(ctx, c.UserID, b, c.Revision)
		if err != nil {
			return fail("save initial score", err)
		}
		c.Quality = b
		c.Revision = rev
		pr.InitialScored = true
	}

	flagged := c.Quality.LowSections(s.Threshold)
	pr.FlaggedSections = flagged
	if len(flagged) == 0 {
		pr.Status = StatusHealthy
		return pr, 0
	}

	chunks, err := s.Chunks.LoadChunks(ctx, c.UserID)
	if err != nil {
		return fail("load chunks", err)
	}
	if len(chunks) == 0 {
		pr.Status = StatusSkipped
		pr.Reason = ReasonNoData
		return pr, 0
	}

	drafts, err := s.Drafter.DraftSections(ctx, c, chunks)
	if err != nil {
		return fail("draft sections", err)
	}

	adopted := make(map[Section]string, len(flagged))
	scores := make(Breakdown, len(flagged))
	for _, sec := range flagged {
		content := drafts[sec]
		if content == "" {
			continue
		}
		sc, err := s.Scorer.ScoreSection(ctx, sec, content)
		if err != nil {
			return fail("rescore "+string(sec), err)
		}
		adopted[sec] = content
		scores[sec] = sc.Clamp()
		pr.RefinedSections = append(pr.RefinedSections, sec)
	}
	if len(adopted) == 0 {
		pr.Status = StatusSkipped
		pr.Reason = "no draft content for flagged sections"
		return pr, 0
	}

	if _, err := s.Store.SaveSections(ctx, c.UserID, adopted, scores, c.Revision); err != nil {
		pr.RefinedSections = nil
		return fail("save sections", err)
	}

	log.Info("profile sections refined", zap.Int("sections", len(adopted)))
	pr.Status = StatusRefined
	return pr, len(adopted)
}
