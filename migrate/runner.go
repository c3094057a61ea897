package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

// Record is one stored profile as the migration sees it.
type Record struct {
	UserID    string
	SoulPrint json.RawMessage
	Revision  int64
}

// Store pages through stored profiles and writes migrated ones back.
// SaveSoulPrint must refuse the write when the stored revision no longer matches.
type Store interface {
	ListSoulPrints(ctx context.Context, afterUserID string, limit int) ([]Record, error)
	SaveSoulPrint(ctx context.Context, userID string, raw json.RawMessage, revision int64) (int64, error)
}

// RowError is a profile that could not be migrated.
type RowError struct {
	UserID string `json:"user_id"`
	Format Format `json:"format"`
	Error  string `json:"error"`
}

// Summary reports what one migration pass found and did.
type Summary struct {
	DryRun   bool           `json:"dry_run"`
	Scanned  int            `json:"scanned"`
	Formats  map[Format]int `json:"formats"`
	Migrated int            `json:"migrated"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Errors   []RowError     `json:"errors"`

	// StalePrompts counts partial rows that were current in shape and only had older prompts.
	StalePrompts int `json:"stale_prompts"`
}

// Print writes the summary as key=value lines.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "dry_run=%t\n", s.DryRun)
	fmt.Fprintf(w, "scanned=%d\n", s.Scanned)
	for _, f := range Formats() {
		fmt.Fprintf(w, "format_%s=%d\n", f, s.Formats[f])
	}
	fmt.Fprintf(w, "stale_prompts=%d\n", s.StalePrompts)
	fmt.Fprintf(w, "migrated=%d\n", s.Migrated)
	fmt.Fprintf(w, "skipped=%d\n", s.Skipped)
	fmt.Fprintf(w, "failed=%d\n", s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "error user_id=%s format=%s err=%s\n", e.UserID, e.Format, e.Error)
	}
}

// Runner migrates every stored profile to the current schema.
type Runner struct {
	Store Store

	// DryRun detects and normalizes but never writes.
	DryRun bool

	// PageSize defaults to 100.
	PageSize int

	Logger *zap.Logger
}

// Run scans all profiles once. Current-format rows are never rewritten. A failed row is recorded
// and the scan continues; the returned error is reserved for listing failures and cancellation.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.Store == nil {
		return Summary{}, errors.New("Runner.Run: store is required")
	}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	sum := Summary{DryRun: r.DryRun, Formats: make(map[Format]int, len(Formats())), Errors: []RowError{}}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		page, err := r.Store.ListSoulPrints(ctx, after, pageSize)
		if err != nil {
			return sum, fmt.Errorf("Runner.Run: list profiles after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			r.migrateOne(ctx, log, rec, &sum)
		}
		after = page[len(page)-1].UserID
		if len(page) < pageSize {
			break
		}
	}

	log.Info("profile migration finished",
		zap.Bool("dry_run", sum.DryRun),
		zap.Int("scanned", sum.Scanned),
		zap.Int("migrated", sum.Migrated),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

func (r *Runner) migrateOne(ctx context.Context, log *zap.Logger, rec Record, sum *Summary) {
	format := DetectFormat(rec.SoulPrint)
	sum.Scanned++
	sum.Formats[format]++
	if format == FormatCurrent {
		sum.Skipped++
		return
	}
	if format == FormatPartial && StalePrompt(rec.SoulPrint) {
		sum.StalePrompts++
	}

	fail := func(err error) {
		sum.Failed++
		sum.Errors = append(sum.Errors, RowError{UserID: rec.UserID, Format: format, Error: err.Error()})
		log.Warn("profile migration failed",
			zap.String("user_id", rec.UserID),
			zap.String("format", string(format)),
			zap.Error(err))
	}

	sp, err := Normalize(rec.SoulPrint, format)
	if err != nil {
		fail(err)
		return
	}
	if strings.TrimSpace(sp.PromptFull) == "" {
		fail(errors.New("normalized profile has an empty prompt"))
		return
	}
	raw, err := soulprint.Encode(sp)
	if err != nil {
		fail(err)
		return
	}
	if r.DryRun {
		sum.Migrated++
		return
	}
	if _, err := r.Store.SaveSoulPrint(ctx, rec.UserID, raw, rec.Revision); err != nil {
		fail(err)
		return
	}
	sum.Migrated++
	log.Debug("profile migrated", zap.String("user_id", rec.UserID), zap.String("format", string(format)))
}
