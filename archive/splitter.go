package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/theimaginaryfoundation/soulprint/fileutils"
)

const threadFileExt = ".json"

// SplitOptions controls how SplitConversationArchive writes per-thread files.
type SplitOptions struct {
	// ArrayField is forwarded to the parser for object-wrapped exports.
	ArrayField string

	// OverwriteExisting replaces files left by an earlier run. Without it an existing file is an error.
	OverwriteExisting bool

	Pretty bool

	// DirMode and FileMode default to 0o755 and 0o644.
	DirMode  fs.FileMode
	FileMode fs.FileMode
}

type SplitResult struct {
	ThreadsWritten int
	BytesWritten   int64
	Stats          ParseStats
}

// SplitConversationArchive reads an export (JSON or ZIP) and writes one normalized thread file per
// conversation into outputDir. Conversations with no surviving messages are not written.
// The output directory can be imported again as-is; see StreamThreadDir.
func SplitConversationArchive(ctx context.Context, inputPath, outputDir string, opts SplitOptions) (SplitResult, error) {
	switch {
	case ctx == nil:
		return SplitResult{}, errors.New("SplitConversationArchive: ctx is nil")
	case inputPath == "":
		return SplitResult{}, errors.New("SplitConversationArchive: inputPath is empty")
	case outputDir == "":
		return SplitResult{}, errors.New("SplitConversationArchive: outputDir is empty")
	}

	w := &threadWriter{dir: outputDir, opts: opts, names: make(map[string]int)}
	if w.opts.DirMode == 0 {
		w.opts.DirMode = 0o755
	}
	if w.opts.FileMode == 0 {
		w.opts.FileMode = 0o644
	}
	if err := os.MkdirAll(outputDir, w.opts.DirMode); err != nil {
		return SplitResult{}, fmt.Errorf("SplitConversationArchive: mkdir %s: %w", outputDir, err)
	}

	stats, err := StreamArchiveFile(ctx, inputPath, ParseOptions{ArrayField: opts.ArrayField}, w.write)
	if err != nil {
		return SplitResult{}, err
	}
	w.res.Stats = stats
	return w.res, nil
}

type threadWriter struct {
	dir   string
	opts  SplitOptions
	names map[string]int
	res   SplitResult
}

// pathFor hands out <id>.json, then <id>-2.json, <id>-3.json for repeated ids.
func (w *threadWriter) pathFor(threadID string) string {
	base := sanitizeFilenameComponent(threadID)
	if base == "" {
		base = "thread"
	}
	w.names[base]++
	if n := w.names[base]; n > 1 {
		base = fmt.Sprintf("%s-%d", base, n)
	}
	return filepath.Join(w.dir, base+threadFileExt)
}

func (w *threadWriter) write(thread ConversationThread) error {
	outPath := w.pathFor(thread.ThreadID)
	if !w.opts.OverwriteExisting {
		_, err := os.Stat(outPath)
		if err == nil {
			return fmt.Errorf("SplitConversationArchive: output file already exists: %s", outPath)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("SplitConversationArchive: stat %s: %w", outPath, err)
		}
	}

	b, err := encodeThread(thread, w.opts.Pretty)
	if err != nil {
		return fmt.Errorf("SplitConversationArchive: encode thread %q: %w", thread.ThreadID, err)
	}
	if err := fileutils.WriteFileAtomicSameDir(outPath, b, w.opts.FileMode); err != nil {
		return fmt.Errorf("SplitConversationArchive: write thread %q: %w", thread.ThreadID, err)
	}
	w.res.ThreadsWritten++
	w.res.BytesWritten += int64(len(b)) + 1
	return nil
}

func encodeThread(thread ConversationThread, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(thread, "", "  ")
	}
	return json.Marshal(thread)
}

// ReadThreadFile loads a thread previously written by SplitConversationArchive.
func ReadThreadFile(path string) (ConversationThread, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ConversationThread{}, fmt.Errorf("ReadThreadFile: read: %w", err)
	}
	var thread ConversationThread
	if err := json.Unmarshal(b, &thread); err != nil {
		return ConversationThread{}, fmt.Errorf("ReadThreadFile: unmarshal: %w", err)
	}
	return thread, nil
}

// StreamThreadDir streams a directory of thread files, the normalized payload a client uploads
// after extracting the export itself. Files are visited in name order. Each file is checked again:
// rows with a bad role, no text or no timestamp are dropped and the rest re-sorted by time.
// A file that does not decode is counted as malformed and skipped.
func StreamThreadDir(ctx context.Context, dir string, fn ThreadFunc) (ParseStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ParseStats{}, fmt.Errorf("StreamThreadDir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), threadFileExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var stats ParseStats
	ids := make(threadIDs)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Conversations++

		thread, err := ReadThreadFile(filepath.Join(dir, name))
		if err != nil {
			stats.DroppedMalformed++
			continue
		}
		thread, st := revalidateThread(thread)
		stats.add(st)
		if len(thread.Messages) == 0 {
			continue
		}
		thread.setID(ids.claim(thread.ThreadID))
		if err := fn(thread); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func revalidateThread(thread ConversationThread) (ConversationThread, ParseStats) {
	var st ParseStats
	kept := thread.Messages[:0]
	for _, m := range thread.Messages {
		st.Nodes++
		switch {
		case !m.Role.Valid():
			st.DroppedRole++
			continue
		case strings.TrimSpace(m.Content) == "":
			st.DroppedEmpty++
			continue
		case m.CreatedAt <= 0:
			st.DroppedNoTime++
			continue
		}
		m.ThreadID = thread.ThreadID
		if m.ThreadTitle == "" {
			m.ThreadTitle = thread.Title
		}
		kept = append(kept, m)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt < kept[j].CreatedAt })
	st.Kept = len(kept)
	thread.Messages = kept
	return thread, st
}

func sanitizeFilenameComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_.", r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "._-")
}
