package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// ConversationsFileName is the export member holding the conversation list.
const ConversationsFileName = "conversations.json"

// ErrConversationsNotFound is returned when a ZIP export has no conversations.json member.
var ErrConversationsNotFound = errors.New("conversations.json not found in archive")

var zipMagic = []byte("PK\x03\x04")

// ParseArchiveFile parses a conversations.json file or a ZIP export containing one.
func ParseArchiveFile(ctx context.Context, filePath string, opts ParseOptions) ([]NormalizedMessage, ParseStats, error) {
	var threads []ConversationThread
	stats, err := StreamArchiveFile(ctx, filePath, opts, func(thread ConversationThread) error {
		threads = append(threads, thread)
		return nil
	})
	if err != nil {
		return nil, ParseStats{}, err
	}
	return Flatten(threads), stats, nil
}

// StreamArchiveFile sniffs filePath and streams its conversations to fn. ZIP members are
// decompressed as they are read, never extracted to memory or disk first. A directory is read
// as split thread files (StreamThreadDir).
func StreamArchiveFile(ctx context.Context, filePath string, opts ParseOptions, fn ThreadFunc) (ParseStats, error) {
	if filePath == "" {
		return ParseStats{}, errors.New("StreamArchiveFile: path is empty")
	}
	if fi, err := os.Stat(filePath); err == nil && fi.IsDir() {
		return StreamThreadDir(ctx, filePath, fn)
	}

	isZip, err := IsZipFile(filePath)
	if err != nil {
		return ParseStats{}, fmt.Errorf("StreamArchiveFile: sniff: %w", err)
	}
	if isZip {
		return streamZip(ctx, filePath, opts, fn)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return ParseStats{}, fmt.Errorf("StreamArchiveFile: open: %w", err)
	}
	defer f.Close()
	return StreamConversations(ctx, f, opts, fn)
}

// IsZipFile reports whether the file starts with the local file header magic.
func IsZipFile(filePath string) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return n == len(zipMagic) && bytes.Equal(head, zipMagic), nil
}

func streamZip(ctx context.Context, filePath string, opts ParseOptions, fn ThreadFunc) (ParseStats, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return ParseStats{}, &ParseError{Err: fmt.Errorf("open zip: %w", err)}
	}
	defer zr.Close()

	member := findConversationsMember(zr.File)
	if member == nil {
		return ParseStats{}, fmt.Errorf("StreamArchiveFile: %w", ErrConversationsNotFound)
	}

	rc, err := member.Open()
	if err != nil {
		return ParseStats{}, fmt.Errorf("StreamArchiveFile: open %s: %w", member.Name, err)
	}
	defer rc.Close()
	return StreamConversations(ctx, rc, opts, fn)
}

// findConversationsMember picks the shallowest conversations.json, at any depth.
func findConversationsMember(files []*zip.File) *zip.File {
	var (
		best      *zip.File
		bestDepth int
	)
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if !strings.EqualFold(path.Base(name), ConversationsFileName) {
			continue
		}
		depth := strings.Count(strings.Trim(name, "/"), "/")
		if best == nil || depth < bestDepth {
			best, bestDepth = f, depth
		}
	}
	return best
}
