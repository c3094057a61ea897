// Package transcribe gets word-level timings (and sentiment, where offered) from speech-to-text vendors.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/theimaginaryfoundation/soulprint/cadence"
	"github.com/theimaginaryfoundation/soulprint/fileutils"
)

// Transcriber turns one recording into a vendor-neutral transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (cadence.Transcript, error)
}

// Options are the recognition flags sent to the vendor.
type Options struct {
	Punctuate bool
	Diarize   bool
	Sentiment bool
}

// DefaultOptions punctuates, keeps a single speaker and asks for sentiment.
func DefaultOptions() Options {
	return Options{Punctuate: true, Diarize: false, Sentiment: true}
}

// StatusError is a non-2xx vendor response.
type StatusError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Vendor, e.StatusCode, e.Body)
}

func do(client *http.Client, vendor string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vendor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", vendor, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Vendor: vendor, StatusCode: resp.StatusCode, Body: fileutils.Truncate(string(body), 300)}
	}
	return body, nil
}

func msFromSeconds(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(s*1000 + 0.5)
}

func trimBase(u, def string) string {
	if strings.TrimSpace(u) == "" {
		u = def
	}
	return strings.TrimRight(u, "/")
}
