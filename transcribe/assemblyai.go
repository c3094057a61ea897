package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/cadence"
)

const assemblyAIBaseURL = "https://api.assemblyai.com/v2"

var (
	// ErrTranscriptFailed is returned when the vendor reports the job as failed.
	ErrTranscriptFailed = errors.New("transcript failed")
	// ErrTranscriptTimeout is returned when a job is still pending after MaxWait.
	ErrTranscriptTimeout = errors.New("transcript not ready")
)

// AssemblyAI uploads audio, creates a transcript job and polls it to completion.
type AssemblyAI struct {
	BaseURL string
	APIKey  string
	Options Options

	HTTP *http.Client
	// PollInterval defaults to 3s.
	PollInterval time.Duration
	// MaxWait caps how long one transcript is polled, whatever ctx allows (default 10m).
	MaxWait time.Duration

	Logger *zap.Logger
}

func NewAssemblyAI(apiKey string, timeout time.Duration) *AssemblyAI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AssemblyAI{
		APIKey:  apiKey,
		Options: DefaultOptions(),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ Transcriber = (*AssemblyAI)(nil)

func (a *AssemblyAI) base() string { return trimBase(a.BaseURL, assemblyAIBaseURL) }

func (a *AssemblyAI) client() *http.Client {
	if a.HTTP != nil {
		return a.HTTP
	}
	return http.DefaultClient
}

func (a *AssemblyAI) Transcribe(ctx context.Context, audio io.Reader, contentType string) (cadence.Transcript, error) {
	audioURL, err := a.upload(ctx, audio)
	if err != nil {
		return cadence.Transcript{}, err
	}
	return a.TranscribeURL(ctx, audioURL)
}

// TranscribeURL transcribes audio the vendor can fetch itself.
func (a *AssemblyAI) TranscribeURL(ctx context.Context, audioURL string) (cadence.Transcript, error) {
	id, err := a.createTranscript(ctx, audioURL)
	if err != nil {
		return cadence.Transcript{}, err
	}
	return a.poll(ctx, id)
}

func (a *AssemblyAI) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", a.APIKey)
	return req, nil
}

func (a *AssemblyAI) upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := a.newRequest(ctx, http.MethodPost, "/upload", audio)
	if err != nil {
		return "", fmt.Errorf("AssemblyAI upload: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	body, err := do(a.client(), "assemblyai", req)
	if err != nil {
		return "", fmt.Errorf("AssemblyAI upload: %w", err)
	}
	u := gjson.GetBytes(body, "upload_url").String()
	if u == "" {
		return "", errors.New("AssemblyAI upload: response has no upload_url")
	}
	return u, nil
}

func (a *AssemblyAI) createTranscript(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"audio_url":          audioURL,
		"punctuate":          a.Options.Punctuate,
		"speaker_labels":     a.Options.Diarize,
		"sentiment_analysis": a.Options.Sentiment,
	})
	if err != nil {
		return "", err
	}
	req, err := a.newRequest(ctx, http.MethodPost, "/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("AssemblyAI transcript: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := do(a.client(), "assemblyai", req)
	if err != nil {
		return "", fmt.Errorf("AssemblyAI transcript: %w", err)
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", errors.New("AssemblyAI transcript: response has no id")
	}
	return id, nil
}

func (a *AssemblyAI) poll(ctx context.Context, id string) (cadence.Transcript, error) {
	interval := a.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	maxWait := a.MaxWait
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}
	deadline := time.Now().Add(maxWait)
	log := a.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for {
		req, err := a.newRequest(ctx, http.MethodGet, "/transcript/"+url.PathEscape(id), nil)
		if err != nil {
			return cadence.Transcript{}, fmt.Errorf("AssemblyAI poll: %w", err)
		}
		body, err := do(a.client(), "assemblyai", req)
		if err != nil {
			return cadence.Transcript{}, fmt.Errorf("AssemblyAI poll: %w", err)
		}

		switch status := gjson.GetBytes(body, "status").String(); status {
		case "completed":
			return parseAssemblyAI(body), nil
		case "error":
			return cadence.Transcript{}, fmt.Errorf("AssemblyAI %s: %w: %s", id, ErrTranscriptFailed, gjson.GetBytes(body, "error").String())
		default:
			log.Debug("transcript pending", zap.String("id", id), zap.String("status", status))
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return cadence.Transcript{}, fmt.Errorf("AssemblyAI %s: %w after %s", id, ErrTranscriptTimeout, maxWait)
		}
		if interval < wait {
			wait = interval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return cadence.Transcript{}, ctx.Err()
		case <-t.C:
		}
	}
}

func parseAssemblyAI(body []byte) cadence.Transcript {
	doc := gjson.ParseBytes(body)
	t := cadence.Transcript{
		Text:       doc.Get("text").String(),
		Confidence: doc.Get("confidence").Float(),
		Words:      []cadence.Word{},
	}
	doc.Get("words").ForEach(func(_, w gjson.Result) bool {
		t.Words = append(t.Words, cadence.Word{
			Text:       w.Get("text").String(),
			StartMS:    w.Get("start").Int(),
			EndMS:      w.Get("end").Int(),
			Confidence: w.Get("confidence").Float(),
		})
		return true
	})
	doc.Get("sentiment_analysis_results").ForEach(func(_, s gjson.Result) bool {
		t.Sentences = append(t.Sentences, cadence.SentenceSentiment{
			Text:       s.Get("text").String(),
			Sentiment:  cadence.ParseSentiment(s.Get("sentiment").String()),
			Confidence: s.Get("confidence").Float(),
		})
		return true
	})
	return t
}
