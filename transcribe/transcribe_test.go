package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/soulprint/cadence"
)

func TestAssemblyAIUploadCreatePoll(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	createdCh := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "key-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			b, _ := io.ReadAll(r.Body)
			if string(b) != "RIFFaudio" {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"upload_url":"https://cdn.example/a1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			var created map[string]any
			_ = json.NewDecoder(r.Body).Decode(&created)
			createdCh <- created
			_, _ = w.Write([]byte(`{"id":"tx1","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/transcript/tx1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"id":"tx1","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"id":"tx1","status":"completed","text":"I love this","confidence":0.93,
				"words":[
					{"text":"I","start":0,"end":120,"confidence":0.99},
					{"text":"love","start":300,"end":650,"confidence":0.95},
					{"text":"this","start":700,"end":900,"confidence":0.6}
				],
				"sentiment_analysis_results":[{"text":"I love this","sentiment":"POSITIVE","confidence":0.9}]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := &AssemblyAI{BaseURL: srv.URL + "/", APIKey: "key-1", Options: DefaultOptions(), PollInterval: time.Millisecond}
	tr, err := a.Transcribe(context.Background(), strings.NewReader("RIFFaudio"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	created := <-createdCh
	if created["audio_url"] != "https://cdn.example/a1" || created["sentiment_analysis"] != true || created["speaker_labels"] != false || created["punctuate"] != true {
		t.Fatalf("create payload=%v", created)
	}
	if len(tr.Words) != 3 || tr.Words[1] != (cadence.Word{Text: "love", StartMS: 300, EndMS: 650, Confidence: 0.95}) {
		t.Fatalf("words=%+v", tr.Words)
	}
	if len(tr.Sentences) != 1 || tr.Sentences[0].Sentiment != cadence.SentimentPositive {
		t.Fatalf("sentences=%+v", tr.Sentences)
	}
	if polls.Load() != 2 {
		t.Fatalf("polls=%d want 2", polls.Load())
	}

	sig := cadence.Extract(tr)
	if sig.WordCount != 3 {
		t.Fatalf("signature word count=%d", sig.WordCount)
	}
}

func TestAssemblyAIFailedJob(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"tx2","status":"queued"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"tx2","status":"error","error":"audio too short"}`))
	}))
	defer srv.Close()

	a := &AssemblyAI{BaseURL: srv.URL, APIKey: "k", PollInterval: time.Millisecond}
	_, err := a.TranscribeURL(context.Background(), "https://cdn.example/a2")
	if !errors.Is(err, ErrTranscriptFailed) || !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("expected ErrTranscriptFailed, got %v", err)
	}
}

func TestAssemblyAIStuckJobGivesUp(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"tx3","status":"queued"}`))
			return
		}
		polls.Add(1)
		_, _ = w.Write([]byte(`{"id":"tx3","status":"queued"}`))
	}))
	defer srv.Close()

	a := &AssemblyAI{BaseURL: srv.URL, APIKey: "k", PollInterval: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond}
	start := time.Now()
	_, err := a.TranscribeURL(context.Background(), "https://cdn.example/a3")
	if !errors.Is(err, ErrTranscriptTimeout) {
		t.Fatalf("expected ErrTranscriptTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("gave up after %s", elapsed)
	}
	if polls.Load() < 2 {
		t.Fatalf("polls=%d, want several before giving up", polls.Load())
	}
}

func TestAssemblyAIStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	a := &AssemblyAI{BaseURL: srv.URL, APIKey: "k"}
	_, err := a.Transcribe(context.Background(), strings.NewReader("x"), "")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected StatusError 402, got %v", err)
	}
}

func TestDeepgramWords(t *testing.T) {
	t.Parallel()

	type seen struct{ query, auth, contentType string }
	seenCh := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCh <- seen{r.URL.RawQuery, r.Header.Get("Authorization"), r.Header.Get("Content-Type")}
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{
			"transcript":"so um yes","confidence":0.88,
			"words":[
				{"word":"so","punctuated_word":"So","start":0.1,"end":0.25,"confidence":0.9},
				{"word":"um","start":0.9,"end":1.05,"confidence":0.5},
				{"word":"yes","punctuated_word":"yes.","start":1.2,"end":1.5,"confidence":0.97}
			]}]}]}}`))
	}))
	defer srv.Close()

	d := &Deepgram{BaseURL: srv.URL, APIKey: "dg", Options: DefaultOptions()}
	tr, err := d.Transcribe(context.Background(), strings.NewReader("audio"), "audio/webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	got := <-seenCh
	if got.auth != "Token dg" || got.contentType != "audio/webm" {
		t.Fatalf("auth=%q type=%q", got.auth, got.contentType)
	}
	if !strings.Contains(got.query, "punctuate=true") || !strings.Contains(got.query, "diarize=false") {
		t.Fatalf("query=%q", got.query)
	}
	want := []cadence.Word{
		{Text: "So", StartMS: 100, EndMS: 250, Confidence: 0.9},
		{Text: "um", StartMS: 900, EndMS: 1050, Confidence: 0.5},
		{Text: "yes.", StartMS: 1200, EndMS: 1500, Confidence: 0.97},
	}
	if len(tr.Words) != len(want) {
		t.Fatalf("words=%+v", tr.Words)
	}
	for i := range want {
		if tr.Words[i] != want[i] {
			t.Fatalf("word %d=%+v want %+v", i, tr.Words[i], want[i])
		}
	}
	if tr.Sentences != nil || tr.Text != "so um yes" {
		t.Fatalf("transcript=%+v", tr)
	}
}
