package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/theimaginaryfoundation/soulprint/cadence"
)

const deepgramBaseURL = "https://api.deepgram.com/v1"

// Deepgram sends audio bytes and gets words back in one call. It reports no sentiment.
type Deepgram struct {
	BaseURL string
	APIKey  string
	Options Options
	HTTP    *http.Client
}

func NewDeepgram(apiKey string, timeout time.Duration) *Deepgram {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Deepgram{APIKey: apiKey, Options: DefaultOptions(), HTTP: &http.Client{Timeout: timeout}}
}

var _ Transcriber = (*Deepgram)(nil)

func (d *Deepgram) Transcribe(ctx context.Context, audio io.Reader, contentType string) (cadence.Transcript, error) {
	q := url.Values{}
	q.Set("punctuate", strconv.FormatBool(d.Options.Punctuate))
	q.Set("diarize", strconv.FormatBool(d.Options.Diarize))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimBase(d.BaseURL, deepgramBaseURL)+"/listen?"+q.Encode(), audio)
	if err != nil {
		return cadence.Transcript{}, fmt.Errorf("Deepgram: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+d.APIKey)

	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	body, err := do(client, "deepgram", req)
	if err != nil {
		return cadence.Transcript{}, fmt.Errorf("Deepgram: %w", err)
	}
	return parseDeepgram(body), nil
}

func parseDeepgram(body []byte) cadence.Transcript {
	alt := gjson.GetBytes(body, "results.channels.0.alternatives.0")
	t := cadence.Transcript{
		Text:       alt.Get("transcript").String(),
		Confidence: alt.Get("confidence").Float(),
		Words:      []cadence.Word{},
	}
	alt.Get("words").ForEach(func(_, w gjson.Result) bool {
		text := w.Get("punctuated_word").String()
		if text == "" {
			text = w.Get("word").String()
		}
		t.Words = append(t.Words, cadence.Word{
			Text:       text,
			StartMS:    msFromSeconds(w.Get("start").Float()),
			EndMS:      msFromSeconds(w.Get("end").Float()),
			Confidence: w.Get("confidence").Float(),
		})
		return true
	})
	return t
}
