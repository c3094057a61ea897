// Package research answers free-text lookups from a primary search vendor with a fallback.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/fileutils"
)

// PlaceholderAnswer is returned when no vendor produced anything usable.
const PlaceholderAnswer = "I couldn't find anything reliable on that just now."

// Answer sources.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
	SourceNone     = "none"
)

type Citation struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	Source    string     `json:"source"`
	Degraded  bool       `json:"degraded,omitempty"`
}

// Searcher is one vendor.
type Searcher interface {
	Search(ctx context.Context, query string) (Answer, error)
}

// Client tries Primary, then Fallback only if Primary fails. It never returns an empty answer.
type Client struct {
	Primary  Searcher
	Fallback Searcher
	Logger   *zap.Logger
}

func (c *Client) Lookup(ctx context.Context, query string) Answer {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return placeholder()
	}

	for _, v := range []struct {
		name string
		s    Searcher
	}{{SourcePrimary, c.Primary}, {SourceFallback, c.Fallback}} {
		if v.s == nil {
			continue
		}
		ans, err := v.s.Search(ctx, query)
		if err == nil && strings.TrimSpace(ans.Text) == "" {
			err = errors.New("empty answer")
		}
		if err != nil {
			log.Warn("research vendor failed", zap.String("vendor", v.name), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		ans.Source = v.name
		if ans.Citations == nil {
			ans.Citations = []Citation{}
		}
		return ans
	}
	return placeholder()
}

func placeholder() Answer {
	return Answer{Text: PlaceholderAnswer, Citations: []Citation{}, Source: SourceNone, Degraded: true}
}

func postJSON(ctx context.Context, client *http.Client, vendor, endpoint, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s status %d: %s", vendor, resp.StatusCode, fileutils.Truncate(string(respBody), 300))
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("%s: response is not JSON", vendor)
	}
	return respBody, nil
}
