package research

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Answering is an answer-engine vendor: one question in, prose plus citations out.
type Answering struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
}

func (a *Answering) Search(ctx context.Context, query string) (Answer, error) {
	model := a.Model
	if model == "" {
		model = "sonar"
	}
	body, err := postJSON(ctx, a.HTTP, "answering", strings.TrimRight(a.BaseURL, "/")+"/chat/completions", a.APIKey, map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": query}},
	})
	if err != nil {
		return Answer{}, err
	}

	doc := gjson.ParseBytes(body)
	text := doc.Get("content").String()
	if text == "" {
		text = doc.Get("choices.0.message.content").String()
	}
	return Answer{Text: strings.TrimSpace(text), Citations: parseCitations(doc.Get("citations"))}, nil
}

// parseCitations accepts bare URL strings or {title,url} objects.
func parseCitations(list gjson.Result) []Citation {
	var out []Citation
	list.ForEach(func(_, c gjson.Result) bool {
		if c.Type == gjson.String {
			if u := strings.TrimSpace(c.String()); u != "" {
				out = append(out, Citation{URL: u})
			}
			return true
		}
		if u := strings.TrimSpace(c.Get("url").String()); u != "" {
			out = append(out, Citation{Title: strings.TrimSpace(c.Get("title").String()), URL: u})
		}
		return true
	})
	return out
}

// WebSearch is a search-results vendor with an optional synthesized answer.
type WebSearch struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	HTTP       *http.Client
}

func (w *WebSearch) Search(ctx context.Context, query string) (Answer, error) {
	max := w.MaxResults
	if max <= 0 {
		max = 5
	}
	body, err := postJSON(ctx, w.HTTP, "websearch", strings.TrimRight(w.BaseURL, "/")+"/search", w.APIKey, map[string]any{
		"query":          query,
		"include_answer": true,
		"max_results":    max,
	})
	if err != nil {
		return Answer{}, err
	}

	doc := gjson.ParseBytes(body)
	ans := Answer{Text: strings.TrimSpace(doc.Get("answer").String())}
	var snippets []string
	doc.Get("results").ForEach(func(_, r gjson.Result) bool {
		if u := strings.TrimSpace(r.Get("url").String()); u != "" {
			ans.Citations = append(ans.Citations, Citation{Title: strings.TrimSpace(r.Get("title").String()), URL: u})
		}
		if c := strings.TrimSpace(r.Get("content").String()); c != "" && len(snippets) < 3 {
			snippets = append(snippets, c)
		}
		return true
	})
	// Without a synthesized answer, the top snippets stand in for one.
	if ans.Text == "" {
		ans.Text = strings.Join(snippets, "\n\n")
	}
	return ans, nil
}
