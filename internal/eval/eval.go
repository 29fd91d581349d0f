// Package eval scores answers against a JSONL test set of gold answers and
// expected citation sections.
package eval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
)

// Example is one line of the test set.
type Example struct {
	Query    string   `json:"query"`
	NCTID    string   `json:"nct_id,omitempty"`
	Answers  []string `json:"answers,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

// Record is the outcome of one example.
type Record struct {
	Query            string            `json:"query"`
	NCTID            string            `json:"nct_id,omitempty"`
	GoldAnswers      []string          `json:"gold_answers"`
	ExpectedSections []string          `json:"expected_sections"`
	Answer           *string           `json:"answer"`
	Status           string            `json:"status,omitempty"`
	Citations        []domain.Citation `json:"citations"`
	Error            string            `json:"error,omitempty"`
	ExactMatch       bool              `json:"answer_exact_match"`
	CitationMatch    bool              `json:"citation_match"`
}

// Score is a correct/total pair. Accuracy is nil when Total is zero.
type Score struct {
	Correct  int      `json:"correct"`
	Total    int      `json:"total"`
	Accuracy *float64 `json:"accuracy"`
}

type Metrics struct {
	TotalExamples int   `json:"total_examples"`
	ExactMatch    Score `json:"answer_exact_match"`
	CitationMatch Score `json:"citation_section_match"`
	ErrorCount    int   `json:"error_count"`
}

type Report struct {
	Dataset  string   `json:"dataset"`
	Metrics  Metrics  `json:"metrics"`
	Examples []Record `json:"examples"`
}

// Asker answers one question, optionally restricted to a trial.
type Asker interface {
	Answer(ctx context.Context, query, nctID string) (domain.Answer, error)
}

// LoadExamples reads a JSONL test set, skipping blank lines.
func LoadExamples(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test set: %w", err)
	}
	defer f.Close()

	var out []Example
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read test set: %w", err)
	}
	return out, nil
}

// NormalizeAnswer lowercases and collapses whitespace.
func NormalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ExactMatch reports whether prediction equals any gold answer after normalization.
func ExactMatch(prediction string, gold []string) bool {
	p := NormalizeAnswer(prediction)
	if p == "" {
		return false
	}
	for _, g := range gold {
		if p == NormalizeAnswer(g) {
			return true
		}
	}
	return false
}

// CitationsMatch reports whether citations cover every expected section and,
// when nctID is set, all cite that trial. No expected sections always matches.
func CitationsMatch(citations []domain.Citation, sections []string, nctID string) bool {
	if len(sections) == 0 {
		return true
	}
	seen := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		if nctID != "" && c.NCTID != nctID {
			return false
		}
		if c.Section != "" {
			seen[string(c.Section)] = struct{}{}
		}
	}
	for _, s := range sections {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	return true
}

// Run asks every example in order. Per-example failures are recorded, not
// returned; only ctx cancellation aborts the run.
func Run(ctx context.Context, asker Asker, examples []Example, log *zap.Logger) ([]Record, error) {
	if log == nil {
		log = zap.NewNop()
	}
	records := make([]Record, 0, len(examples))
	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec := Record{
			Query:            ex.Query,
			NCTID:            ex.NCTID,
			GoldAnswers:      nonNil(ex.Answers),
			ExpectedSections: nonNil(ex.Sections),
			Citations:        []domain.Citation{},
		}
		ans, err := asker.Answer(ctx, ex.Query, ex.NCTID)
		if err != nil {
			rec.Error = err.Error()
			rec.Status = string(ans.Status)
			log.Warn("example failed", zap.Int("index", i), zap.String("query", ex.Query), zap.Error(err))
			records = append(records, rec)
			continue
		}
		text := ans.Text
		rec.Answer = &text
		rec.Status = string(ans.Status)
		if ans.Citations != nil {
			rec.Citations = ans.Citations
		}
		rec.ExactMatch = ExactMatch(ans.Text, ex.Answers)
		rec.CitationMatch = CitationsMatch(ans.Citations, ex.Sections, ex.NCTID)
		records = append(records, rec)
	}
	return records, nil
}

// ComputeMetrics aggregates records. Citation accuracy counts only examples
// that name expected sections.
func ComputeMetrics(records []Record) Metrics {
	m := Metrics{TotalExamples: len(records)}
	m.ExactMatch.Total = len(records)
	for _, r := range records {
		if r.ExactMatch {
			m.ExactMatch.Correct++
		}
		if len(r.ExpectedSections) > 0 {
			m.CitationMatch.Total++
			if r.CitationMatch {
				m.CitationMatch.Correct++
			}
		}
		if r.Error != "" {
			m.ErrorCount++
		}
	}
	m.ExactMatch.Accuracy = ratio(m.ExactMatch.Correct, m.ExactMatch.Total)
	m.CitationMatch.Accuracy = ratio(m.CitationMatch.Correct, m.CitationMatch.Total)
	return m
}

// Summary renders the console lines for m.
func Summary(m Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluated %d examples\n", m.TotalExamples)
	if m.ExactMatch.Accuracy != nil {
		fmt.Fprintf(&b, "Answer exact match: %d/%d (%.1f%%)\n", m.ExactMatch.Correct, m.ExactMatch.Total, *m.ExactMatch.Accuracy*100)
	} else {
		b.WriteString("Answer exact match: n/a\n")
	}
	if m.CitationMatch.Accuracy != nil {
		fmt.Fprintf(&b, "Citation coverage: %d/%d (%.1f%%)\n", m.CitationMatch.Correct, m.CitationMatch.Total, *m.CitationMatch.Accuracy*100)
	} else {
		b.WriteString("Citation coverage: n/a (no expected sections)\n")
	}
	if m.ErrorCount > 0 {
		fmt.Fprintf(&b, "Errors encountered: %d\n", m.ErrorCount)
	}
	return b.String()
}

// WriteReport encodes r as indented JSON.
func WriteReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// HTTPAsker answers through a running server's /ask endpoint.
type HTTPAsker struct {
	BaseURL string
	Client  *http.Client
}

func (h HTTPAsker) Answer(ctx context.Context, query, nctID string) (domain.Answer, error) {
	body, err := json.Marshal(map[string]string{"query": query, "nct_id": nctID})
	if err != nil {
		return domain.Answer{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/ask", bytes.NewReader(body))
	if err != nil {
		return domain.Answer{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("post /ask: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.Answer{}, fmt.Errorf("read /ask response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Answer{}, fmt.Errorf("/ask returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ans domain.Answer
	if err := json.Unmarshal(raw, &ans); err != nil {
		return domain.Answer{}, fmt.Errorf("decode /ask response: %w", err)
	}
	return ans, nil
}

func ratio(n, d int) *float64 {
	if d == 0 {
		return nil
	}
	v := float64(n) / float64(d)
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
