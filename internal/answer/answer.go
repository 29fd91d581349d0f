// Package answer builds grounded answers from retrieved chunks and enforces
// that every returned citation points at retrieved text.
package answer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/retry"
)

const (
	InsufficientGroundingText = "I could not find protocol text relevant to this question, so I cannot answer it from the indexed trials."
	UnavailableText           = "Sorry, I could not answer this question right now. Please try again later."
)

// Config tunes the answerer.
type Config struct {
	Retry        retry.Policy
	SnippetRunes int
}

// Answerer keeps no state between calls.
type Answerer struct {
	gen     domain.Generator
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(gen domain.Generator, cfg Config, log *zap.Logger, m *metrics.Metrics) *Answerer {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	cfg.Retry = cfg.Retry.Online()
	if cfg.SnippetRunes <= 0 {
		cfg.SnippetRunes = 240
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Answerer{gen: gen, cfg: cfg, log: log, metrics: m}
}

// Answer generates an answer from hits only. With no hits the generator is
// not called. A generation failure yields the fixed could-not-answer result
// together with an error wrapping domain.ErrGenerationFailed.
func (a *Answerer) Answer(ctx context.Context, query string, hits []domain.SearchHit) (domain.Answer, error) {
	if len(hits) == 0 {
		a.metrics.IncAnswer(string(domain.AnswerStatusInsufficientGrounding))
		return domain.Answer{
			Text:      InsufficientGroundingText,
			Citations: []domain.Citation{},
			Status:    domain.AnswerStatusInsufficientGrounding,
		}, nil
	}

	prompt := BuildPrompt(query, hits)
	var raw string
	err := a.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		out, err := a.gen.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		a.log.Error("generation failed", zap.String("generator", a.gen.Name()), zap.Error(err))
		a.metrics.IncAnswer(string(domain.AnswerStatusUnavailable))
		return Unavailable(), fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}

	text, citations, violations := a.verify(parseReply(raw), hits)
	if len(violations) > 0 {
		a.log.Warn("dropped ungrounded citations",
			zap.String("generator", a.gen.Name()),
			zap.Strings("pairs", violations))
		a.metrics.AddGroundingViolations(len(violations))
	}
	if text == "" {
		a.metrics.IncAnswer(string(domain.AnswerStatusUnavailable))
		return Unavailable(), fmt.Errorf("%w: reply had no answer text", domain.ErrGenerationFailed)
	}
	a.metrics.IncAnswer(string(domain.AnswerStatusAnswered))
	return domain.Answer{Text: text, Citations: citations, Status: domain.AnswerStatusAnswered}, nil
}

// Unavailable is the fixed could-not-answer result.
func Unavailable() domain.Answer {
	return domain.Answer{Text: UnavailableText, Citations: []domain.Citation{}, Status: domain.AnswerStatusUnavailable}
}

type pair struct {
	id      string
	section domain.Section
}

func (p pair) String() string { return p.id + "|" + string(p.section) }

// verify keeps citations whose (nct_id, section) pair was retrieved, one per
// pair in retrieval order, and strips markers of the rest from the text.
func (a *Answerer) verify(reply modelReply, hits []domain.SearchHit) (string, []domain.Citation, []string) {
	rank := make(map[pair]int)
	texts := make(map[pair][]string)
	for _, h := range hits {
		p := pair{h.Chunk.TrialID, h.Chunk.Section}
		if _, ok := rank[p]; !ok {
			rank[p] = len(rank)
		}
		texts[p] = append(texts[p], h.Chunk.Text)
	}

	chosen := make(map[pair]domain.Citation)
	quoted := make(map[pair]bool)
	var violations []string
	seenViolation := make(map[pair]bool)
	for _, c := range reply.Citations {
		id, _ := domain.CanonicalNCTID(c.NCTID)
		p := pair{id, canonicalSection(c.Section)}
		if _, ok := rank[p]; !ok {
			if !seenViolation[p] {
				seenViolation[p] = true
				violations = append(violations, p.String())
			}
			continue
		}
		if quoted[p] {
			continue
		}
		if q := verbatimQuote(c.Quote, texts[p]); q != "" {
			chosen[p] = domain.Citation{NCTID: p.id, Section: p.section, TextSnippet: q}
			quoted[p] = true
			continue
		}
		if _, ok := chosen[p]; !ok {
			chosen[p] = domain.Citation{NCTID: p.id, Section: p.section, TextSnippet: snippet(texts[p][0], a.cfg.SnippetRunes)}
		}
	}

	citations := make([]domain.Citation, 0, len(chosen))
	for _, c := range chosen {
		citations = append(citations, c)
	}
	sort.Slice(citations, func(i, j int) bool {
		return rank[pair{citations[i].NCTID, citations[i].Section}] < rank[pair{citations[j].NCTID, citations[j].Section}]
	})

	text := stripMarkers(reply.Answer, func(id string, section domain.Section) bool {
		_, ok := rank[pair{id, section}]
		return ok
	})
	return text, citations, violations
}

var sectionAliases = map[string]domain.Section{
	"interventions": domain.SectionIntervention,
	"condition":     domain.SectionConditions,
	"outcome":       domain.SectionOutcomes,
	"brief_summary": domain.SectionSummary,
	"brief_title":   domain.SectionTitle,
}

func canonicalSection(s string) domain.Section {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	if alias, ok := sectionAliases[s]; ok {
		return alias
	}
	return domain.Section(s)
}

func verbatimQuote(quote string, texts []string) string {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return ""
	}
	for _, t := range texts {
		if strings.Contains(t, quote) {
			return quote
		}
	}
	return ""
}
