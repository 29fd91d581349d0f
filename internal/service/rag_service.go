package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trialwhisperer/internal/answer"
	"trialwhisperer/internal/ctgov"
	"trialwhisperer/internal/domain"
)

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query, nctID string, k int) ([]domain.SearchHit, error)
}

// Answerer turns retrieved chunks into a cited answer.
type Answerer interface {
	Answer(ctx context.Context, query string, hits []domain.SearchHit) (domain.Answer, error)
}

// Evaluator scores a patient against a trial's eligibility rules.
type Evaluator interface {
	Evaluate(trial domain.TrialRecord, patient domain.PatientProfile) domain.EligibilityAssessment
}

// Catalog records how the corpus was selected from the registry.
type Catalog struct {
	Params     map[string]any
	MaxStudies int
}

// RetrievedChunk is one retrieval result as returned to callers.
type RetrievedChunk struct {
	NCTID         string         `json:"nct_id"`
	Section       domain.Section `json:"section"`
	Text          string         `json:"text"`
	SequenceIndex int            `json:"sequence_index"`
	Score         float64        `json:"score"`
}

// TrialView is the stored metadata of one trial.
type TrialView struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	TrialURL string            `json:"trial_url"`
	Sections map[string]string `json:"sections"`
}

// IngestionSummary describes the indexed corpus.
type IngestionSummary struct {
	StudyCount  int            `json:"study_count"`
	QueryTerms  []string       `json:"query_terms"`
	Filters     map[string]any `json:"filters"`
	MaxStudies  *int           `json:"max_studies"`
	LastUpdated *time.Time     `json:"last_updated"`
}

// RAGService is the online API of the system. It holds no per-request state.
type RAGService struct {
	retriever Retriever
	answerer  Answerer
	evaluator Evaluator
	trials    domain.TrialRepository
	catalog   Catalog
	chunks    []domain.Chunk
	log       *zap.Logger
}

type Option func(*RAGService)

func WithLogger(l *zap.Logger) Option { return func(s *RAGService) { s.log = l } }

func WithCatalog(c Catalog) Option { return func(s *RAGService) { s.catalog = c } }

// WithLexicalFallback keeps chunks for token-overlap ranking when vector
// search finds nothing with a positive score.
func WithLexicalFallback(chunks []domain.Chunk) Option {
	return func(s *RAGService) { s.chunks = chunks }
}

func NewRAGService(r Retriever, a Answerer, e Evaluator, trials domain.TrialRepository, opts ...Option) *RAGService {
	s := &RAGService{retriever: r, answerer: a, evaluator: e, trials: trials, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve returns up to k chunks for query, optionally restricted to one trial.
func (s *RAGService) Retrieve(ctx context.Context, query, nctID string, k int) ([]RetrievedChunk, error) {
	hits, err := s.search(ctx, query, nctID, k)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = RetrievedChunk{
			NCTID:         h.Chunk.TrialID,
			Section:       h.Chunk.Section,
			Text:          h.Chunk.Text,
			SequenceIndex: h.Chunk.SequenceIndex,
			Score:         h.Score,
		}
	}
	return out, nil
}

// Answer retrieves and answers. Invalid input is returned as an error with a
// zero Answer; any other failure returns the could-not-answer result together
// with the error.
func (s *RAGService) Answer(ctx context.Context, query, nctID string) (domain.Answer, error) {
	hits, err := s.search(ctx, query, nctID, 0)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return domain.Answer{}, err
		}
		s.log.Error("retrieval failed", zap.String("nct_id", nctID), zap.Error(err))
		ans := answer.Unavailable()
		ans.NCTID = canonicalOrEmpty(nctID)
		return ans, fmt.Errorf("retrieve: %w", err)
	}
	ans, err := s.answerer.Answer(ctx, query, hits)
	ans.NCTID = canonicalOrEmpty(nctID)
	return ans, err
}

// EvaluateEligibility loads the trial and checks patient against it.
func (s *RAGService) EvaluateEligibility(ctx context.Context, nctID string, patient domain.PatientProfile) (domain.EligibilityAssessment, error) {
	id, err := requireID(nctID)
	if err != nil {
		return domain.EligibilityAssessment{}, err
	}
	if patient.Age != nil && *patient.Age < 0 {
		return domain.EligibilityAssessment{}, fmt.Errorf("%w: age must not be negative", domain.ErrInvalidInput)
	}
	trial, err := s.trial(ctx, id)
	if err != nil {
		return domain.EligibilityAssessment{}, err
	}
	return s.evaluator.Evaluate(trial, patient), nil
}

// Trial returns the title and section texts of a stored trial.
func (s *RAGService) Trial(ctx context.Context, nctID string) (TrialView, error) {
	id, err := requireID(nctID)
	if err != nil {
		return TrialView{}, err
	}
	rec, err := s.trial(ctx, id)
	if err != nil {
		return TrialView{}, err
	}
	view := TrialView{
		ID:       rec.NCTID,
		Title:    rec.Title,
		TrialURL: "https://clinicaltrials.gov/study/" + rec.NCTID,
		Sections: map[string]string{},
	}
	for _, sec := range domain.Sections {
		if text := rec.SectionText(sec); text != "" {
			view.Sections[string(sec)] = text
		}
	}
	return view, nil
}

// IngestionSummary reports corpus size and the registry query it came from.
func (s *RAGService) IngestionSummary(ctx context.Context) (IngestionSummary, error) {
	sum := IngestionSummary{QueryTerms: []string{}, Filters: map[string]any{}}
	for k, v := range s.catalog.Params {
		if k == "query.term" {
			sum.QueryTerms = append(sum.QueryTerms, ctgov.Values(v)...)
			continue
		}
		switch v.(type) {
		case []any, []string:
			vals := ctgov.Values(v)
			if vals == nil {
				vals = []string{}
			}
			sum.Filters[k] = vals
		case nil:
			sum.Filters[k] = []string{}
		default:
			sum.Filters[k] = fmt.Sprint(v)
		}
	}
	if s.catalog.MaxStudies > 0 {
		n := s.catalog.MaxStudies
		sum.MaxStudies = &n
	}
	if s.trials == nil {
		return sum, nil
	}
	n, err := s.trials.Count(ctx)
	if err != nil {
		return sum, err
	}
	sum.StudyCount = n
	last, err := s.trials.LastUpdated(ctx)
	if err != nil {
		return sum, err
	}
	if !last.IsZero() {
		last = last.UTC()
		sum.LastUpdated = &last
	}
	return sum, nil
}

func (s *RAGService) search(ctx context.Context, query, nctID string, k int) ([]domain.SearchHit, error) {
	hits, err := s.retriever.Retrieve(ctx, query, nctID, k)
	if err != nil || len(s.chunks) == 0 || hasSignal(hits) {
		return hits, err
	}
	lex := lexicalSearch(s.chunks, query, canonicalOrEmpty(nctID), len(hits), k)
	if len(lex) > 0 {
		s.log.Debug("using lexical fallback", zap.Int("hits", len(lex)))
		return lex, nil
	}
	return hits, nil
}

func (s *RAGService) trial(ctx context.Context, id string) (domain.TrialRecord, error) {
	if s.trials == nil {
		return domain.TrialRecord{}, fmt.Errorf("trial %s: %w", id, domain.ErrNotFound)
	}
	return s.trials.Get(ctx, id)
}

func hasSignal(hits []domain.SearchHit) bool {
	for _, h := range hits {
		if h.Score > 1e-9 {
			return true
		}
	}
	return false
}

func requireID(nctID string) (string, error) {
	id, ok := domain.CanonicalNCTID(nctID)
	if !ok {
		return "", fmt.Errorf("%w: %w: %q", domain.ErrInvalidInput, domain.ErrInvalidNCTID, nctID)
	}
	return id, nil
}

func canonicalOrEmpty(nctID string) string {
	if strings.TrimSpace(nctID) == "" {
		return ""
	}
	id, _ := domain.CanonicalNCTID(nctID)
	return id
}
