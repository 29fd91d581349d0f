package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Section names a logical part of a trial record.
type Section string

const (
	SectionTitle        Section = "title"
	SectionSummary      Section = "summary"
	SectionConditions   Section = "conditions"
	SectionIntervention Section = "intervention"
	SectionInclusion    Section = "inclusion"
	SectionExclusion    Section = "exclusion"
	SectionOutcomes     Section = "outcomes"
)

// Sections lists every section in canonical chunking order.
var Sections = []Section{
	SectionTitle,
	SectionSummary,
	SectionConditions,
	SectionIntervention,
	SectionInclusion,
	SectionExclusion,
	SectionOutcomes,
}

// Valid reports whether s is one of the known sections.
func (s Section) Valid() bool {
	for _, known := range Sections {
		if s == known {
			return true
		}
	}
	return false
}

// Eligibility holds the eligibility block of a trial.
// Inclusion and Exclusion carry one criterion per line.
type Eligibility struct {
	Inclusion  string `json:"inclusion"`
	Exclusion  string `json:"exclusion"`
	MinimumAge string `json:"minimum_age,omitempty"`
	MaximumAge string `json:"maximum_age,omitempty"`
	Sex        string `json:"sex,omitempty"`
}

// TrialRecord is the canonical, source-independent trial representation.
type TrialRecord struct {
	NCTID         string      `json:"nct_id"`
	Title         string      `json:"title"`
	Summary       string      `json:"summary"`
	Conditions    []string    `json:"conditions"`
	Interventions []string    `json:"interventions"`
	Eligibility   Eligibility `json:"eligibility"`
	Outcomes      []string    `json:"outcomes"`
}

// SectionText returns the text of one section as it is chunked.
func (r TrialRecord) SectionText(s Section) string {
	switch s {
	case SectionTitle:
		return r.Title
	case SectionSummary:
		return r.Summary
	case SectionConditions:
		return strings.Join(r.Conditions, "\n")
	case SectionIntervention:
		return strings.Join(r.Interventions, "\n")
	case SectionInclusion:
		return r.Eligibility.Inclusion
	case SectionExclusion:
		return r.Eligibility.Exclusion
	case SectionOutcomes:
		return strings.Join(r.Outcomes, "\n")
	}
	return ""
}

// Offsets are byte offsets of a chunk inside its section text.
type Offsets struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is a contiguous run of sentences from exactly one section.
type Chunk struct {
	TrialID       string   `json:"trial_id"`
	Section       Section  `json:"section"`
	Text          string   `json:"text"`
	SequenceIndex int      `json:"sequence_index"`
	SourceOffsets *Offsets `json:"source_offsets,omitempty"`
}

// Key identifies a chunk within the corpus.
func (c Chunk) Key() string {
	return c.TrialID + ":" + string(c.Section) + ":" + strconv.Itoa(c.SequenceIndex)
}

// IndexedChunk pairs a chunk with its embedding.
type IndexedChunk struct {
	Chunk  Chunk
	Vector []float32
}

// SearchHit is a retrieved chunk with its similarity score.
type SearchHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Citation points an answer at the retrieved text that supports it.
type Citation struct {
	NCTID       string  `json:"nct_id"`
	Section     Section `json:"section"`
	TextSnippet string  `json:"text_snippet"`
}

// AnswerStatus describes how an answer was produced.
type AnswerStatus string

const (
	AnswerStatusAnswered              AnswerStatus = "answered"
	AnswerStatusInsufficientGrounding AnswerStatus = "insufficient_grounding"
	AnswerStatusUnavailable           AnswerStatus = "unavailable"
)

// Answer is the grounded response to a question.
type Answer struct {
	Text      string       `json:"answer"`
	Citations []Citation   `json:"citations"`
	Status    AnswerStatus `json:"status"`
	NCTID     string       `json:"nct_id,omitempty"`
}

// PatientProfile is the subset of patient facts the evaluator understands.
type PatientProfile struct {
	Age  *int               `json:"age,omitempty"`
	Sex  string             `json:"sex,omitempty"`
	Labs map[string]float64 `json:"labs,omitempty"`
}

var nctIDPattern = regexp.MustCompile(`^NCT\d{8}$`)

// CanonicalNCTID trims and upper-cases id and reports whether it is well formed.
func CanonicalNCTID(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	return id, nctIDPattern.MatchString(id)
}
