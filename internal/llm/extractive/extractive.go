// Package extractive is an offline generator that answers by selecting the
// retrieved sentences that best match the question.
package extractive

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"

	"trialwhisperer/internal/answer"
)

// NoAnswerText is returned when no passage shares a term with the question.
const NoAnswerText = "The protocol text provided does not state this."

// Generator ranks context sentences by question-term overlap weighted by
// term frequency across the passages, and replies in the JSON shape the
// answerer asks for.
type Generator struct {
	maxSentences int
	tokenPattern *regexp.Regexp
	sentencePat  *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates an extractive generator returning up to maxSentences sentences.
func New(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Generator{
		maxSentences: maxSentences,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePat:  regexp.MustCompile(`[^.!?\n]+[.!?]?`),
		stopwords:    defaultStopwords(),
	}
}

func (g *Generator) Name() string { return "extractive" }

type candidate struct {
	block    int
	order    int
	sentence string
	score    float64
}

type citation struct {
	NCTID   string `json:"nct_id"`
	Section string `json:"section"`
	Quote   string `json:"quote"`
}

type reply struct {
	Answer    string     `json:"answer"`
	Citations []citation `json:"citations"`
}

// Generate answers from the context blocks embedded in prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question, blocks := answer.ParsePrompt(prompt)
	qset := g.tokenSet(question)

	// Compute word frequencies over all passages
	freq := map[string]float64{}
	var cands []candidate
	for bi, b := range blocks {
		for _, s := range g.sentencePat.FindAllString(b.Text, -1) {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			for _, tok := range g.tokens(s) {
				freq[tok]++
			}
			cands = append(cands, candidate{block: bi, order: len(cands), sentence: s})
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	for i := range cands {
		toks := g.tokens(cands[i].sentence)
		overlap := 0.0
		seen := map[string]struct{}{}
		for _, tok := range toks {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, ok := qset[tok]; ok {
				overlap += 1 + freq[tok]/maxF
			}
		}
		if len(toks) > 0 {
			overlap /= math.Sqrt(float64(len(toks)))
		}
		// earlier passages were ranked higher by retrieval
		cands[i].score = overlap / (1 + 0.05*float64(cands[i].block))
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var picked []candidate
	for _, c := range cands {
		if c.score <= 0 || len(picked) == g.maxSentences {
			break
		}
		picked = append(picked, c)
	}
	if len(picked) == 0 {
		out, err := json.Marshal(reply{Answer: NoAnswerText, Citations: []citation{}})
		return string(out), err
	}
	// Keep original order among selected
	sort.Slice(picked, func(i, j int) bool { return picked[i].order < picked[j].order })

	var parts []string
	var cits []citation
	for _, c := range picked {
		b := blocks[c.block]
		parts = append(parts, c.sentence+" "+answer.Label(b.NCTID, b.Section))
		cits = append(cits, citation{NCTID: b.NCTID, Section: string(b.Section), Quote: c.sentence})
	}
	out, err := json.Marshal(reply{Answer: strings.Join(parts, " "), Citations: cits})
	return string(out), err
}

func (g *Generator) tokens(text string) []string {
	raw := g.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, ok := g.stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (g *Generator) tokenSet(text string) map[string]struct{} {
	m := map[string]struct{}{}
	for _, t := range g.tokens(text) {
		m[t] = struct{}{}
	}
	return m
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "it", "this", "that", "these", "those", "from", "what", "which", "who", "whom", "how", "does", "do", "can", "will", "there", "trial", "study", "summarize", "describe", "list", "tell", "me",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
