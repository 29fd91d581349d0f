package service

import (
	"math"
	"regexp"
	"strings"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/vectorstore"
)

var unicodeWordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// lexicalSearch ranks chunks by Ochiai token overlap with query. Only chunks
// sharing at least one token are returned. k defaults to fallbackK, then 5.
func lexicalSearch(chunks []domain.Chunk, query, trialID string, fallbackK, k int) []domain.SearchHit {
	qset := toTokenSet(query)
	if len(qset) == 0 {
		return nil
	}
	var hits []domain.SearchHit
	for _, ch := range chunks {
		if trialID != "" && ch.TrialID != trialID {
			continue
		}
		if score := overlapOchiai(qset, ch.Text); score > 0 {
			hits = append(hits, domain.SearchHit{Chunk: ch, Score: score})
		}
	}
	vectorstore.SortHits(hits)
	if k <= 0 {
		k = fallbackK
	}
	if k <= 0 {
		k = 5
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over distinct tokens.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	stoks := unicodeWordRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(stoks))
	inter := 0
	for _, t := range stoks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
