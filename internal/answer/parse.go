package answer

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"trialwhisperer/internal/domain"
)

// modelCitation is a citation as emitted by the generator, before verification.
type modelCitation struct {
	NCTID   string `json:"nct_id"`
	Section string `json:"section"`
	Quote   string `json:"quote"`
}

type modelReply struct {
	Answer    string          `json:"answer"`
	Citations []modelCitation `json:"citations"`
}

var (
	inlineMarker = regexp.MustCompile(`\[\s*([Nn][Cc][Tt]\d{8})\s*[|:]\s*([A-Za-z_]+)\s*\]`)
	codeFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	spaceBefore  = regexp.MustCompile(`\s+([.,;:!?])`)
	doubleSpace  = regexp.MustCompile(`[ \t]{2,}`)
)

// parseReply reads a JSON reply when the generator produced one and falls
// back to plain text. Inline [NCT…|section] markers count as citations.
func parseReply(raw string) modelReply {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var reply modelReply
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(text[i:j+1]), &reply); err == nil && strings.TrimSpace(reply.Answer) != "" {
			reply.Citations = append(reply.Citations, markers(reply.Answer)...)
			return reply
		}
	}
	return modelReply{Answer: text, Citations: markers(text)}
}

func markers(text string) []modelCitation {
	var out []modelCitation
	for _, m := range inlineMarker.FindAllStringSubmatch(text, -1) {
		out = append(out, modelCitation{NCTID: m[1], Section: m[2]})
	}
	return out
}

// stripMarkers removes inline markers whose pair fails keep.
func stripMarkers(text string, keep func(nctID string, section domain.Section) bool) string {
	removed := false
	out := inlineMarker.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineMarker.FindStringSubmatch(m)
		id, _ := domain.CanonicalNCTID(sub[1])
		if keep(id, canonicalSection(sub[2])) {
			return m
		}
		removed = true
		return ""
	})
	if !removed {
		return strings.TrimSpace(text)
	}
	out = spaceBefore.ReplaceAllString(out, "$1")
	out = doubleSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// snippet returns a verbatim prefix of text of at most limit runes, cut at a
// word boundary when one is close enough.
func snippet(text string, limit int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	end, n := len(text), 0
	for i := range text {
		if n == limit {
			end = i
			break
		}
		n++
	}
	cut := text[:end]
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t,;:")
}
