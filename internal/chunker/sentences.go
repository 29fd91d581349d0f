package chunker

import (
	"strings"
	"unicode"
)

type sentence struct {
	start, end int
	tokens     int
	paragraph  bool
}

var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "vs": {}, "e.g": {}, "i.e": {},
	"approx": {}, "fig": {}, "no": {}, "al": {}, "st": {}, "jr": {}, "sr": {},
	"ca": {}, "cf": {}, "incl": {},
}

const closers = `"')]`

// splitSentences finds sentence spans in text. Line breaks always end a
// sentence; a blank line marks the next sentence as opening a paragraph.
// Terminal punctuation ends a sentence only when followed by whitespace.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	paragraph := true
	emit := func(end int) {
		raw := text[start:end]
		lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		s := start + lead
		out = append(out, sentence{
			start:     s,
			end:       s + len(trimmed),
			tokens:    len(fields(trimmed)),
			paragraph: paragraph,
		})
		paragraph = false
	}
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; ch {
		case '\n':
			emit(i)
			start = i + 1
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && text[j] == '\n' {
				paragraph = true
			}
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && strings.IndexByte(closers, text[j]) >= 0 {
				j++
			}
			if j >= len(text) || (text[j] != ' ' && text[j] != '\t') {
				continue
			}
			if ch == '.' && isAbbreviation(text[start:i]) {
				continue
			}
			emit(j)
			start = j
			i = j - 1
		}
	}
	emit(len(text))
	return out
}

func isAbbreviation(prefix string) bool {
	word := prefix
	if idx := strings.LastIndexFunc(prefix, unicode.IsSpace); idx >= 0 {
		word = prefix[idx+1:]
	}
	word = strings.TrimLeft(word, `"'([`)
	if len(word) == 1 && word[0] >= 'A' && word[0] <= 'Z' {
		return true
	}
	_, ok := abbreviations[strings.ToLower(word)]
	return ok
}

func fields(s string) []string {
	return strings.Fields(s)
}
