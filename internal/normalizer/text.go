package normalizer

import (
	"regexp"
	"strings"
)

var (
	spaceRun       = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	blankLines     = regexp.MustCompile(`\n[ \t\r]*\n`)
	bulletPrefix   = regexp.MustCompile(`^(?:[-*•·▪◦‣]+|\(?\d{1,2}[.)]|\(?[a-hA-H][.)])\s+`)
	criteriaHeader = regexp.MustCompile(`(?im)^[ \t]*(?:key\s+)?(inclusion|exclusion)\s+criteria\b[^\n:]*:?[ \t]*`)
)

// cleanInline collapses all whitespace, newlines included, to single spaces.
func cleanInline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanParagraphs keeps paragraph breaks and unwraps lines inside a paragraph.
func cleanParagraphs(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := blankLines.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = cleanInline(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// SplitCriteria separates free-text eligibility criteria into inclusion and
// exclusion lists using the conventional headings. Text without headings is
// treated as inclusion. Bullets are stripped and wrapped lines rejoined.
func SplitCriteria(text string) (inclusion, exclusion []string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	locs := criteriaHeader.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return criterionLines(text), []string{}
	}
	inclusion = criterionLines(text[:locs[0][0]])
	exclusion = []string{}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := criterionLines(text[loc[1]:end])
		if strings.EqualFold(text[loc[2]:loc[3]], "exclusion") {
			exclusion = append(exclusion, body...)
		} else {
			inclusion = append(inclusion, body...)
		}
	}
	return inclusion, exclusion
}

// criterionLines splits a block into one string per criterion. A bullet or a
// blank line starts a new criterion; other lines continue the current one.
func criterionLines(block string) []string {
	out := []string{}
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, cleanInline(strings.Join(current, " ")))
			current = nil
		}
	}
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if trimmed == "" {
			flush()
			continue
		}
		if loc := bulletPrefix.FindStringIndex(trimmed); loc != nil {
			flush()
			trimmed = strings.TrimSpace(trimmed[loc[1]:])
			if trimmed == "" {
				continue
			}
		}
		current = append(current, trimmed)
	}
	flush()
	return out
}

func cleanAge(s string) string {
	s = cleanInline(s)
	switch strings.ToUpper(s) {
	case "N/A", "NA", "NONE":
		return ""
	}
	return s
}

func cleanSex(s string) string {
	switch strings.ToUpper(cleanInline(s)) {
	case "":
		return ""
	case "ALL", "BOTH":
		return "ALL"
	case "FEMALE", "F", "WOMEN":
		return "FEMALE"
	case "MALE", "M", "MEN":
		return "MALE"
	}
	return strings.ToUpper(cleanInline(s))
}
