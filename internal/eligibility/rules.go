package eligibility

import (
	"regexp"
	"strconv"
	"strings"

	"trialwhisperer/internal/domain"
)

// unitPattern is an optional, captured age unit.
const unitPattern = `(?:(years?|yrs?|months?|mos?|weeks?|wks?|days?)\b)?`

var (
	structuredAgeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*` + unitPattern)

	// ageContextRe requires the clause to talk about the patient's age.
	ageContextRe = regexp.MustCompile(`\bage[ds]?\b|\byears? old\b|\bof age\b|\b(?:older|younger) than\b|\b(?:or|and) (?:older|younger|over|under|above|below)\b|^(?:>=|>|<=|<)\s*\d`)
	notAgeRe     = regexp.MustCompile(`expectancy|duration|prior|previous|history|diagnos|follow-up|\blast\b|\bago\b`)
	// durationLeadRe ends a prefix that turns the next number into a duration.
	durationLeadRe = regexp.MustCompile(`\b(?:for|since|within|during|in the (?:past|last)|over the (?:past|last))\s*$`)

	orOlderRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*` + unitPattern + `\s*(?:of age\s*)?(?:or|and)\s*(older|over|above|more|younger|under|below|less)`)
	lowerRe   = regexp.MustCompile(`(>=|>|at least|older than|over|above|greater than|more than|minimum age of|minimum of)\s*(\d+(?:\.\d+)?)\s*` + unitPattern)
	upperRe   = regexp.MustCompile(`(<=|<|at most|younger than|under|below|less than|maximum age of|maximum of|up to)\s*(\d+(?:\.\d+)?)\s*` + unitPattern)
	rangeRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*` + unitPattern + `\s*(?:-|to|and)\s*(\d+(?:\.\d+)?)\s*` + unitPattern)

	pregnancyRe = regexp.MustCompile(`pregnan[a-z]*|breast-?feeding|lactating|nursing mothers`)
	labRe       = regexp.MustCompile(`\b(ecog|karnofsky|kps|lvef|ejection fraction|creatinine clearance|creatinine|e?gfr|ha?emoglobin|hba1c|platelets?|neutrophils?|anc|bilirubin|alt|ast|albumin|inr|bmi|qtc|wbc|glucose|potassium|sodium|cd4|viral load|psa|ldl|triglycerides|[a-z]+ score)\b`)
	digitRe     = regexp.MustCompile(`\d`)
	sexOnlyRe   = regexp.MustCompile(`^(?:(?:only|must be|patients must be)\s+)?(?:healthy\s+|adult\s+)?(male|female|men|women)(?:\s+(?:patients|participants|subjects|volunteers|only))*$`)
	sexFieldRe  = regexp.MustCompile(`\b(?:sex|gender)\s*[:=]?\s*(male|female)\b(?:\s+only\b)?`)
	sexInlineRe = regexp.MustCompile(`\bonly\s+(male|female|men|women)\b|\b(male|female|men|women)(?:\s+(?:patients|participants|subjects|volunteers))?\s+only\b`)
	bothSexesRe = regexp.MustCompile(`\b(?:male|men)\b.*\b(?:female|women)\b|\b(?:female|women)\b.*\b(?:male|men)\b`)
	wordRe      = regexp.MustCompile(`[a-z]+`)
	clauseSplit = regexp.MustCompile(`;|,\s+`)
)

// ParseRules derives every rule for a trial, structured metadata first,
// then inclusion and exclusion criteria in text order.
func ParseRules(trial domain.TrialRecord) []domain.EligibilityRule {
	var rules []domain.EligibilityRule
	el := trial.Eligibility
	if r, ok := structuredAge(domain.RuleAgeMin, el.MinimumAge); ok {
		rules = append(rules, r)
	}
	if r, ok := structuredAge(domain.RuleAgeMax, el.MaximumAge); ok {
		rules = append(rules, r)
	}
	switch strings.ToUpper(strings.TrimSpace(el.Sex)) {
	case "FEMALE", "MALE":
		rules = append(rules, domain.EligibilityRule{
			Kind:    domain.RuleSexEquals,
			Operand: strings.ToUpper(strings.TrimSpace(el.Sex)),
			Source:  domain.SourceStructured,
		})
	}
	rules = append(rules, criteriaRules(el.Inclusion, domain.SourceInclusion)...)
	rules = append(rules, criteriaRules(el.Exclusion, domain.SourceExclusion)...)
	return rules
}

func structuredAge(kind domain.RuleKind, value string) (domain.EligibilityRule, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.EligibilityRule{}, false
	}
	m := structuredAgeRe.FindStringSubmatch(strings.ToLower(value))
	if m == nil {
		return domain.EligibilityRule{Kind: domain.RuleUnparsed, Source: domain.SourceStructured, Clause: value}, true
	}
	return domain.EligibilityRule{
		Kind:      kind,
		Operand:   value,
		Years:     toYears(m[1], m[2]),
		Inclusive: true,
		Source:    domain.SourceStructured,
	}, true
}

// criteriaRules parses one criterion per line. Lines are split into clauses
// on commas and semicolons; a line where no clause is understood yields a
// single unparsed rule instead of one per fragment.
func criteriaRules(text string, src domain.RuleSource) []domain.EligibilityRule {
	var rules []domain.EligibilityRule
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var parsed, unparsed []domain.EligibilityRule
		for _, clause := range clauseSplit.Split(line, -1) {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			got := clauseRules(clause, src)
			if len(got) == 0 {
				unparsed = append(unparsed, domain.EligibilityRule{Kind: domain.RuleUnparsed, Source: src, Clause: clause})
				continue
			}
			parsed = append(parsed, got...)
		}
		if len(parsed) == 0 {
			rules = append(rules, domain.EligibilityRule{Kind: domain.RuleUnparsed, Source: src, Clause: line})
			continue
		}
		rules = append(rules, parsed...)
		rules = append(rules, unparsed...)
	}
	return rules
}

// clauseRules returns nothing when the clause is not understood at all. When
// only part of it is, the rest is kept as an unparsed rule.
func clauseRules(clause string, src domain.RuleSource) []domain.EligibilityRule {
	c := normalizeClause(clause)
	var (
		rules   []domain.EligibilityRule
		covered [][2]int
		whole   bool
	)

	if locs := pregnancyRe.FindAllStringIndex(c, -1); locs != nil {
		rules = append(rules, domain.EligibilityRule{Kind: domain.RulePregnancyExcluded, Operand: "pregnancy", Source: src, Clause: clause})
		for _, loc := range locs {
			covered = append(covered, [2]int{loc[0], loc[1]})
		}
	}
	if digitRe.MatchString(c) {
		if loc := labRe.FindStringSubmatchIndex(c); loc != nil {
			rules = append(rules, domain.EligibilityRule{Kind: domain.RuleLabThreshold, Operand: c[loc[2]:loc[3]], Source: src, Clause: clause})
			covered = append(covered, [2]int{loc[0], loc[1]})
		}
	}
	for _, b := range ageBounds(c) {
		r, ok := b.rule(src, clause)
		if !ok {
			rules = append(rules, domain.EligibilityRule{Kind: domain.RuleUnparsed, Source: src, Clause: clause})
			whole = true
			break
		}
		rules = append(rules, r)
		covered = append(covered, b.at)
	}
	if sex, at := sexRestriction(c); sex != "" {
		if src == domain.SourceExclusion {
			sex = oppositeSex(sex)
		}
		rules = append(rules, domain.EligibilityRule{Kind: domain.RuleSexEquals, Operand: sex, Source: src, Clause: clause})
		covered = append(covered, at)
	}

	if len(rules) > 0 && !whole {
		if rest := remainder(c, covered); rest != "" {
			rules = append(rules, domain.EligibilityRule{Kind: domain.RuleUnparsed, Source: src, Clause: rest})
		}
	}
	return rules
}

// fillerWords carry no restriction of their own once the rules in a clause
// have been matched.
var fillerWords = map[string]struct{}{
	"age": {}, "aged": {}, "ages": {}, "year": {}, "years": {}, "yrs": {}, "old": {}, "older": {}, "younger": {},
	"than": {}, "and": {}, "the": {}, "are": {}, "who": {}, "with": {}, "not": {}, "any": {}, "all": {},
	"patients": {}, "patient": {}, "participants": {}, "subjects": {}, "volunteers": {}, "adults": {}, "adult": {},
	"healthy": {}, "must": {}, "only": {}, "men": {}, "women": {}, "male": {}, "female": {}, "sex": {}, "gender": {},
	"excluded": {}, "exclude": {}, "excluding": {}, "inclusive": {}, "least": {}, "most": {}, "over": {},
	"under": {}, "above": {}, "below": {}, "between": {}, "from": {}, "more": {}, "less": {}, "greater": {},
	"equal": {}, "minimum": {}, "maximum": {}, "months": {}, "weeks": {}, "days": {},
	"min": {}, "cells": {}, "mmol": {}, "umol": {}, "uln": {}, "normal": {}, "upper": {}, "limit": {},
}

// remainder blanks the covered spans of c and returns what is left when it
// still holds a meaningful word.
func remainder(c string, covered [][2]int) string {
	rest := []byte(c)
	for _, at := range covered {
		for i := at[0]; i < at[1] && i < len(rest); i++ {
			rest[i] = ' '
		}
	}
	left := string(rest)
	for _, w := range wordRe.FindAllString(left, -1) {
		if len(w) < 3 {
			continue
		}
		if _, ok := fillerWords[w]; !ok {
			return strings.Trim(strings.Join(strings.Fields(left), " "), " ,;:.-")
		}
	}
	return ""
}

func normalizeClause(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("≥", ">=", "≤", "<=", "–", "-", "—", "-", "=>", ">=", "=<", "<=").Replace(s)
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	return strings.Join(strings.Fields(s), " ")
}

type bound struct {
	kind      domain.RuleKind
	years     float64
	inclusive bool
	operand   string
	// twoSided marks a range, which an exclusion clause cannot express as a
	// single bound.
	twoSided bool
	// at is the matched span in the normalized clause.
	at [2]int
}

func (b bound) rule(src domain.RuleSource, clause string) (domain.EligibilityRule, bool) {
	if src == domain.SourceExclusion {
		if b.twoSided {
			return domain.EligibilityRule{}, false
		}
		// "excluded if under 18" is a minimum age of 18
		if b.kind == domain.RuleAgeMin {
			b.kind = domain.RuleAgeMax
		} else {
			b.kind = domain.RuleAgeMin
		}
		b.inclusive = !b.inclusive
	}
	return domain.EligibilityRule{
		Kind:      b.kind,
		Operand:   b.operand,
		Years:     b.years,
		Inclusive: b.inclusive,
		Source:    src,
		Clause:    clause,
	}, true
}

func ageBounds(c string) []bound {
	if !ageContextRe.MatchString(c) || notAgeRe.MatchString(c) {
		return nil
	}
	if m, at, ok := ageMatch(orOlderRe, c); ok {
		b := bound{years: toYears(m[1], m[2]), inclusive: true, operand: operand(m[1], m[2]), at: at}
		switch m[3] {
		case "older", "over", "above", "more":
			b.kind = domain.RuleAgeMin
		default:
			b.kind = domain.RuleAgeMax
		}
		return []bound{b}
	}

	var out []bound
	if m, at, ok := ageMatch(lowerRe, c); ok {
		incl := m[1] == ">=" || m[1] == "at least" || strings.HasPrefix(m[1], "minimum")
		out = append(out, bound{kind: domain.RuleAgeMin, years: toYears(m[2], m[3]), inclusive: incl, operand: operand(m[2], m[3]), at: at})
	}
	if m, at, ok := ageMatch(upperRe, c); ok {
		incl := m[1] == "<=" || m[1] == "at most" || m[1] == "up to" || strings.HasPrefix(m[1], "maximum")
		out = append(out, bound{kind: domain.RuleAgeMax, years: toYears(m[2], m[3]), inclusive: incl, operand: operand(m[2], m[3]), at: at})
	}
	if len(out) > 0 {
		return out
	}

	if m, at, ok := ageMatch(rangeRe, c); ok {
		unit := m[4]
		if unit == "" {
			unit = m[2]
		}
		return []bound{
			{kind: domain.RuleAgeMin, years: toYears(m[1], unit), inclusive: true, operand: operand(m[1], unit), twoSided: true, at: at},
			{kind: domain.RuleAgeMax, years: toYears(m[3], unit), inclusive: true, operand: operand(m[3], unit), twoSided: true, at: at},
		}
	}
	return nil
}

// ageMatch returns the first match of re that is not a duration such as
// "for less than 2 years", with its span.
func ageMatch(re *regexp.Regexp, c string) ([]string, [2]int, bool) {
	for _, loc := range re.FindAllStringSubmatchIndex(c, -1) {
		if durationLeadRe.MatchString(c[:loc[0]]) {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = c[loc[2*i]:loc[2*i+1]]
			}
		}
		return m, [2]int{loc[0], loc[1]}, true
	}
	return nil, [2]int{}, false
}

// sexRestriction finds a restriction to one sex and its span. A clause
// naming both sexes restricts neither.
func sexRestriction(c string) (string, [2]int) {
	if bothSexesRe.MatchString(c) {
		return "", [2]int{}
	}
	var word string
	var at [2]int
	for _, re := range []*regexp.Regexp{sexOnlyRe, sexFieldRe, sexInlineRe} {
		loc := re.FindStringSubmatchIndex(c)
		if loc == nil {
			continue
		}
		for g := 1; 2*g < len(loc); g++ {
			if loc[2*g] >= 0 {
				word = c[loc[2*g]:loc[2*g+1]]
				break
			}
		}
		at = [2]int{loc[0], loc[1]}
		break
	}
	switch word {
	case "":
		return "", [2]int{}
	case "female", "women":
		return "FEMALE", at
	default:
		return "MALE", at
	}
}

func oppositeSex(s string) string {
	if s == "FEMALE" {
		return "MALE"
	}
	return "FEMALE"
}

func toYears(num, unit string) float64 {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	switch {
	case strings.HasPrefix(unit, "mo"):
		return v / 12
	case strings.HasPrefix(unit, "w"):
		return v * 7 / 365.25
	case strings.HasPrefix(unit, "d"):
		return v / 365.25
	default:
		return v
	}
}

func operand(num, unit string) string {
	switch {
	case strings.HasPrefix(unit, "mo"):
		return num + " months"
	case strings.HasPrefix(unit, "w"):
		return num + " weeks"
	case strings.HasPrefix(unit, "d"):
		return num + " days"
	default:
		return num + " years"
	}
}
