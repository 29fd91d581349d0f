package normalizer

import (
	"fmt"
	"strings"
)

// mapping lists, per canonical field, the alternate dotted paths a schema
// may carry it under. Scalar fields take the first non-empty path; list
// fields collect every path. Arrays are flattened at each step.
type mapping struct {
	id            []string
	title         []string
	summary       []string
	conditions    []string
	interventions []string
	criteria      []string
	inclusion     []string
	exclusion     []string
	minAge        []string
	maxAge        []string
	sex           []string
	outcomes      []string
}

func classicPaths(suffixes ...string) []string {
	out := make([]string, 0, 2*len(suffixes))
	for _, s := range suffixes {
		out = append(out, "FullStudy.Study.ProtocolSection."+s, "Study.ProtocolSection."+s)
	}
	return out
}

var mappings = map[Schema]mapping{
	SchemaV2: {
		id:            []string{"protocolSection.identificationModule.nctId"},
		title:         []string{"protocolSection.identificationModule.briefTitle", "protocolSection.identificationModule.officialTitle"},
		summary:       []string{"protocolSection.descriptionModule.briefSummary", "protocolSection.descriptionModule.detailedDescription"},
		conditions:    []string{"protocolSection.conditionsModule.conditions"},
		interventions: []string{"protocolSection.armsInterventionsModule.interventions"},
		criteria:      []string{"protocolSection.eligibilityModule.eligibilityCriteria"},
		minAge:        []string{"protocolSection.eligibilityModule.minimumAge"},
		maxAge:        []string{"protocolSection.eligibilityModule.maximumAge"},
		sex:           []string{"protocolSection.eligibilityModule.sex"},
		outcomes: []string{
			"protocolSection.outcomesModule.primaryOutcomes.measure",
			"protocolSection.outcomesModule.secondaryOutcomes.measure",
		},
	},
	SchemaClassic: {
		id:            classicPaths("IdentificationModule.NCTId"),
		title:         classicPaths("IdentificationModule.BriefTitle", "IdentificationModule.OfficialTitle"),
		summary:       classicPaths("DescriptionModule.BriefSummary", "DescriptionModule.DetailedDescription"),
		conditions:    classicPaths("ConditionsModule.ConditionList.Condition"),
		interventions: classicPaths("ArmsInterventionsModule.InterventionList.Intervention"),
		criteria:      classicPaths("EligibilityModule.EligibilityCriteria"),
		minAge:        classicPaths("EligibilityModule.MinimumAge"),
		maxAge:        classicPaths("EligibilityModule.MaximumAge"),
		sex:           classicPaths("EligibilityModule.Gender", "EligibilityModule.Sex"),
		outcomes: classicPaths(
			"OutcomesModule.PrimaryOutcomeList.PrimaryOutcome.PrimaryOutcomeMeasure",
			"OutcomesModule.SecondaryOutcomeList.SecondaryOutcome.SecondaryOutcomeMeasure",
		),
	},
	SchemaFlat: {
		id:            []string{"nct_id", "nctId"},
		title:         []string{"title", "brief_title", "official_title"},
		summary:       []string{"summary", "brief_summary", "detailed_description"},
		conditions:    []string{"condition", "conditions"},
		interventions: []string{"intervention", "interventions"},
		criteria:      []string{"eligibility_criteria", "criteria", "eligibility.criteria", "eligibility"},
		inclusion:     []string{"eligibility.inclusion", "inclusion"},
		exclusion:     []string{"eligibility.exclusion", "exclusion"},
		minAge:        []string{"minimum_age", "eligibility.minimum_age"},
		maxAge:        []string{"maximum_age", "eligibility.maximum_age"},
		sex:           []string{"sex", "gender", "eligibility.sex", "eligibility.gender"},
		outcomes:      []string{"outcomes", "primary_outcome", "secondary_outcome", "primary_outcome.measure", "secondary_outcome.measure"},
	},
	SchemaXML: {
		id:            []string{"id_info.nct_id"},
		title:         []string{"brief_title", "official_title"},
		summary:       []string{"brief_summary.textblock", "detailed_description.textblock"},
		conditions:    []string{"condition"},
		interventions: []string{"intervention"},
		criteria:      []string{"eligibility.criteria.textblock"},
		minAge:        []string{"eligibility.minimum_age"},
		maxAge:        []string{"eligibility.maximum_age"},
		sex:           []string{"eligibility.gender", "eligibility.sex"},
		outcomes:      []string{"primary_outcome.measure", "secondary_outcome.measure"},
	},
}

var (
	interventionTypeKeys = []string{"type", "InterventionType", "intervention_type"}
	interventionNameKeys = []string{"name", "InterventionName", "intervention_name"}
)

// lookup walks a dotted path through decoded JSON/XML, flattening arrays.
func lookup(doc any, path string) []any {
	current := []any{doc}
	for _, key := range strings.Split(path, ".") {
		var next []any
		for _, node := range flatten(current) {
			obj, ok := node.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := obj[key]; ok && v != nil {
				next = append(next, v)
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return flatten(current)
}

func flatten(nodes []any) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		if list, ok := n.([]any); ok {
			out = append(out, flatten(list)...)
			continue
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, bool, int:
		return fmt.Sprint(t)
	}
	return ""
}

func firstString(doc any, paths []string) string {
	for _, p := range paths {
		for _, v := range lookup(doc, p) {
			if s := scalar(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func collectStrings(doc any, paths []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, p := range paths {
		for _, v := range lookup(doc, p) {
			s := cleanInline(scalar(v))
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// collectCriteria reads criterion lists. A string value holds one criterion
// per line; an array holds one per element.
func collectCriteria(doc any, paths []string) []string {
	out := []string{}
	for _, p := range paths {
		for _, v := range lookup(doc, p) {
			for _, line := range strings.Split(scalar(v), "\n") {
				out = append(out, criterionLines(line)...)
			}
		}
	}
	return out
}

func collectInterventions(doc any, paths []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, p := range paths {
		for _, v := range lookup(doc, p) {
			var s string
			if obj, ok := v.(map[string]any); ok {
				s = formatIntervention(firstKey(obj, interventionTypeKeys), firstKey(obj, interventionNameKeys))
			} else {
				s = cleanInline(scalar(v))
			}
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func firstKey(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s := cleanInline(scalar(obj[k])); s != "" {
			return s
		}
	}
	return ""
}

// formatIntervention renders "Drug: Name". Registry types such as
// DRUG or BEHAVIORAL are title-cased.
func formatIntervention(kind, name string) string {
	if name == "" {
		return ""
	}
	if kind == "" {
		return name
	}
	kind = strings.ReplaceAll(strings.ToLower(kind), "_", " ")
	kind = strings.ToUpper(kind[:1]) + kind[1:]
	return kind + ": " + name
}
