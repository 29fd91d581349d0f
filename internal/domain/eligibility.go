package domain

// RuleKind classifies an eligibility rule.
type RuleKind string

const (
	RuleAgeMin            RuleKind = "age_min"
	RuleAgeMax            RuleKind = "age_max"
	RuleSexEquals         RuleKind = "sex_equals"
	RulePregnancyExcluded RuleKind = "pregnancy_excluded"
	RuleLabThreshold      RuleKind = "lab_threshold"
	RuleUnparsed          RuleKind = "unparsed_criterion"
)

// RuleSource says where a rule was derived from.
type RuleSource string

const (
	SourceStructured RuleSource = "structured"
	SourceInclusion  RuleSource = "inclusion"
	SourceExclusion  RuleSource = "exclusion"
)

// EligibilityRule is one machine-checkable condition.
// For age rules Operand is a bound in years, possibly fractional.
// Inclusive is meaningful only for age rules.
type EligibilityRule struct {
	Kind      RuleKind   `json:"kind"`
	Operand   string     `json:"operand,omitempty"`
	Years     float64    `json:"years,omitempty"`
	Inclusive bool       `json:"inclusive,omitempty"`
	Source    RuleSource `json:"source"`
	Clause    string     `json:"clause,omitempty"`
}

// Outcome is the result of checking one rule against a patient.
type Outcome string

const (
	OutcomePass          Outcome = "pass"
	OutcomeFail          Outcome = "fail"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// RuleOutcome records a rule with its result and an explanation.
type RuleOutcome struct {
	Rule    EligibilityRule `json:"rule"`
	Outcome Outcome         `json:"outcome"`
	Reason  string          `json:"reason"`
}

// EligibilityStatus is the overall verdict.
type EligibilityStatus string

const (
	StatusEligible      EligibilityStatus = "eligible"
	StatusIneligible    EligibilityStatus = "ineligible"
	StatusIndeterminate EligibilityStatus = "indeterminate"
)

// EligibilityAssessment is the verdict plus the per-rule reasoning.
type EligibilityAssessment struct {
	NCTID    string            `json:"nct_id"`
	Status   EligibilityStatus `json:"status"`
	Eligible bool              `json:"eligible"`
	Reasons  []string          `json:"reasons"`
	Rules    []RuleOutcome     `json:"rules"`
}
