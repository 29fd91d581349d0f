// Package eligibility turns a trial's age and sex constraints into rules and
// checks a patient against them. Anything it cannot check is reported as
// indeterminate, never as a silent pass.
package eligibility

import (
	"fmt"
	"strconv"
	"strings"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
)

// Evaluator is stateless; one instance serves concurrent requests.
type Evaluator struct {
	metrics *metrics.Metrics
}

func New(m *metrics.Metrics) *Evaluator {
	return &Evaluator{metrics: m}
}

// Evaluate checks patient against every rule derived from trial.
func (e *Evaluator) Evaluate(trial domain.TrialRecord, patient domain.PatientProfile) domain.EligibilityAssessment {
	rules := ParseRules(trial)
	out := domain.EligibilityAssessment{
		NCTID:   trial.NCTID,
		Reasons: make([]string, 0, len(rules)),
		Rules:   make([]domain.RuleOutcome, 0, len(rules)),
	}
	failed, unknown := false, false
	for _, r := range rules {
		res := Check(r, patient)
		out.Rules = append(out.Rules, res)
		out.Reasons = append(out.Reasons, string(res.Outcome)+": "+res.Reason)
		switch res.Outcome {
		case domain.OutcomeFail:
			failed = true
		case domain.OutcomeIndeterminate:
			unknown = true
		}
	}

	switch {
	case failed:
		out.Status = domain.StatusIneligible
	case len(rules) == 0:
		out.Status = domain.StatusIndeterminate
		out.Reasons = append(out.Reasons, "indeterminate: no eligibility rules could be derived from this trial")
	case unknown:
		out.Status = domain.StatusIndeterminate
	default:
		out.Status = domain.StatusEligible
		out.Eligible = true
	}
	e.metrics.IncEligibility(string(out.Status))
	return out
}

// Check evaluates a single rule.
func Check(r domain.EligibilityRule, p domain.PatientProfile) domain.RuleOutcome {
	res := domain.RuleOutcome{Rule: r}
	desc := describe(r)
	switch r.Kind {
	case domain.RuleAgeMin, domain.RuleAgeMax:
		if p.Age == nil {
			res.Outcome, res.Reason = domain.OutcomeIndeterminate, desc+": patient age not provided"
			break
		}
		age := float64(*p.Age)
		ok := age > r.Years || (r.Inclusive && age == r.Years)
		if r.Kind == domain.RuleAgeMax {
			ok = age < r.Years || (r.Inclusive && age == r.Years)
		}
		if ok {
			res.Outcome, res.Reason = domain.OutcomePass, fmt.Sprintf("%s met (patient age %d)", desc, *p.Age)
		} else {
			res.Outcome, res.Reason = domain.OutcomeFail, fmt.Sprintf("%s not met (patient age %d)", desc, *p.Age)
		}

	case domain.RuleSexEquals:
		sex := NormalizeSex(p.Sex)
		switch {
		case sex == "":
			res.Outcome, res.Reason = domain.OutcomeIndeterminate, desc+": patient sex not provided or not recognized"
		case sex == r.Operand:
			res.Outcome, res.Reason = domain.OutcomePass, desc+" met"
		default:
			res.Outcome, res.Reason = domain.OutcomeFail, fmt.Sprintf("%s not met (patient is %s)", desc, strings.ToLower(sex))
		}

	case domain.RulePregnancyExcluded:
		if NormalizeSex(p.Sex) == "MALE" {
			res.Outcome, res.Reason = domain.OutcomePass, desc+": not applicable to male patients"
		} else {
			res.Outcome, res.Reason = domain.OutcomeIndeterminate, desc+": pregnancy status is not part of the profile"
		}

	case domain.RuleLabThreshold:
		res.Outcome = domain.OutcomeIndeterminate
		if _, ok := lookupLab(p.Labs, r.Operand); ok {
			res.Reason = desc + ": lab values are accepted but not evaluated"
		} else {
			res.Reason = desc + ": no value supplied and lab values are not evaluated"
		}

	default:
		res.Outcome, res.Reason = domain.OutcomeIndeterminate, desc+": not checked"
	}
	return res
}

// NormalizeSex maps free-form input to FEMALE or MALE, or "" when unknown.
func NormalizeSex(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f", "female", "woman", "women":
		return "FEMALE"
	case "m", "male", "man", "men":
		return "MALE"
	}
	return ""
}

func lookupLab(labs map[string]float64, name string) (float64, bool) {
	for k, v := range labs {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v, true
		}
	}
	return 0, false
}

func describe(r domain.EligibilityRule) string {
	var s string
	switch r.Kind {
	case domain.RuleAgeMin:
		s = "minimum age " + ageOperand(r)
	case domain.RuleAgeMax:
		s = "maximum age " + ageOperand(r)
	case domain.RuleSexEquals:
		s = "sex must be " + strings.ToLower(r.Operand)
	case domain.RulePregnancyExcluded:
		s = "pregnancy or breastfeeding excluded"
	case domain.RuleLabThreshold:
		s = "lab threshold on " + r.Operand
	default:
		s = "criterion not understood"
	}
	switch {
	case r.Source == domain.SourceStructured && r.Clause != "":
		s += fmt.Sprintf(" (structured value %q)", r.Clause)
	case r.Source == domain.SourceStructured:
		s += " (structured)"
	case r.Clause != "":
		s += fmt.Sprintf(" (%s: %q)", r.Source, r.Clause)
	}
	return s
}

func ageOperand(r domain.EligibilityRule) string {
	s := r.Operand
	if s == "" {
		s = strconv.FormatFloat(r.Years, 'f', -1, 64) + " years"
	}
	if !r.Inclusive {
		s += " (exclusive)"
	}
	return s
}
