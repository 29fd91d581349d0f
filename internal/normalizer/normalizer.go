// Package normalizer turns heterogeneous registry records into domain.TrialRecord.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"trialwhisperer/internal/domain"
)

// Format is the encoding of a raw record.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// RawRecord is one registry record as fetched or read from disk.
type RawRecord struct {
	Source string
	Format Format
	Data   []byte
}

// Schema is the detected variant of a raw record.
type Schema string

const (
	SchemaV2      Schema = "ctgov.v2"
	SchemaClassic Schema = "ctgov.classic"
	SchemaFlat    Schema = "flat"
	SchemaXML     Schema = "ctgov.xml"
)

// Detect decodes raw and reports which schema variant it is.
func Detect(raw RawRecord) (Schema, any, error) {
	format := raw.Format
	if format == "" {
		format = sniffFormat(raw.Data)
	}
	switch format {
	case FormatXML:
		tree, root, err := decodeXML(raw.Data)
		if err != nil {
			return "", nil, err
		}
		if root != "clinical_study" {
			return "", nil, fmt.Errorf("%w: xml root <%s>", domain.ErrUnknownSchema, root)
		}
		return SchemaXML, tree, nil
	case FormatJSON:
		var doc map[string]any
		if err := json.Unmarshal(raw.Data, &doc); err != nil {
			return "", nil, fmt.Errorf("decode json: %w", err)
		}
		switch {
		case doc["protocolSection"] != nil:
			return SchemaV2, doc, nil
		case doc["FullStudy"] != nil || doc["Study"] != nil:
			return SchemaClassic, doc, nil
		case doc["nct_id"] != nil || doc["nctId"] != nil:
			return SchemaFlat, doc, nil
		}
		return "", nil, domain.ErrUnknownSchema
	}
	return "", nil, fmt.Errorf("%w: format %q", domain.ErrUnknownSchema, format)
}

// Normalize maps a raw record onto the canonical trial representation.
// It performs no I/O.
func Normalize(raw RawRecord) (domain.TrialRecord, error) {
	schema, doc, err := Detect(raw)
	if err != nil {
		return domain.TrialRecord{}, &domain.NormalizationError{Source: raw.Source, Err: err}
	}
	rec, err := mappings[schema].apply(doc)
	if err != nil {
		return domain.TrialRecord{}, &domain.NormalizationError{Source: raw.Source, Err: err}
	}
	return rec, nil
}

// NormalizeAll normalizes every record, skipping the ones that fail.
// The returned errors are in input order.
func NormalizeAll(raws []RawRecord) ([]domain.TrialRecord, []error) {
	out := make([]domain.TrialRecord, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		rec, err := Normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

func sniffFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	return FormatJSON
}

func (m mapping) apply(doc any) (domain.TrialRecord, error) {
	id, ok := domain.CanonicalNCTID(firstString(doc, m.id))
	if !ok {
		return domain.TrialRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidNCTID, id)
	}
	rec := domain.TrialRecord{
		NCTID:         id,
		Title:         cleanInline(firstString(doc, m.title)),
		Summary:       cleanParagraphs(firstString(doc, m.summary)),
		Conditions:    collectStrings(doc, m.conditions),
		Interventions: collectInterventions(doc, m.interventions),
		Outcomes:      collectStrings(doc, m.outcomes),
	}

	inclusion := collectCriteria(doc, m.inclusion)
	exclusion := collectCriteria(doc, m.exclusion)
	if len(inclusion) == 0 && len(exclusion) == 0 {
		inclusion, exclusion = SplitCriteria(firstString(doc, m.criteria))
	}
	rec.Eligibility = domain.Eligibility{
		Inclusion:  strings.Join(inclusion, "\n"),
		Exclusion:  strings.Join(exclusion, "\n"),
		MinimumAge: cleanAge(firstString(doc, m.minAge)),
		MaximumAge: cleanAge(firstString(doc, m.maxAge)),
		Sex:        cleanSex(firstString(doc, m.sex)),
	}
	return rec, nil
}
