package model

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Confidence is the adapter-asserted certainty that the registry entity it
// returned is the firm that was queried.
type Confidence int

const (
	// Unverified means the adapter could not tie the returned entity to the query.
	Unverified Confidence = iota
	// FuzzyMatch means the returned entity name only approximately matched.
	FuzzyMatch
	// Exact means the returned entity name matched the query.
	Exact
)

// String returns the wire name of the confidence level.
func (c Confidence) String() string {
	switch c {
	case Exact:
		return "exact"
	case FuzzyMatch:
		return "fuzzy_match"
	default:
		return "unverified"
	}
}

// ParseConfidence converts a wire name into a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch s {
	case "exact":
		return Exact, nil
	case "fuzzy_match":
		return FuzzyMatch, nil
	case "unverified", "":
		return Unverified, nil
	default:
		return Unverified, eris.Errorf("unknown confidence: %q (valid: exact, fuzzy_match, unverified)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(b []byte) error {
	parsed, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Flag marks a record-level anomaly observed during normalization.
type Flag string

const (
	// FlagStartAfterEnd marks a record whose start date is after its end date.
	// The dates are kept as reported.
	FlagStartAfterEnd Flag = "start_after_end"
)

// Record is one canonical firm→client relationship.
//
// Records produced by the normalizer carry exactly one source id. Records
// produced by the merger may carry several, plus any conflicting values in
// the Alternate* fields.
type Record struct {
	FirmName                 string     `json:"firm_name"`
	FirmRegistrationNumber   string     `json:"firm_registration_number,omitempty"`
	ClientName               string     `json:"client_name"`
	ClientRegistrationNumber string     `json:"client_registration_number,omitempty"`
	ClientStartDate          *Date      `json:"client_start_date,omitempty"`
	ClientEndDate            *Date      `json:"client_end_date,omitempty"`
	SourceIDs                []string   `json:"source_ids"`
	Confidence               Confidence `json:"confidence"`
	Flags                    []Flag     `json:"flags,omitempty"`

	AlternateClientNames             []string `json:"alternate_client_names,omitempty"`
	AlternateFirmRegistrationNumbers []string `json:"alternate_firm_registration_numbers,omitempty"`
	AlternateStartDates              []Date   `json:"alternate_start_dates,omitempty"`
	AlternateEndDates                []Date   `json:"alternate_end_dates,omitempty"`
}

// SourceID returns the first contributing source, or "" when none is set.
func (r Record) SourceID() string {
	if len(r.SourceIDs) == 0 {
		return ""
	}
	return r.SourceIDs[0]
}

// HasFlag reports whether f is set on the record.
func (r Record) HasFlag(f Flag) bool {
	return slices.Contains(r.Flags, f)
}

// Clone returns a deep copy so callers can build on a record without
// touching the original.
func (r Record) Clone() Record {
	out := r
	if r.ClientStartDate != nil {
		d := *r.ClientStartDate
		out.ClientStartDate = &d
	}
	if r.ClientEndDate != nil {
		d := *r.ClientEndDate
		out.ClientEndDate = &d
	}
	out.SourceIDs = slices.Clone(r.SourceIDs)
	out.Flags = slices.Clone(r.Flags)
	out.AlternateClientNames = slices.Clone(r.AlternateClientNames)
	out.AlternateFirmRegistrationNumbers = slices.Clone(r.AlternateFirmRegistrationNumbers)
	out.AlternateStartDates = slices.Clone(r.AlternateStartDates)
	out.AlternateEndDates = slices.Clone(r.AlternateEndDates)
	return out
}
