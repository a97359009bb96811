package model

import "time"

// ResultReport is the artifact of one query: the deduplicated records plus
// exactly one outcome per dispatched source. It is built once and never
// mutated afterwards.
type ResultReport struct {
	RunID       string          `json:"run_id"`
	FirmName    string          `json:"firm_name"`
	Records     []Record        `json:"records"`
	Outcomes    []SourceOutcome `json:"source_outcomes"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AnySucceeded reports whether at least one source produced a usable answer.
func (r *ResultReport) AnySucceeded() bool {
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

// Failed returns the outcomes with StatusFailed, in report order.
func (r *ResultReport) Failed() []SourceOutcome {
	var out []SourceOutcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome for a source id.
func (r *ResultReport) Outcome(sourceID string) (SourceOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.SourceID == sourceID {
			return o, true
		}
	}
	return SourceOutcome{}, false
}
