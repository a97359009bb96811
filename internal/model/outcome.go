package model

import (
	"encoding/json"
	"time"
)

// Status is the terminal state of one source invocation.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

// ErrorKind classifies why a source did not fully succeed.
type ErrorKind string

const (
	// ErrNotFound means the query ran but the registry has no matching entity.
	ErrNotFound ErrorKind = "not_found"
	// ErrTimeout means an attempt exceeded the source's policy timeout.
	ErrTimeout ErrorKind = "timeout"
	// ErrTransientFetch is a retryable network or server error.
	ErrTransientFetch ErrorKind = "transient_fetch_error"
	// ErrParse means the site structure no longer matches the adapter.
	ErrParse ErrorKind = "parse_error"
	// ErrCancelled means the query-level deadline expired first.
	ErrCancelled ErrorKind = "cancelled"
	// ErrIncomplete accompanies partial results (e.g. pagination cut short).
	ErrIncomplete ErrorKind = "incomplete"
	// ErrInternal covers adapter panics and errors nothing else classifies.
	ErrInternal ErrorKind = "internal"
)

// Retryable reports whether the dispatcher may retry an attempt that failed
// with this kind.
func (k ErrorKind) Retryable() bool {
	return k == ErrTimeout || k == ErrTransientFetch
}

// OutcomeError is the serializable error attached to a SourceOutcome.
type OutcomeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// SourceOutcome is the terminal result of dispatching one source.
type SourceOutcome struct {
	SourceID string        `json:"source_id"`
	Status   Status        `json:"status"`
	Records  []Record      `json:"records"`
	Error    *OutcomeError `json:"error,omitempty"`
	// NotFound is set when the registry reported no matching entity. The
	// status stays Success: the source was checked and holds nothing.
	NotFound bool          `json:"not_found,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"-"`
}

// Succeeded reports whether the source produced a usable answer, including
// "no clients" and partial answers.
func (o SourceOutcome) Succeeded() bool {
	return o.Status == StatusSuccess || o.Status == StatusPartialSuccess
}

// MarshalJSON renders Duration as integer milliseconds.
func (o SourceOutcome) MarshalJSON() ([]byte, error) {
	type alias SourceOutcome
	records := o.Records
	if records == nil {
		records = []Record{}
	}
	a := alias(o)
	a.Records = records
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias: a, DurationMS: o.Duration.Milliseconds()})
}

// UnmarshalJSON restores Duration from duration_ms.
func (o *SourceOutcome) UnmarshalJSON(b []byte) error {
	type alias SourceOutcome
	var aux struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*o = SourceOutcome(aux.alias)
	o.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	return nil
}
