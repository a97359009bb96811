// Package source defines the contract every lobbying-registry adapter
// implements, the error taxonomy adapters report with, and the Registry that
// maps source ids to adapters and their operating policy.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/lobbyharvest/internal/model"
)

// Adapter queries one external registry. Adapters are pure translation: they
// never retry, sleep between attempts, or inspect other sources.
type Adapter interface {
	// ID returns the stable source identifier (e.g., "fara", "uk_lobbying").
	ID() string

	// Fetch queries the registry for firmName. A query that ran but matched
	// nothing returns a NotFound error or a result with no records; a fetch
	// that was cut short returns both the records gathered so far and an
	// Incomplete error. timeout is the per-attempt budget, also applied to ctx.
	Fetch(ctx context.Context, firmName string, timeout time.Duration) (*RawResult, error)

	// Normalize maps a raw result into canonical records, applying the
	// source's own date formats and name-match confidence.
	Normalize(raw *RawResult) []model.Record
}

// RawResult is what an adapter's Fetch returns: loosely typed client rows
// plus the registry entity the adapter resolved the query to.
type RawResult struct {
	// Query is the firm name as queried.
	Query string `json:"query"`
	// EntityName is the firm name as the registry spells it, if one matched.
	EntityName string `json:"entity_name,omitempty"`
	// EntityID is the registry's identifier for the firm, if it has one.
	EntityID string      `json:"entity_id,omitempty"`
	Records  []RawRecord `json:"records"`
}

// Len returns the number of raw rows, tolerating a nil result.
func (r *RawResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// RawRecord is one adapter-defined key/value row.
type RawRecord map[string]any

// String returns the value at key as a trimmed string. Numbers decoded from
// JSON keep their integer form; other non-string values are formatted with
// %v; missing and nil values yield "".
func (r RawRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// First returns the first non-empty string among keys. Registries that
// changed field spellings over time are read with it.
func (r RawRecord) First(keys ...string) string {
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}
