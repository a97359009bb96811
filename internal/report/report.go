// Package report assembles the result of one query and serializes it.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/lobbyharvest/internal/model"
)

// Assemble packages merged records and per-source outcomes into a report.
// Outcome records are kept as produced; records is the merged set.
func Assemble(firm string, records []model.Record, outcomes []model.SourceOutcome, now time.Time) *model.ResultReport {
	if records == nil {
		records = []model.Record{}
	}
	if outcomes == nil {
		outcomes = []model.SourceOutcome{}
	}
	return &model.ResultReport{
		RunID:       uuid.NewString(),
		FirmName:    firm,
		Records:     records,
		Outcomes:    outcomes,
		GeneratedAt: now.UTC(),
	}
}
