// Package normalize turns adapter output into canonical records: it runs
// each source's own Normalize and then applies the rules every source
// shares (whitespace, required client name, date sanity, provenance).
package normalize

import (
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/dispatch"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// Outcomes converts dispatch results into source outcomes carrying canonical
// records, one per result and in the same order.
func Outcomes(firm string, results []dispatch.Result) []model.SourceOutcome {
	out := make([]model.SourceOutcome, len(results))
	for i, r := range results {
		out[i] = Outcome(firm, r)
	}
	return out
}

// Outcome normalizes one dispatch result. Failed results pass through with
// no records. A panic inside the adapter's Normalize fails the outcome with
// a parse error.
func Outcome(firm string, r dispatch.Result) model.SourceOutcome {
	o := r.Outcome
	o.Records = nil
	if !o.Succeeded() || r.Raw == nil || r.Adapter == nil {
		return o
	}

	raw, err := safeNormalize(r.Adapter, r.Raw)
	if err != nil {
		zap.L().Error("adapter normalize failed",
			zap.String("source", o.SourceID),
			zap.Error(err),
		)
		o.Status = model.StatusFailed
		o.Error = &model.OutcomeError{Kind: model.ErrParse, Message: err.Error()}
		return o
	}

	o.Records = Records(firm, o.SourceID, raw)
	return o
}

func safeNormalize(a source.Adapter, raw *source.RawResult) (recs []model.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs = nil
			err = eris.Errorf("normalize panic: %v", r)
		}
	}()
	return a.Normalize(raw), nil
}

// Records applies the shared canonicalization rules to one source's records.
// Records without a client name are dropped and logged.
func Records(firm, sourceID string, recs []model.Record) []model.Record {
	out := make([]model.Record, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		c, ok := Canonicalize(firm, sourceID, rec)
		if !ok {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		zap.L().Warn("dropped records without client name",
			zap.String("source", sourceID),
			zap.String("firm", firm),
			zap.Int("dropped", dropped),
		)
	}
	return out
}

// Canonicalize returns the canonical form of rec as produced by sourceID for
// a query on firm. ok is false when the record has no client name.
//
// firm_name is always the queried name, whitespace-collapsed. Dates lose any
// precision finer than their granularity tag, and a start after the end is
// flagged rather than swapped.
func Canonicalize(firm, sourceID string, rec model.Record) (model.Record, bool) {
	c := model.Record{
		FirmName:                 CollapseSpace(firm),
		FirmRegistrationNumber:   CollapseSpace(rec.FirmRegistrationNumber),
		ClientName:               CollapseSpace(rec.ClientName),
		ClientRegistrationNumber: CollapseSpace(rec.ClientRegistrationNumber),
		ClientStartDate:          truncate(rec.ClientStartDate),
		ClientEndDate:            truncate(rec.ClientEndDate),
		SourceIDs:                []string{sourceID},
		Confidence:               rec.Confidence,
	}
	if c.ClientName == "" {
		return model.Record{}, false
	}

	for _, f := range rec.Flags {
		if !slices.Contains(c.Flags, f) {
			c.Flags = append(c.Flags, f)
		}
	}
	if c.ClientStartDate != nil && c.ClientEndDate != nil &&
		c.ClientStartDate.After(*c.ClientEndDate) && !c.HasFlag(model.FlagStartAfterEnd) {
		c.Flags = append(c.Flags, model.FlagStartAfterEnd)
	}
	return c, true
}

// truncate copies d with fields finer than its granularity zeroed. Dates
// with no granularity carry no usable value and become nil.
func truncate(d *model.Date) *model.Date {
	if d == nil {
		return nil
	}
	out := *d
	switch out.Granularity {
	case model.GranularityYear:
		out.Month, out.Day = 0, 0
	case model.GranularityMonth:
		out.Day = 0
	case model.GranularityDay:
	default:
		return nil
	}
	return &out
}
