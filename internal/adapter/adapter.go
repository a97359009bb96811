// Package adapter implements the lobbying-registry adapters. Each adapter
// fetches one registry through a fetcher.Client and emits rows keyed by the
// Key* constants; the shared Normalize turns those rows into records using
// the adapter's own date layouts and name-match confidence.
package adapter

import (
	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// Raw row keys.
const (
	KeyClient    = "client"
	KeyClientReg = "client_registration_number"
	KeyFirmReg   = "firm_registration_number"
	KeyStart     = "start_date"
	KeyEnd       = "end_date"
	// KeyEntity overrides RawResult.EntityName for one row, for registries
	// where one query matches several firm entries.
	KeyEntity = "entity"
)

type base struct {
	id      string
	client  *fetcher.Client
	layouts []normalize.Layout
}

// ID returns the source id.
func (b *base) ID() string { return b.id }

// Normalize maps raw rows into records. Confidence compares the queried firm
// name with the entity name the registry returned for the row.
func (b *base) Normalize(raw *source.RawResult) []model.Record {
	if raw == nil {
		return nil
	}
	out := make([]model.Record, 0, len(raw.Records))
	for _, r := range raw.Records {
		entity := r.String(KeyEntity)
		if entity == "" {
			entity = raw.EntityName
		}
		firmReg := r.String(KeyFirmReg)
		if firmReg == "" {
			firmReg = raw.EntityID
		}
		out = append(out, model.Record{
			FirmName:                 raw.Query,
			FirmRegistrationNumber:   firmReg,
			ClientName:               r.String(KeyClient),
			ClientRegistrationNumber: r.String(KeyClientReg),
			ClientStartDate:          normalize.TryDate(b.id, r.String(KeyStart), b.layouts...),
			ClientEndDate:            normalize.TryDate(b.id, r.String(KeyEnd), b.layouts...),
			Confidence:               Match(raw.Query, entity),
		})
	}
	return out
}

func newResult(query string) *source.RawResult {
	return &source.RawResult{Query: query, Records: []source.RawRecord{}}
}
