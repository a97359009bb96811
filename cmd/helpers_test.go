package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/lobbyharvest/internal/dispatch"
	"github.com/sells-group/lobbyharvest/internal/harvest"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/source"
)

var fixedNow = time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)

// stubAdapter returns fixed clients for every firm, or err.
type stubAdapter struct {
	id      string
	clients []string
	err     error
}

func (s stubAdapter) ID() string { return s.id }

func (s stubAdapter) Fetch(_ context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	raw := &source.RawResult{Query: firm, EntityName: firm}
	for _, c := range s.clients {
		raw.Records = append(raw.Records, source.RawRecord{"client": c})
	}
	return raw, nil
}

func (s stubAdapter) Normalize(raw *source.RawResult) []model.Record {
	out := make([]model.Record, 0, raw.Len())
	for _, r := range raw.Records {
		out = append(out, model.Record{
			FirmName:   raw.Query,
			ClientName: r.String("client"),
			Confidence: model.Exact,
		})
	}
	return out
}

func newTestHarvester(t *testing.T, adapters ...stubAdapter) *harvest.Harvester {
	t.Helper()
	reg := source.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(a, source.Policy{
			Timeout:      time.Second,
			RetryBackoff: time.Millisecond,
			Enabled:      true,
		}))
	}
	return harvest.New(reg, dispatch.New(), harvest.WithClock(func() time.Time { return fixedNow }))
}
