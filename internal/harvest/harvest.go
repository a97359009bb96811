// Package harvest runs one firm query end to end: source selection, dispatch,
// normalization, merge and report assembly.
package harvest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/dispatch"
	"github.com/sells-group/lobbyharvest/internal/merge"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/report"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// DefaultQueryTimeout is the wall-clock ceiling across all sources of a query.
const DefaultQueryTimeout = 2 * time.Minute

// Query selects a firm and, optionally, a subset of sources. An empty
// Sources list means every enabled source.
type Query struct {
	FirmName string   `json:"firm_name"`
	Sources  []string `json:"sources,omitempty"`
}

// Harvester ties the registry and dispatcher together. It is safe for
// concurrent use; concurrent queries share per-source rate limiters and
// circuit breakers through the registry and dispatcher.
type Harvester struct {
	registry     *source.Registry
	dispatcher   *dispatch.Dispatcher
	queryTimeout time.Duration
	now          func() time.Time
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithQueryTimeout sets the query-level deadline. Zero or negative disables it.
func WithQueryTimeout(d time.Duration) Option {
	return func(h *Harvester) { h.queryTimeout = d }
}

// WithClock overrides the clock used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(h *Harvester) { h.now = now }
}

// New creates a Harvester. A nil dispatcher gets dispatch.New().
func New(reg *source.Registry, d *dispatch.Dispatcher, opts ...Option) *Harvester {
	if d == nil {
		d = dispatch.New()
	}
	h := &Harvester{
		registry:     reg,
		dispatcher:   d,
		queryTimeout: DefaultQueryTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Registry returns the source registry.
func (h *Harvester) Registry() *source.Registry { return h.registry }

// Dispatcher returns the dispatcher.
func (h *Harvester) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Run executes q. Source failures are reported in the result, never
// returned; an error means the query itself was invalid.
func (h *Harvester) Run(ctx context.Context, q Query) (*model.ResultReport, error) {
	firm := normalize.CollapseSpace(q.FirmName)
	if firm == "" {
		return nil, eris.New("harvest: firm name is required")
	}

	entries, err := h.registry.Select(q.Sources)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: select sources")
	}
	order := make([]string, len(entries))
	for i, e := range entries {
		order[i] = e.ID()
	}

	log := zap.L().With(zap.String("component", "harvest"), zap.String("firm", firm))
	log.Info("harvest: starting query", zap.Strings("sources", order))
	start := time.Now()

	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	results := h.dispatcher.Dispatch(ctx, firm, entries)
	outcomes := normalize.Outcomes(firm, results)

	var all []model.Record
	for _, o := range outcomes {
		all = append(all, o.Records...)
	}
	records := merge.Records(all, order)

	rep := report.Assemble(firm, records, outcomes, h.now())

	failed := rep.Failed()
	log.Info("harvest: query complete",
		zap.String("run_id", rep.RunID),
		zap.Int("records", len(rep.Records)),
		zap.Int("sources", len(rep.Outcomes)),
		zap.Int("failed", len(failed)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if len(failed) > 0 && !rep.AnySucceeded() {
		ids := make([]string, len(failed))
		for i, o := range failed {
			ids[i] = o.SourceID
		}
		log.Warn("harvest: every selected source failed", zap.String("sources", strings.Join(ids, ",")))
	}
	return rep, nil
}
