// Package dispatch fans one firm query out to every selected source and
// collects exactly one terminal outcome per source.
package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/resilience"
	"github.com/sells-group/lobbyharvest/internal/source"
)

const tracerName = "github.com/sells-group/lobbyharvest/internal/dispatch"

// Result is the terminal result of one source task. Outcome carries status,
// error, attempts and duration; its Records are filled in by the normalizer
// from Raw.
type Result struct {
	Adapter source.Adapter
	// Raw is nil unless the source succeeded or partially succeeded.
	Raw     *source.RawResult
	Outcome model.SourceOutcome
}

// Dispatcher runs source tasks concurrently. One Dispatcher is shared by
// every query so its circuit breakers see failures across queries.
type Dispatcher struct {
	breakers      *resilience.Breakers
	maxConcurrent int
	tracer        trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCircuitBreakers enables a breaker per source. Only timeouts and
// transient fetch errors count toward opening it.
func WithCircuitBreakers(cfg resilience.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) {
		cfg.Classify = classify
		d.breakers = resilience.NewBreakers(cfg)
	}
}

// classify maps a fetch result onto a breaker verdict. A cancelled query or
// a panicking adapter says nothing about whether the registry is healthy.
func classify(err error) resilience.Verdict {
	if err == nil {
		return resilience.VerdictSuccess
	}
	switch kind := source.KindOf(err); {
	case kind.Retryable():
		return resilience.VerdictFailure
	case kind == model.ErrCancelled || kind == model.ErrInternal:
		return resilience.VerdictIgnore
	default:
		return resilience.VerdictSuccess
	}
}

// WithMaxConcurrent caps the number of source tasks running at once.
// n <= 0 runs every task at once.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) { d.maxConcurrent = n }
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{tracer: otel.Tracer(tracerName)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Breakers returns the per-source circuit breakers, or nil when disabled.
func (d *Dispatcher) Breakers() *resilience.Breakers {
	return d.breakers
}

type indexed struct {
	i   int
	res Result
}

// Dispatch queries every entry for firm and returns one Result per entry, in
// entry order. It never fails: errors become Failed outcomes. When ctx ends
// first, sources still running report Failed{cancelled}.
func (d *Dispatcher) Dispatch(ctx context.Context, firm string, entries []source.Entry) []Result {
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("firm", firm))
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("firm", firm),
			attribute.Int("sources", len(entries)),
		))
	defer span.End()

	log.Info("dispatching", zap.Int("sources", len(entries)))

	fanIn := make(chan indexed, len(entries))
	var g errgroup.Group
	if d.maxConcurrent > 0 {
		g.SetLimit(d.maxConcurrent)
	}
	for i, e := range entries {
		g.Go(func() error {
			fanIn <- indexed{i: i, res: d.runSource(ctx, firm, e)}
			return nil // a source failure never aborts its siblings
		})
	}
	_ = g.Wait()
	close(fanIn)

	results := make([]Result, len(entries))
	for r := range fanIn {
		results[r.i] = r.res
	}
	return results
}

// attemptResult is a successful attempt. A fetch that came back with records
// and an Incomplete error is a success here, so the retry loop keeps its
// records instead of discarding them.
type attemptResult struct {
	raw     *source.RawResult
	partial error
}

func (d *Dispatcher) runSource(ctx context.Context, firm string, e source.Entry) Result {
	id := e.ID()
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("source", id))
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "dispatch.source", trace.WithAttributes(attribute.String("source.id", id)))
	defer span.End()

	cfg := e.Policy.RetryConfig()
	cfg.OnRetry = resilience.RetryLogger(id, firm)

	res, attempts, err := resilience.DoVal(ctx, cfg, func(ctx context.Context, _ int) (attemptResult, error) {
		return d.attempt(ctx, firm, e)
	})

	out := Result{
		Adapter: e.Adapter,
		Outcome: model.SourceOutcome{SourceID: id, Attempts: attempts},
	}
	switch {
	case err == nil && res.partial != nil:
		out.Raw = res.raw
		out.Outcome.Status = model.StatusPartialSuccess
		out.Outcome.Error = &model.OutcomeError{Kind: model.ErrIncomplete, Message: res.partial.Error()}
	case err == nil:
		out.Raw = res.raw
		out.Outcome.Status = model.StatusSuccess
	case source.KindOf(err) == model.ErrNotFound:
		out.Outcome.Status = model.StatusSuccess
		out.Outcome.NotFound = true
	default:
		kind := source.KindOf(err)
		if ctx.Err() != nil && (kind.Retryable() || kind == model.ErrInternal) {
			kind = model.ErrCancelled
		}
		out.Outcome.Status = model.StatusFailed
		out.Outcome.Error = &model.OutcomeError{Kind: kind, Message: err.Error()}
	}
	out.Outcome.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("source.status", string(out.Outcome.Status)),
		attribute.Int("source.attempts", attempts),
		attribute.Int("source.raw_records", out.Raw.Len()),
	)
	if out.Outcome.Status == model.StatusFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.Outcome.Error.Kind))
	}

	fields := []zap.Field{
		zap.String("status", string(out.Outcome.Status)),
		zap.Int("attempts", attempts),
		zap.Int("raw_records", out.Raw.Len()),
		zap.Duration("elapsed", out.Outcome.Duration),
	}
	if out.Outcome.Error != nil {
		fields = append(fields, zap.String("error_kind", string(out.Outcome.Error.Kind)), zap.String("error", out.Outcome.Error.Message))
	}
	if out.Outcome.Status == model.StatusFailed {
		log.Warn("source failed", fields...)
	} else {
		log.Info("source finished", fields...)
	}
	return out
}

// attempt waits for the source's rate limiter, then runs one fetch through
// the source's circuit breaker.
func (d *Dispatcher) attempt(ctx context.Context, firm string, e source.Entry) (attemptResult, error) {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			// Either ctx ended or its deadline falls before the next token.
			return attemptResult{}, source.Tag(model.ErrCancelled, eris.Wrap(err, "waiting for rate limiter"))
		}
	}

	if d.breakers == nil {
		return fetchOnce(ctx, firm, e)
	}
	return resilience.ExecuteVal(ctx, d.breakers.Get(e.ID()), func(ctx context.Context) (attemptResult, error) {
		return fetchOnce(ctx, firm, e)
	})
}

type reply struct {
	raw *source.RawResult
	err error
}

// fetchOnce runs one Fetch bounded by the policy timeout. An adapter that
// ignores its context is abandoned at the deadline; its goroutine finishes
// in the background and its reply is dropped.
func fetchOnce(ctx context.Context, firm string, e source.Entry) (attemptResult, error) {
	timeout := e.Policy.Timeout
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: source.Tag(model.ErrInternal, eris.Errorf("adapter panic: %v", r))}
			}
		}()
		raw, err := e.Adapter.Fetch(actx, firm, timeout)
		done <- reply{raw: raw, err: err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-actx.Done():
		rep.err = actx.Err()
	}

	if rep.err == nil {
		if rep.raw == nil {
			rep.raw = &source.RawResult{Query: firm}
		}
		return attemptResult{raw: rep.raw}, nil
	}
	if source.KindOf(rep.err) == model.ErrIncomplete && rep.raw != nil {
		return attemptResult{raw: rep.raw, partial: rep.err}, nil
	}

	switch {
	case ctx.Err() != nil:
		return attemptResult{}, source.Tag(model.ErrCancelled, eris.Wrap(ctx.Err(), "query deadline reached"))
	case actx.Err() != nil:
		kind := source.KindOf(rep.err)
		if kind == model.ErrParse || kind == model.ErrNotFound {
			return attemptResult{}, rep.err
		}
		return attemptResult{}, source.Tag(model.ErrTimeout, eris.Errorf("attempt exceeded %s", timeout))
	default:
		return attemptResult{}, rep.err
	}
}
