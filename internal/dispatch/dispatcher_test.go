package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/resilience"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// --- Adapter Mock ---

type mockAdapter struct {
	mock.Mock
	id string
}

func (m *mockAdapter) ID() string { return m.id }

func (m *mockAdapter) Fetch(ctx context.Context, firm string, timeout time.Duration) (*source.RawResult, error) {
	args := m.Called(ctx, firm, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*source.RawResult), args.Error(1)
}

func (m *mockAdapter) Normalize(raw *source.RawResult) []model.Record { return nil }

// --- Func Adapter ---

type funcAdapter struct {
	id    string
	fetch func(ctx context.Context, firm string) (*source.RawResult, error)
}

func (f funcAdapter) ID() string { return f.id }

func (f funcAdapter) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	return f.fetch(ctx, firm)
}

func (f funcAdapter) Normalize(*source.RawResult) []model.Record { return nil }

func rows(n int) *source.RawResult {
	raw := &source.RawResult{Query: "Acme Co."}
	for range n {
		raw.Records = append(raw.Records, source.RawRecord{"client": "x"})
	}
	return raw
}

func testPolicy() source.Policy {
	return source.Policy{
		Timeout:      200 * time.Millisecond,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   2 * time.Millisecond,
		Enabled:      true,
	}
}

func entry(a source.Adapter) source.Entry {
	return source.Entry{Adapter: a, Policy: testPolicy()}
}

func succeedAfter(id string, delay time.Duration, n int) funcAdapter {
	return funcAdapter{id: id, fetch: func(ctx context.Context, _ string) (*source.RawResult, error) {
		select {
		case <-time.After(delay):
			return rows(n), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func outcomeIDs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Outcome.SourceID
	}
	return out
}

func TestDispatch_OrderFollowsSelectionNotCompletion(t *testing.T) {
	d := New()
	results := d.Dispatch(context.Background(), "Acme Co.", []source.Entry{
		entry(succeedAfter("slow", 60*time.Millisecond, 1)),
		entry(succeedAfter("fast", 0, 2)),
		entry(succeedAfter("medium", 20*time.Millisecond, 3)),
	})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"slow", "fast", "medium"}, outcomeIDs(results))
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, model.StatusSuccess, results[i].Outcome.Status)
		assert.Equal(t, want, results[i].Raw.Len())
		assert.Equal(t, 1, results[i].Outcome.Attempts)
		assert.Nil(t, results[i].Outcome.Error)
	}
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	d := New()
	var entries []source.Entry
	for _, id := range []string{"a", "b", "c", "d"} {
		entries = append(entries, entry(succeedAfter(id, 100*time.Millisecond, 1)))
	}

	start := time.Now()
	results := d.Dispatch(context.Background(), "Acme Co.", entries)
	assert.Len(t, results, 4)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	m := &mockAdapter{id: "fara"}
	m.On("Fetch", mock.Anything, "Acme Co.", 200*time.Millisecond).
		Return(nil, source.Transient(errors.New("bad gateway"), 502)).Twice()
	m.On("Fetch", mock.Anything, "Acme Co.", 200*time.Millisecond).
		Return(rows(2), nil).Once()

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	require.Len(t, results, 1)
	assert.Equal(t, model.StatusSuccess, results[0].Outcome.Status)
	assert.Equal(t, 3, results[0].Outcome.Attempts)
	m.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestDispatch_ExhaustedRetriesFail(t *testing.T) {
	m := &mockAdapter{id: "uk_lobbying"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, source.Transient(errors.New("service unavailable"), 503))

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	o := results[0].Outcome
	assert.Equal(t, model.StatusFailed, o.Status)
	require.NotNil(t, o.Error)
	assert.Equal(t, model.ErrTransientFetch, o.Error.Kind)
	assert.Equal(t, 3, o.Attempts)
	assert.Nil(t, results[0].Raw)
	m.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestDispatch_ParseErrorNotRetried(t *testing.T) {
	m := &mockAdapter{id: "it_lobbying"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, source.Parsef("register table not found"))

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	o := results[0].Outcome
	assert.Equal(t, model.StatusFailed, o.Status)
	assert.Equal(t, model.ErrParse, o.Error.Kind)
	assert.Equal(t, 1, o.Attempts)
	m.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestDispatch_NotFoundIsSuccessWithoutRecords(t *testing.T) {
	m := &mockAdapter{id: "cy_lobbying"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, source.NotFound("no registrant matching %q", "Acme Co."))

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	o := results[0].Outcome
	assert.Equal(t, model.StatusSuccess, o.Status)
	assert.True(t, o.NotFound)
	assert.Nil(t, o.Error)
	m.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestDispatch_EmptySuccessIsNotFailure(t *testing.T) {
	m := &mockAdapter{id: "lobbyfacts"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	o := results[0].Outcome
	assert.Equal(t, model.StatusSuccess, o.Status)
	assert.False(t, o.NotFound)
	require.NotNil(t, results[0].Raw)
	assert.Equal(t, 0, results[0].Raw.Len())
}

func TestDispatch_PartialSuccessKeepsRecords(t *testing.T) {
	m := &mockAdapter{id: "fara"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).
		Return(rows(2), source.Incomplete(errors.New("page 2: 500"), "principal list cut short"))

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})

	o := results[0].Outcome
	assert.Equal(t, model.StatusPartialSuccess, o.Status)
	require.NotNil(t, o.Error)
	assert.Equal(t, model.ErrIncomplete, o.Error.Kind)
	assert.Contains(t, o.Error.Message, "principal list cut short")
	assert.Equal(t, 2, results[0].Raw.Len())
	m.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestDispatch_TimeoutRetriedThenFailed(t *testing.T) {
	var calls atomic.Int32
	slow := funcAdapter{id: "at_lobbying", fetch: func(ctx context.Context, _ string) (*source.RawResult, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := entry(slow)
	e.Policy.Timeout = 20 * time.Millisecond
	e.Policy.MaxRetries = 1

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{e})

	o := results[0].Outcome
	assert.Equal(t, model.StatusFailed, o.Status)
	assert.Equal(t, model.ErrTimeout, o.Error.Kind)
	assert.Equal(t, 2, o.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatch_AdapterIgnoringContextIsAbandoned(t *testing.T) {
	stuck := funcAdapter{id: "stuck", fetch: func(context.Context, string) (*source.RawResult, error) {
		time.Sleep(500 * time.Millisecond)
		return rows(1), nil
	}}
	e := entry(stuck)
	e.Policy.Timeout = 20 * time.Millisecond
	e.Policy.MaxRetries = 0

	start := time.Now()
	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{e})

	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, model.ErrTimeout, results[0].Outcome.Error.Kind)
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	boom := funcAdapter{id: "boom", fetch: func(context.Context, string) (*source.RawResult, error) {
		panic("nil map")
	}}

	results := New().Dispatch(context.Background(), "Acme Co.", []source.Entry{
		entry(boom),
		entry(succeedAfter("ok", 0, 1)),
	})

	assert.Equal(t, model.StatusFailed, results[0].Outcome.Status)
	assert.Equal(t, model.ErrInternal, results[0].Outcome.Error.Kind)
	assert.Contains(t, results[0].Outcome.Error.Message, "adapter panic")
	assert.Equal(t, 1, results[0].Outcome.Attempts)
	assert.Equal(t, model.StatusSuccess, results[1].Outcome.Status)
}

func TestDispatch_QueryDeadlineCancelsPending(t *testing.T) {
	var entries []source.Entry
	for _, id := range []string{"a", "b", "c"} {
		entries = append(entries, entry(succeedAfter(id, 0, 1)))
	}
	for _, id := range []string{"d", "e"} {
		e := entry(succeedAfter(id, 10*time.Second, 1))
		e.Policy.Timeout = time.Minute
		entries = append(entries, e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := New().Dispatch(ctx, "Acme Co.", entries)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 5)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, outcomeIDs(results))
	for _, r := range results[:3] {
		assert.Equal(t, model.StatusSuccess, r.Outcome.Status)
	}
	for _, r := range results[3:] {
		assert.Equal(t, model.StatusFailed, r.Outcome.Status)
		assert.Equal(t, model.ErrCancelled, r.Outcome.Error.Kind)
		assert.Equal(t, 1, r.Outcome.Attempts)
	}
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	flaky := funcAdapter{id: "flaky", fetch: func(context.Context, string) (*source.RawResult, error) {
		return nil, source.Transient(errors.New("reset"), 0)
	}}
	e := entry(flaky)
	e.Policy.RetryBackoff = time.Hour
	e.Policy.MaxBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := New().Dispatch(ctx, "Acme Co.", []source.Entry{e})
	assert.Equal(t, model.ErrCancelled, results[0].Outcome.Error.Kind)
	assert.Equal(t, 1, results[0].Outcome.Attempts)
}

func TestDispatch_MaxConcurrent(t *testing.T) {
	var running, peak atomic.Int32
	track := func(id string) source.Entry {
		return entry(funcAdapter{id: id, fetch: func(context.Context, string) (*source.RawResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return rows(1), nil
		}})
	}

	d := New(WithMaxConcurrent(2))
	results := d.Dispatch(context.Background(), "Acme Co.", []source.Entry{track("a"), track("b"), track("c"), track("d"), track("e")})

	assert.Len(t, results, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatch_RateLimiterSharedAcrossQueries(t *testing.T) {
	var calls atomic.Int32
	a := funcAdapter{id: "au_lobbying", fetch: func(context.Context, string) (*source.RawResult, error) {
		calls.Add(1)
		return rows(1), nil
	}}
	e := entry(a)
	// One token up front, then one every 100ms.
	e.Limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

	d := New()
	start := time.Now()
	done := make(chan []Result, 3)
	for _, firm := range []string{"Acme Co.", "Globex", "Initech"} {
		go func() { done <- d.Dispatch(context.Background(), firm, []source.Entry{e}) }()
	}
	for range 3 {
		res := <-done
		assert.Equal(t, model.StatusSuccess, res[0].Outcome.Status)
	}

	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatch_RateLimiterBeyondDeadlineIsCancelled(t *testing.T) {
	e := entry(succeedAfter("au_lobbying", 0, 1))
	e.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	e.Limiter.Allow() // drain the only token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := New().Dispatch(ctx, "Acme Co.", []source.Entry{e})
	assert.Equal(t, model.StatusFailed, results[0].Outcome.Status)
	assert.Equal(t, model.ErrCancelled, results[0].Outcome.Error.Kind)
}

func TestDispatch_CircuitOpensAcrossQueries(t *testing.T) {
	m := &mockAdapter{id: "fr_hatvp"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, source.Transient(errors.New("service unavailable"), 503))

	d := New(WithCircuitBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}))
	e := entry(m)

	first := d.Dispatch(context.Background(), "Acme Co.", []source.Entry{e})
	assert.Equal(t, model.ErrTransientFetch, first[0].Outcome.Error.Kind)
	m.AssertNumberOfCalls(t, "Fetch", 3)

	second := d.Dispatch(context.Background(), "Globex", []source.Entry{e})
	o := second[0].Outcome
	assert.Equal(t, model.StatusFailed, o.Status)
	assert.Equal(t, model.ErrTransientFetch, o.Error.Kind)
	assert.Contains(t, o.Error.Message, "circuit breaker is open")
	assert.Equal(t, 1, o.Attempts)
	m.AssertNumberOfCalls(t, "Fetch", 3)

	assert.Equal(t, []string{"fr_hatvp"}, d.Breakers().Open())
}

func TestDispatch_CircuitIgnoresParseErrors(t *testing.T) {
	m := &mockAdapter{id: "it_lobbying"}
	m.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, source.Parsef("no table"))

	d := New(WithCircuitBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}))
	for range 3 {
		d.Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(m)})
	}
	m.AssertNumberOfCalls(t, "Fetch", 3)
	assert.Empty(t, d.Breakers().Open())
}

// scripted fails transiently, blocks until its context ends, or succeeds,
// following steps in order; the last step repeats.
func scripted(id string, steps ...string) funcAdapter {
	var calls atomic.Int32
	return funcAdapter{id: id, fetch: func(ctx context.Context, _ string) (*source.RawResult, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		switch steps[i] {
		case "transient":
			return nil, source.Transient(errors.New("service unavailable"), 503)
		case "block":
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return rows(1), nil
		}
	}}
}

func TestDispatch_CancelledTrialKeepsCircuitHalfOpen(t *testing.T) {
	a := scripted("fr_hatvp", "transient", "block", "ok")
	d := New(WithCircuitBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond}))
	e := entry(a)
	e.Policy.MaxRetries = 0
	e.Policy.Timeout = time.Minute

	first := d.Dispatch(context.Background(), "Acme Co.", []source.Entry{e})
	require.Equal(t, model.ErrTransientFetch, first[0].Outcome.Error.Kind)
	require.Equal(t, []string{"fr_hatvp"}, d.Breakers().Open())

	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	second := d.Dispatch(ctx, "Acme Co.", []source.Entry{e})
	assert.Equal(t, model.ErrCancelled, second[0].Outcome.Error.Kind)

	failures, state := d.Breakers().Get("fr_hatvp").Counters()
	assert.Equal(t, resilience.CircuitHalfOpen, state)
	assert.Equal(t, 1, failures)

	third := d.Dispatch(context.Background(), "Acme Co.", []source.Entry{e})
	assert.Equal(t, model.StatusSuccess, third[0].Outcome.Status)
	assert.Equal(t, resilience.CircuitClosed, d.Breakers().Get("fr_hatvp").State())
}

func TestDispatch_CancelledQueryDoesNotResetFailures(t *testing.T) {
	a := scripted("uk_lobbying", "transient", "block", "transient")
	d := New(WithCircuitBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute}))
	e := entry(a)
	e.Policy.MaxRetries = 0
	e.Policy.Timeout = time.Minute

	d.Dispatch(context.Background(), "Acme Co.", []source.Entry{e})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d.Dispatch(ctx, "Acme Co.", []source.Entry{e})

	failures, _ := d.Breakers().Get("uk_lobbying").Counters()
	assert.Equal(t, 1, failures)

	d.Dispatch(context.Background(), "Acme Co.", []source.Entry{e})
	assert.Equal(t, []string{"uk_lobbying"}, d.Breakers().Open())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, resilience.VerdictSuccess, classify(nil))
	assert.Equal(t, resilience.VerdictSuccess, classify(source.Parsef("no table")))
	assert.Equal(t, resilience.VerdictSuccess, classify(source.NotFound("no firm")))
	assert.Equal(t, resilience.VerdictFailure, classify(source.Transient(errors.New("reset"), 0)))
	assert.Equal(t, resilience.VerdictFailure, classify(context.DeadlineExceeded))
	assert.Equal(t, resilience.VerdictIgnore, classify(context.Canceled))
	assert.Equal(t, resilience.VerdictIgnore, classify(source.Tag(model.ErrInternal, errors.New("adapter panic"))))
}

func TestDispatch_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	parse := &mockAdapter{id: "bad"}
	parse.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, source.Parsef("layout changed"))

	d := New(WithTracerProvider(tp))
	d.Dispatch(context.Background(), "Acme Co.", []source.Entry{entry(succeedAfter("good", 0, 2)), entry(parse)})

	spans := sr.Ended()
	require.Len(t, spans, 3)

	byID := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		for _, kv := range s.Attributes() {
			if kv.Key == "source.id" {
				byID[kv.Value.AsString()] = s
			}
		}
	}
	require.Contains(t, byID, "good")
	require.Contains(t, byID, "bad")
	assert.Equal(t, codes.Unset, byID["good"].Status().Code)
	assert.Equal(t, codes.Error, byID["bad"].Status().Code)
	assert.Equal(t, "parse_error", byID["bad"].Status().Description)
	assert.Equal(t, "dispatch", spans[2].Name())
}

func TestDispatch_NoEntries(t *testing.T) {
	assert.Empty(t, New().Dispatch(context.Background(), "Acme Co.", nil))
}
