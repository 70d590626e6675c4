package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "offlinesync"

// Replay outcomes recorded on offlinesync.queue.replayed.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
)

// Metrics holds every instrument the daemon records. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	enqueued      apimetric.Int64Counter
	replayed      apimetric.Int64Counter
	pending       apimetric.Int64Gauge
	replayPasses  apimetric.Int64Counter
	cacheLookups  apimetric.Int64Counter
	cacheWrites   apimetric.Int64Counter
	transitions   apimetric.Int64Counter
	remoteCalls   apimetric.Int64Counter
	remoteLatency apimetric.Float64Histogram
}

// NewMetrics creates the instruments on mp. A nil mp uses the no-op provider.
func NewMetrics(mp apimetric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.enqueued, err = meter.Int64Counter("offlinesync.queue.enqueued",
		apimetric.WithDescription("Actions appended to the offline queue")); err != nil {
		return nil, err
	}
	if m.replayed, err = meter.Int64Counter("offlinesync.queue.replayed",
		apimetric.WithDescription("Replay attempts by outcome")); err != nil {
		return nil, err
	}
	if m.pending, err = meter.Int64Gauge("offlinesync.queue.pending",
		apimetric.WithDescription("Actions currently queued")); err != nil {
		return nil, err
	}
	if m.replayPasses, err = meter.Int64Counter("offlinesync.queue.replay_passes",
		apimetric.WithDescription("Completed replay passes")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("offlinesync.cache.lookups",
		apimetric.WithDescription("Response cache lookups by result")); err != nil {
		return nil, err
	}
	if m.cacheWrites, err = meter.Int64Counter("offlinesync.cache.writes",
		apimetric.WithDescription("Response cache writes by result")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("offlinesync.connectivity.transitions",
		apimetric.WithDescription("Connectivity state changes by target state")); err != nil {
		return nil, err
	}
	if m.remoteCalls, err = meter.Int64Counter("offlinesync.remote.calls",
		apimetric.WithDescription("Remote calls by method and result")); err != nil {
		return nil, err
	}
	if m.remoteLatency, err = meter.Float64Histogram("offlinesync.remote.duration",
		apimetric.WithDescription("Remote call duration including retries"),
		apimetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// ActionEnqueued counts one enqueue of the given kind.
func (m *Metrics) ActionEnqueued(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1, apimetric.WithAttributes(attribute.String("kind", kind)))
}

// ActionReplayed counts one replay attempt with its outcome.
func (m *Metrics) ActionReplayed(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.replayed.Add(ctx, 1, apimetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// QueueDepth records the current queue length.
func (m *Metrics) QueueDepth(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.pending.Record(ctx, int64(n))
}

// ReplayPass counts a finished pass; partial is true when it stopped early.
func (m *Metrics) ReplayPass(ctx context.Context, partial bool) {
	if m == nil {
		return
	}
	m.replayPasses.Add(ctx, 1, apimetric.WithAttributes(attribute.Bool("partial", partial)))
}

// CacheLookup counts a lookup; result is hit, miss or stale.
func (m *Metrics) CacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, apimetric.WithAttributes(attribute.String("result", result)))
}

// CacheWrite counts a write attempt.
func (m *Metrics) CacheWrite(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.cacheWrites.Add(ctx, 1, apimetric.WithAttributes(attribute.Bool("ok", ok)))
}

// ConnectivityTransition counts a state change into state.
func (m *Metrics) ConnectivityTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, apimetric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RemoteCall records one remote call and its total duration in seconds.
func (m *Metrics) RemoteCall(ctx context.Context, method string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	attrs := apimetric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("ok", ok),
	)
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteLatency.Record(ctx, seconds, attrs)
}
