package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/broadcast"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
)

// Event reports a state change.
type Event struct {
	From models.ConnectivityState `json:"from"`
	To   models.ConnectivityState `json:"to"`
	At   time.Time                `json:"at"`
}

// Monitor is the connectivity state machine. It starts Online and moves
// only when a probe result maps to a different state.
type Monitor struct {
	probe    Probe
	debounce time.Duration
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu         sync.RWMutex
	state      models.ConnectivityState
	timer      *time.Timer
	generation uint64
	started    bool
	disposed   bool

	events *broadcast.Hub[Event]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce commits a new state only after it held for d.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// WithMetrics records transitions on metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a Monitor fed by probe.
func NewMonitor(probe Probe, opts ...Option) *Monitor {
	m := &Monitor{
		probe:  probe,
		now:    time.Now,
		state:  models.StateOnline,
		events: broadcast.NewHub[Event](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline reports whether the current state is Online.
func (m *Monitor) IsOnline() bool {
	return m.State().IsOnline()
}

// Subscribe returns a stream of state changes. The channel is closed by
// Unsubscribe or Dispose.
func (m *Monitor) Subscribe() (broadcast.SubscriptionID, <-chan Event) {
	return m.events.Subscribe()
}

// Unsubscribe closes a stream returned by Subscribe.
func (m *Monitor) Unsubscribe(id broadcast.SubscriptionID) {
	m.events.Unsubscribe(id)
}

// Start takes an initial reading and follows the probe's watch stream until
// Dispose. A failed initial reading keeps the optimistic Online state.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrClosed, "connectivity monitor is disposed")
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	if raw, err := m.probe.Check(ctx); err != nil {
		logging.Warn("Initial connectivity check failed, assuming online", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		m.Report(raw)
	}

	results, err := m.probe.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for raw := range results {
			m.Report(raw)
		}
	}()
	return nil
}

// Report feeds one raw probe result into the state machine.
func (m *Monitor) Report(raw Raw) {
	next := StateFor(raw)

	if m.debounce <= 0 {
		m.mu.Lock()
		m.transitionLocked(next)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if next == m.state {
		// flapped back before the window elapsed
		return
	}
	gen := m.generation
	m.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.transitionLocked(next)
		m.mu.Unlock()
	})
}

// transitionLocked must be called with m.mu held. Publishing under the lock
// keeps events in transition order.
func (m *Monitor) transitionLocked(next models.ConnectivityState) {
	if m.disposed || next == m.state {
		return
	}
	ev := Event{From: m.state, To: next, At: m.now()}
	m.state = next

	logging.Info("Connectivity changed", map[string]interface{}{
		"from": string(ev.From),
		"to":   string(ev.To),
	})
	m.metrics.ConnectivityTransition(context.Background(), string(ev.From), string(ev.To))
	m.events.Publish(ev)
}

// Dispose stops the watch loop and closes every subscriber stream.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.events.Close()
}
