// Package scheduler tests for background replay scheduling.
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/store"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeReplayer counts triggers instead of replaying.
type fakeReplayer struct {
	pending  atomic.Int32
	triggers atomic.Int32
	accept   atomic.Bool
}

func newFakeReplayer(pending int) *fakeReplayer {
	r := &fakeReplayer{}
	r.pending.Store(int32(pending))
	r.accept.Store(true)
	return r
}

func (r *fakeReplayer) Len() int { return int(r.pending.Load()) }

func (r *fakeReplayer) TriggerReplay() bool {
	if !r.accept.Load() {
		return false
	}
	r.triggers.Add(1)
	return true
}

func (r *fakeReplayer) ForceSyncNow(ctx context.Context) (queue.ReplayResult, error) {
	return queue.ReplayResult{Succeeded: r.Len()}, nil
}

type idleProbe struct{}

func (idleProbe) Check(ctx context.Context) (connectivity.Raw, error) {
	return connectivity.RawWiFi, nil
}

func (idleProbe) Watch(ctx context.Context) (<-chan connectivity.Raw, error) {
	return make(chan connectivity.Raw), nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// =====================================================
// Config
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	require.NotNil(t, config)
	assert.Equal(t, 5*time.Minute, config.ReplayInterval)
}

func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(newFakeReplayer(0), connectivity.NewMonitor(idleProbe{}), nil)
	assert.Equal(t, 5*time.Minute, s.replayInterval)
	assert.False(t, s.IsRunning())
}

// =====================================================
// Triggers
// =====================================================

// TestScheduler_reconnectTriggersReplay fires on a transition into Online.
func TestScheduler_reconnectTriggersReplay(t *testing.T) {
	r := newFakeReplayer(2)
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(r, m, &SchedulerConfig{ReplayInterval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	m.Report(connectivity.RawNone)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.triggers.Load(), "going offline never triggers")

	m.Report(connectivity.RawWiFi)
	eventually(t, func() bool { return r.triggers.Load() == 1 }, "reconnect should trigger once")

	status := s.GetStatus()
	assert.Equal(t, ReasonReconnect, status.LastReason)
	assert.Equal(t, 1, status.TriggerCount)
	require.NotNil(t, status.LastTrigger)
}

func TestScheduler_reconnectWithEmptyQueue(t *testing.T) {
	r := newFakeReplayer(0)
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(r, m, &SchedulerConfig{ReplayInterval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	m.Report(connectivity.RawNone)
	m.Report(connectivity.RawMobile)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.triggers.Load())
}

// TestScheduler_periodicBackstop triggers on the timer only while online.
func TestScheduler_periodicBackstop(t *testing.T) {
	r := newFakeReplayer(1)
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(r, m, &SchedulerConfig{ReplayInterval: 20 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	eventually(t, func() bool { return r.triggers.Load() >= 2 }, "timer should trigger while online")
	assert.Equal(t, ReasonInterval, s.GetStatus().LastReason)

	m.Report(connectivity.RawNone)
	time.Sleep(30 * time.Millisecond)
	before := r.triggers.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, r.triggers.Load(), "no timer triggers while offline")
}

func TestScheduler_skippedTriggerNotCounted(t *testing.T) {
	r := newFakeReplayer(1)
	r.accept.Store(false)
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(r, m, &SchedulerConfig{ReplayInterval: 10 * time.Millisecond})
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, s.GetStatus().TriggerCount)
}

// =====================================================
// Lifecycle
// =====================================================

func TestScheduler_startStop(t *testing.T) {
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(newFakeReplayer(0), m, &SchedulerConfig{ReplayInterval: time.Hour})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	// restartable
	s.Start(context.Background())
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_contextCancel(t *testing.T) {
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	s := NewScheduler(newFakeReplayer(0), m, &SchedulerConfig{ReplayInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after context cancel")
	}
}

// TestScheduler_monitorDisposed exits the reconnect loop when the stream closes.
func TestScheduler_monitorDisposed(t *testing.T) {
	m := connectivity.NewMonitor(idleProbe{})
	s := NewScheduler(newFakeReplayer(0), m, &SchedulerConfig{ReplayInterval: time.Hour})
	s.Start(context.Background())
	m.Dispose()
	s.Stop()
	assert.False(t, s.IsRunning())
}

// =====================================================
// With the real engine
// =====================================================

// TestScheduler_recoveryScenario replays three offline actions on reconnect.
func TestScheduler_recoveryScenario(t *testing.T) {
	var sent atomic.Int32
	remote := remoteFunc(func() error {
		sent.Add(1)
		return nil
	})

	st := store.NewMemoryStore()
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	m.Report(connectivity.RawNone)

	engine := queue.NewEngine(st, remote, m, queue.DefaultConfig())
	defer engine.Close()
	require.NoError(t, engine.Initialize(context.Background()))

	s := NewScheduler(engine, m, &SchedulerConfig{ReplayInterval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		_, err := engine.Enqueue(context.Background(), models.ActionCreate, "/api/v1/items", models.Null(), nil)
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sent.Load())

	_, results := engine.SubscribeResults()
	m.Report(connectivity.RawWiFi)
	select {
	case res := <-results:
		assert.Equal(t, 3, res.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not replay the queue")
	}
	assert.Zero(t, engine.Len())
	assert.Equal(t, int32(3), sent.Load())

	stored, ok, err := st.LoadStringList(context.Background(), queue.DefaultConfig().StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, stored)
}

func TestScheduler_SyncNowOffline(t *testing.T) {
	m := connectivity.NewMonitor(idleProbe{})
	defer m.Dispose()
	m.Report(connectivity.RawNone)

	engine := queue.NewEngine(store.NewMemoryStore(), remoteFunc(func() error { return nil }), m, queue.DefaultConfig())
	defer engine.Close()

	s := NewScheduler(engine, m, nil)
	_, err := s.SyncNow(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrNoConnection))
}

type remoteFunc func() error

func (f remoteFunc) Execute(ctx context.Context, kind models.ActionKind, endpoint string, payload models.Value, headers map[string]string) error {
	return f()
}
