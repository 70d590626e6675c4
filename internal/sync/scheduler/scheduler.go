// Package scheduler drives background replay of the offline queue: on every
// transition to Online and on a periodic backstop timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/broadcast"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
)

// Trigger reasons.
const (
	ReasonReconnect = "reconnect"
	ReasonInterval  = "interval"
)

// Replayer is the part of the queue engine the scheduler drives.
type Replayer interface {
	Len() int
	TriggerReplay() bool
	ForceSyncNow(ctx context.Context) (queue.ReplayResult, error)
}

// StateSource is the part of the connectivity monitor the scheduler follows.
type StateSource interface {
	IsOnline() bool
	Subscribe() (broadcast.SubscriptionID, <-chan connectivity.Event)
	Unsubscribe(id broadcast.SubscriptionID)
}

// Scheduler manages background replay triggers.
type Scheduler struct {
	engine         Replayer
	monitor        StateSource
	replayInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex

	isRunning    bool
	subID        broadcast.SubscriptionID
	lastTrigger  time.Time
	lastReason   string
	triggerCount int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	ReplayInterval time.Duration // backstop replay when online (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		ReplayInterval: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine Replayer, monitor StateSource, config *SchedulerConfig) *Scheduler {
	if config == nil || config.ReplayInterval <= 0 {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		engine:         engine,
		monitor:        monitor,
		replayInterval: config.ReplayInterval,
	}
}

// Start subscribes to connectivity changes and starts the backstop timer.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	id, events := s.monitor.Subscribe()
	s.subID = id
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.reconnectLoop(ctx, events, stopCh)
	go s.periodicReplayLoop(ctx, stopCh)

	logging.Info("Replay scheduler started", map[string]interface{}{
		"replay_interval": s.replayInterval.String(),
	})
}

// Stop stops the scheduler and waits for its goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	id := s.subID
	s.mu.Unlock()

	s.monitor.Unsubscribe(id)
	s.wg.Wait()

	logging.Info("Replay scheduler stopped", nil)
}

// reconnectLoop triggers a replay on every transition into Online.
func (s *Scheduler) reconnectLoop(ctx context.Context, events <-chan connectivity.Event, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.To.IsOnline() {
				s.trigger(ReasonReconnect)
			}
		}
	}
}

// periodicReplayLoop is the backstop for missed connectivity events.
func (s *Scheduler) periodicReplayLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() {
				continue
			}
			s.trigger(ReasonInterval)
		}
	}
}

func (s *Scheduler) trigger(reason string) {
	pending := s.engine.Len()
	if pending == 0 {
		return
	}
	if !s.engine.TriggerReplay() {
		logging.Debug("Replay not started", map[string]interface{}{"reason": reason})
		return
	}

	s.mu.Lock()
	s.lastTrigger = time.Now()
	s.lastReason = reason
	s.triggerCount++
	s.mu.Unlock()

	logging.Info("Replay triggered", map[string]interface{}{
		"reason":  reason,
		"pending": pending,
	})
}

// SyncNow runs a replay and waits for it. It fails with NO_CONNECTION while
// offline.
func (s *Scheduler) SyncNow(ctx context.Context) (queue.ReplayResult, error) {
	return s.engine.ForceSyncNow(ctx)
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning    bool       `json:"is_running"`
	IsOnline     bool       `json:"is_online"`
	LastTrigger  *time.Time `json:"last_trigger,omitempty"`
	LastReason   string     `json:"last_reason,omitempty"`
	TriggerCount int        `json:"trigger_count"`
	PendingItems int        `json:"pending_items"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:    s.isRunning,
		LastReason:   s.lastReason,
		TriggerCount: s.triggerCount,
	}
	if !s.lastTrigger.IsZero() {
		t := s.lastTrigger
		status.LastTrigger = &t
	}
	s.mu.RUnlock()

	status.IsOnline = s.monitor.IsOnline()
	status.PendingItems = s.engine.Len()
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
