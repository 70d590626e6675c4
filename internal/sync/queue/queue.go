// Package queue buffers mutating calls made while offline and replays them
// against the backend once connectivity returns.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/broadcast"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/store"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/uuid"
)

// RemoteCaller performs a deferred call against the backend.
type RemoteCaller interface {
	Execute(ctx context.Context, kind models.ActionKind, endpoint string, payload models.Value, headers map[string]string) error
}

// ConnectivityChecker reports whether the device is currently Online.
type ConnectivityChecker interface {
	IsOnline() bool
}

// Config holds engine settings.
type Config struct {
	MaxRetries     int
	StorageKey     string
	DroppedHistory int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		StorageKey:     "offline_queue",
		DroppedHistory: 50,
	}
}

// ConfigFrom extracts the queue section of the daemon config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		MaxRetries:     cfg.Queue.MaxRetries,
		StorageKey:     cfg.Queue.StorageKey,
		DroppedHistory: cfg.Queue.DroppedHistory,
	}
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records queue activity on metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnDropped registers a callback invoked once per evicted action.
func WithOnDropped(fn func(models.DroppedAction)) Option {
	return func(e *Engine) { e.onDropped = fn }
}

// Engine owns the pending action queue. All methods are safe for
// concurrent use.
type Engine struct {
	store  store.Store
	remote RemoteCaller
	conn   ConnectivityChecker
	cfg    Config

	metrics   *telemetry.Metrics
	now       func() time.Time
	onDropped func(models.DroppedAction)

	mu           sync.RWMutex
	actions      []models.PendingAction
	dropped      []models.DroppedAction
	droppedTotal int
	lastReplay   *ReplayResult
	closed       bool

	// one replay pass at a time
	replayMu  sync.Mutex
	replaying atomic.Bool

	// serializes snapshot+save so the newest snapshot is written last
	persistMu sync.Mutex

	tasks      conc.WaitGroup
	taskCtx    context.Context
	taskCancel context.CancelFunc

	droppedHub *broadcast.Hub[models.DroppedAction]
	errorHub   *broadcast.Hub[error]
	resultHub  *broadcast.Hub[ReplayResult]
}

// NewEngine creates an Engine. Call Initialize before use to restore the
// persisted queue.
func NewEngine(st store.Store, remote RemoteCaller, conn ConnectivityChecker, cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaults.StorageKey
	}
	if cfg.DroppedHistory < 0 {
		cfg.DroppedHistory = 0
	}
	if conn == nil {
		conn = alwaysOnline{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      st,
		remote:     remote,
		conn:       conn,
		cfg:        cfg,
		now:        time.Now,
		taskCtx:    ctx,
		taskCancel: cancel,
		droppedHub: broadcast.NewHub[models.DroppedAction](),
		errorHub:   broadcast.NewHub[error](),
		resultHub:  broadcast.NewHub[ReplayResult](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =====================================================
// Lifecycle
// =====================================================

// Initialize loads the persisted queue. It never fails because of the
// store: unreadable data is logged and the queue starts empty, and corrupt
// entries are skipped.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.isClosed() {
		return apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}

	raw, ok, err := e.store.LoadStringList(ctx, e.cfg.StorageKey)
	if err != nil {
		logging.ErrorWithCode("Failed to load offline queue, starting empty", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"key": e.cfg.StorageKey,
		})
		e.reportError(err)
		return nil
	}
	if !ok {
		return nil
	}

	loaded := make([]models.PendingAction, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	skipped := 0
	for i, s := range raw {
		a, err := models.DecodePendingAction(s)
		if err != nil {
			skipped++
			logging.Warn("Skipping corrupt queued action", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		if seen[a.ID] {
			skipped++
			continue
		}
		seen[a.ID] = true
		loaded = append(loaded, a)
	}

	e.mu.Lock()
	// keep anything enqueued before Initialize behind the restored actions
	for _, a := range e.actions {
		if !seen[a.ID] {
			loaded = append(loaded, a)
		}
	}
	e.actions = loaded
	n := len(e.actions)
	e.mu.Unlock()

	logging.Info("Offline queue restored", map[string]interface{}{
		"pending": n,
		"skipped": skipped,
	})
	e.metrics.QueueDepth(ctx, n)
	if skipped > 0 {
		e.persist(ctx)
	}
	return nil
}

// Close waits for background replays to finish and closes every stream.
// The store is not closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.taskCancel()
	e.tasks.Wait()

	e.droppedHub.Close()
	e.errorHub.Close()
	e.resultHub.Close()
	return nil
}

// =====================================================
// Mutations
// =====================================================

// Enqueue appends a new action and persists the queue. When online it also
// starts a background replay; failures of that replay never reach the
// caller.
func (e *Engine) Enqueue(ctx context.Context, kind models.ActionKind, endpoint string, payload models.Value, headers map[string]string) (models.PendingAction, error) {
	if !kind.Valid() {
		return models.PendingAction{}, apperrors.Newf(apperrors.ErrInvalid, "unknown action kind %q", kind)
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return models.PendingAction{}, apperrors.New(apperrors.ErrInvalid, "endpoint is required")
	}
	if k := payload.Kind(); k != models.KindObject && k != models.KindNull {
		return models.PendingAction{}, apperrors.Newf(apperrors.ErrInvalid, "payload must be an object, got %s", k)
	}

	now := e.now()
	action := models.PendingAction{
		ID:        uuid.NewActionID(string(kind), now),
		Kind:      kind,
		Endpoint:  endpoint,
		Payload:   payload,
		CreatedAt: now,
	}
	if len(headers) > 0 {
		action.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			action.Headers[k] = v
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.PendingAction{}, apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}
	e.actions = append(e.actions, action)
	n := len(e.actions)
	e.mu.Unlock()

	logging.Info("Enqueued action", map[string]interface{}{
		"id":       action.ID,
		"kind":     string(kind),
		"endpoint": endpoint,
		"pending":  n,
	})
	e.metrics.ActionEnqueued(ctx, string(kind))
	e.metrics.QueueDepth(ctx, n)

	e.persist(ctx)
	e.TriggerReplay()

	return action.Clone(), nil
}

// RemovePendingAction removes the action with id. Unknown ids are ignored.
func (e *Engine) RemovePendingAction(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return nil
	}
	e.actions = append(e.actions[:idx], e.actions[idx+1:]...)
	n := len(e.actions)
	e.mu.Unlock()

	logging.Info("Removed pending action", map[string]interface{}{
		"id":      id,
		"pending": n,
	})
	e.metrics.QueueDepth(ctx, n)
	e.persist(ctx)
	return nil
}

// ClearPendingActions empties the queue.
func (e *Engine) ClearPendingActions(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}
	cleared := len(e.actions)
	e.actions = nil
	e.mu.Unlock()

	logging.Info("Offline queue cleared", map[string]interface{}{
		"cleared": cleared,
	})
	e.metrics.QueueDepth(ctx, 0)
	e.persist(ctx)
	return nil
}

// =====================================================
// Queries (no I/O)
// =====================================================

// PendingActions returns a snapshot of the queue in FIFO order.
func (e *Engine) PendingActions() []models.PendingAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.PendingAction, len(e.actions))
	for i, a := range e.actions {
		out[i] = a.Clone()
	}
	return out
}

// PendingForEndpoint returns the queued actions targeting endpoint.
func (e *Engine) PendingForEndpoint(endpoint string) []models.PendingAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.PendingAction
	for _, a := range e.actions {
		if a.Endpoint == endpoint {
			out = append(out, a.Clone())
		}
	}
	return out
}

// HasPendingForEndpoint reports whether any queued action targets endpoint.
func (e *Engine) HasPendingForEndpoint(endpoint string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.actions {
		if a.Endpoint == endpoint {
			return true
		}
	}
	return false
}

// Len returns the number of queued actions.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.actions)
}

// Status summarizes the queue for hosts and the status endpoint.
type Status struct {
	Pending       int                    `json:"pending"`
	Replaying     bool                   `json:"replaying"`
	DroppedTotal  int                    `json:"dropped_total"`
	RecentDropped []models.DroppedAction `json:"recent_dropped"`
	LastReplay    *ReplayResult          `json:"last_replay,omitempty"`
}

// Status returns the current queue status. RecentDropped is newest last.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Pending:       len(e.actions),
		Replaying:     e.replaying.Load(),
		DroppedTotal:  e.droppedTotal,
		RecentDropped: make([]models.DroppedAction, len(e.dropped)),
	}
	copy(st.RecentDropped, e.dropped)
	if e.lastReplay != nil {
		last := *e.lastReplay
		st.LastReplay = &last
	}
	return st
}

// =====================================================
// Streams
// =====================================================

// SubscribeDropped streams every evicted action.
func (e *Engine) SubscribeDropped() (broadcast.SubscriptionID, <-chan models.DroppedAction) {
	return e.droppedHub.Subscribe()
}

// UnsubscribeDropped closes a stream returned by SubscribeDropped.
func (e *Engine) UnsubscribeDropped(id broadcast.SubscriptionID) {
	e.droppedHub.Unsubscribe(id)
}

// SubscribeErrors streams failures from background work: triggered replays,
// persistence and recovered panics.
func (e *Engine) SubscribeErrors() (broadcast.SubscriptionID, <-chan error) {
	return e.errorHub.Subscribe()
}

// UnsubscribeErrors closes a stream returned by SubscribeErrors.
func (e *Engine) UnsubscribeErrors(id broadcast.SubscriptionID) {
	e.errorHub.Unsubscribe(id)
}

// SubscribeResults streams the result of every completed replay pass.
func (e *Engine) SubscribeResults() (broadcast.SubscriptionID, <-chan ReplayResult) {
	return e.resultHub.Subscribe()
}

// UnsubscribeResults closes a stream returned by SubscribeResults.
func (e *Engine) UnsubscribeResults(id broadcast.SubscriptionID) {
	e.resultHub.Unsubscribe(id)
}

// =====================================================
// Internals
// =====================================================

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// indexLocked must be called with e.mu held.
func (e *Engine) indexLocked(id string) int {
	for i, a := range e.actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole queue. Failures are logged and reported on the
// error stream; the in-memory queue stays authoritative.
func (e *Engine) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.RLock()
	encoded := make([]string, 0, len(e.actions))
	var encodeErr error
	for _, a := range e.actions {
		s, err := models.EncodePendingAction(a)
		if err != nil {
			encodeErr = err
			continue
		}
		encoded = append(encoded, s)
	}
	e.mu.RUnlock()

	if encodeErr != nil {
		logging.Error("Failed to encode queued action", encodeErr)
		e.reportError(encodeErr)
	}
	if err := e.store.SaveStringList(ctx, e.cfg.StorageKey, encoded); err != nil {
		logging.ErrorWithCode("Failed to persist offline queue", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"key":     e.cfg.StorageKey,
			"pending": len(encoded),
		})
		e.reportError(err)
	}
}

func (e *Engine) reportError(err error) {
	if err == nil {
		return
	}
	e.errorHub.Publish(err)
}

func (e *Engine) recordDropped(d models.DroppedAction) {
	e.mu.Lock()
	e.droppedTotal++
	if e.cfg.DroppedHistory > 0 {
		e.dropped = append(e.dropped, d)
		if over := len(e.dropped) - e.cfg.DroppedHistory; over > 0 {
			e.dropped = append([]models.DroppedAction(nil), e.dropped[over:]...)
		}
	}
	e.mu.Unlock()

	logging.ErrorWithCode("Action dropped after exhausting retries", string(apperrors.ErrRemoteFailed), nil, map[string]interface{}{
		"id":          d.Action.ID,
		"kind":        string(d.Action.Kind),
		"endpoint":    d.Action.Endpoint,
		"retry_count": d.Action.RetryCount,
		"reason":      d.Reason,
	})
	e.droppedHub.Publish(d)

	if e.onDropped != nil {
		var pc panics.Catcher
		pc.Try(func() { e.onDropped(d) })
		if r := pc.Recovered(); r != nil {
			e.reportError(fmt.Errorf("dropped action callback: %w", r.AsError()))
		}
	}
}
