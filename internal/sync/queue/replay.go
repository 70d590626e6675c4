package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
)

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
	// Interrupted is set when the pass stopped early because its context
	// ended or connectivity left Online.
	Interrupted bool      `json:"interrupted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Replay runs one pass over the queue, waiting for any running pass first.
// It is a no-op when the queue is empty or the device is not Online.
func (e *Engine) Replay(ctx context.Context) (ReplayResult, error) {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()
	return e.replayLocked(ctx)
}

// ForceSyncNow is an explicit replay the caller awaits. It fails with
// NO_CONNECTION when the device is not Online.
func (e *Engine) ForceSyncNow(ctx context.Context) (ReplayResult, error) {
	if e.isClosed() {
		return ReplayResult{}, apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}
	if !e.conn.IsOnline() {
		return ReplayResult{}, apperrors.New(apperrors.ErrNoConnection, "cannot sync while offline")
	}

	e.replayMu.Lock()
	defer e.replayMu.Unlock()

	if !e.conn.IsOnline() {
		return ReplayResult{}, apperrors.New(apperrors.ErrNoConnection, "cannot sync while offline")
	}
	return e.replayLocked(ctx)
}

// TriggerReplay starts a detached replay pass when online and the queue is
// non-empty. It returns false without doing anything when a pass is
// already running. Failures go to the log and the error stream.
func (e *Engine) TriggerReplay() bool {
	if !e.conn.IsOnline() || e.Len() == 0 {
		return false
	}
	if !e.replayMu.TryLock() {
		logging.Debug("Replay already running, skipping trigger")
		return false
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.replayMu.Unlock()
		return false
	}
	e.tasks.Go(func() {
		defer e.replayMu.Unlock()

		var pc panics.Catcher
		pc.Try(func() {
			if _, err := e.replayLocked(e.taskCtx); err != nil {
				logging.Error("Background replay failed", err)
				e.reportError(err)
			}
		})
		if r := pc.Recovered(); r != nil {
			err := fmt.Errorf("replay panicked: %w", r.AsError())
			logging.Error("Background replay panicked", err)
			e.reportError(err)
		}
	})
	e.mu.RUnlock()
	return true
}

// replayLocked must be called with e.replayMu held.
func (e *Engine) replayLocked(ctx context.Context) (ReplayResult, error) {
	if e.isClosed() {
		return ReplayResult{}, apperrors.New(apperrors.ErrClosed, "queue engine is closed")
	}
	if !e.conn.IsOnline() {
		return ReplayResult{}, nil
	}

	e.mu.RLock()
	snapshot := make([]models.PendingAction, len(e.actions))
	for i, a := range e.actions {
		snapshot[i] = a.Clone()
	}
	e.mu.RUnlock()
	if len(snapshot) == 0 {
		return ReplayResult{}, nil
	}

	e.replaying.Store(true)
	defer e.replaying.Store(false)

	result := ReplayResult{StartedAt: e.now()}
	var evicted []models.DroppedAction

	logging.Info("Replaying offline queue", map[string]interface{}{
		"pending": len(snapshot),
	})

	for _, action := range snapshot {
		if ctx.Err() != nil || !e.conn.IsOnline() {
			result.Interrupted = true
			break
		}

		callErr := e.remote.Execute(ctx, action.Kind, action.Endpoint, action.Payload, action.Headers)
		if callErr != nil && (ctx.Err() != nil || !e.conn.IsOnline()) {
			// lost the context or the network mid-call: no retry charged
			result.Interrupted = true
			break
		}
		result.Attempted++

		e.mu.Lock()
		idx := e.indexLocked(action.ID)
		if idx < 0 {
			// removed while the call was in flight
			e.mu.Unlock()
			continue
		}
		if callErr == nil {
			e.actions = append(e.actions[:idx], e.actions[idx+1:]...)
			e.mu.Unlock()
			result.Succeeded++
			e.metrics.ActionReplayed(ctx, string(action.Kind), telemetry.OutcomeSucceeded)
			continue
		}

		e.actions[idx].RetryCount++
		updated := e.actions[idx].Clone()
		if updated.RetryCount >= e.cfg.MaxRetries {
			e.actions = append(e.actions[:idx], e.actions[idx+1:]...)
			e.mu.Unlock()
			result.Dropped++
			evicted = append(evicted, models.DroppedAction{
				Action:    updated,
				Reason:    callErr.Error(),
				DroppedAt: e.now(),
			})
			e.metrics.ActionReplayed(ctx, string(action.Kind), telemetry.OutcomeDropped)
			continue
		}
		e.mu.Unlock()

		result.Failed++
		logging.Warn("Replay attempt failed, will retry", map[string]interface{}{
			"id":          action.ID,
			"endpoint":    action.Endpoint,
			"retry_count": updated.RetryCount,
			"max_retries": e.cfg.MaxRetries,
			"error":       callErr.Error(),
		})
		e.metrics.ActionReplayed(ctx, string(action.Kind), telemetry.OutcomeRetried)
	}

	e.persist(ctx)

	for _, d := range evicted {
		e.recordDropped(d)
	}

	result.FinishedAt = e.now()
	e.mu.Lock()
	result.Remaining = len(e.actions)
	last := result
	e.lastReplay = &last
	e.mu.Unlock()

	logging.Info("Replay pass finished", map[string]interface{}{
		"attempted":   result.Attempted,
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"dropped":     result.Dropped,
		"remaining":   result.Remaining,
		"interrupted": result.Interrupted,
	})
	e.metrics.ReplayPass(ctx, result.Interrupted)
	e.metrics.QueueDepth(ctx, result.Remaining)
	e.resultHub.Publish(result)

	return result, nil
}
