package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/scheduler"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/uuid"
)

// QueueHandler exposes the offline action queue.
type QueueHandler struct {
	engine    *queue.Engine
	scheduler *scheduler.Scheduler
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(engine *queue.Engine, sched *scheduler.Scheduler) *QueueHandler {
	return &QueueHandler{engine: engine, scheduler: sched}
}

// EnqueueRequest is the body of POST /api/queue.
type EnqueueRequest struct {
	Kind     string            `json:"kind"`
	Endpoint string            `json:"endpoint"`
	Payload  models.Value      `json:"payload"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Status    queue.Status              `json:"status"`
	Scheduler scheduler.SchedulerStatus `json:"scheduler"`
	Actions   []models.PendingAction    `json:"actions"`
}

// List handles GET /api/queue. The endpoint query parameter filters actions.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	var actions []models.PendingAction
	if endpoint := r.URL.Query().Get("endpoint"); endpoint != "" {
		actions = h.engine.PendingForEndpoint(endpoint)
	} else {
		actions = h.engine.PendingActions()
	}
	if actions == nil {
		actions = []models.PendingAction{}
	}

	writeJSON(w, http.StatusOK, QueueResponse{
		Status:    h.engine.Status(),
		Scheduler: h.scheduler.GetStatus(),
		Actions:   actions,
	})
}

// Enqueue handles POST /api/queue.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	kind, err := models.ParseActionKind(req.Kind)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid kind", err))
		return
	}

	action, err := h.engine.Enqueue(r.Context(), kind, req.Endpoint, req.Payload, req.Headers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, action)
}

// Clear handles DELETE /api/queue.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearPendingActions(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /api/queue/{id}. Malformed ids are rejected; well
// formed but unknown ids succeed.
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !uuid.IsValidActionID(id) {
		writeError(w, apperrors.Newf(apperrors.ErrInvalid, "malformed action id %q", id))
		return
	}
	if err := h.engine.RemovePendingAction(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /api/queue/sync. It runs a replay pass and returns its
// result, or 503 NO_CONNECTION while offline.
func (h *QueueHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
