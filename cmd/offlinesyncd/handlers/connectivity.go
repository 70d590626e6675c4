package handlers

import (
	"net/http"
	"strings"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
)

// ConnectivityHandler exposes the connectivity monitor. push is nil unless
// the daemon runs with the push probe.
type ConnectivityHandler struct {
	monitor *connectivity.Monitor
	push    *connectivity.PushProbe
}

// NewConnectivityHandler creates a new ConnectivityHandler.
func NewConnectivityHandler(monitor *connectivity.Monitor, push *connectivity.PushProbe) *ConnectivityHandler {
	return &ConnectivityHandler{monitor: monitor, push: push}
}

// ConnectivityResponse is the body of GET /api/connectivity.
type ConnectivityResponse struct {
	State  models.ConnectivityState `json:"state"`
	Online bool                     `json:"online"`
}

// Get handles GET /api/connectivity.
func (h *ConnectivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	state := h.monitor.State()
	writeJSON(w, http.StatusOK, ConnectivityResponse{State: state, Online: state.IsOnline()})
}

// Push handles PUT /api/connectivity with a body of {"raw": "wifi"}. The
// response carries the state the raw result maps to; the monitor applies it
// asynchronously.
func (h *ConnectivityHandler) Push(w http.ResponseWriter, r *http.Request) {
	if h.push == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "daemon is not using the push probe"))
		return
	}

	var req struct {
		Raw string `json:"raw"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Raw) == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "raw is required"))
		return
	}

	raw := connectivity.Raw(req.Raw)
	h.push.Set(raw)
	writeJSON(w, http.StatusAccepted, ConnectivityResponse{
		State:  connectivity.StateFor(raw),
		Online: connectivity.StateFor(raw).IsOnline(),
	})
}
