package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/cache"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/scheduler"
)

// Deps are the components the API serves.
type Deps struct {
	Engine    *queue.Engine
	Scheduler *scheduler.Scheduler
	Monitor   *connectivity.Monitor
	Push      *connectivity.PushProbe // nil unless the push probe is configured
	Cache     *cache.ResponseCache
	WebSocket http.Handler // optional
	Version   string
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version      string                    `json:"version"`
	Connectivity models.ConnectivityState  `json:"connectivity"`
	Queue        queue.Status              `json:"queue"`
	Scheduler    scheduler.SchedulerStatus `json:"scheduler"`
	Cache        cache.Stats               `json:"cache"`
}

// NewRouter wires every route.
func NewRouter(d Deps) *mux.Router {
	q := NewQueueHandler(d.Engine, d.Scheduler)
	c := NewConnectivityHandler(d.Monitor, d.Push)
	ch := NewCacheHandler(d.Cache)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "offlinesyncd",
			"version": d.Version,
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Version:      d.Version,
			Connectivity: d.Monitor.State(),
			Queue:        d.Engine.Status(),
			Scheduler:    d.Scheduler.GetStatus(),
			Cache:        d.Cache.Stats(),
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/queue", q.List).Methods(http.MethodGet)
	api.HandleFunc("/queue", q.Enqueue).Methods(http.MethodPost)
	api.HandleFunc("/queue", q.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/queue/sync", q.Sync).Methods(http.MethodPost)
	api.HandleFunc("/queue/{id}", q.Remove).Methods(http.MethodDelete)

	api.HandleFunc("/connectivity", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/connectivity", c.Push).Methods(http.MethodPut)

	api.HandleFunc("/cache", ch.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/cache/{key:.+}", ch.Get).Methods(http.MethodGet)
	api.HandleFunc("/cache/{key:.+}", ch.Put).Methods(http.MethodPut)

	if d.WebSocket != nil {
		r.Handle("/ws", d.WebSocket)
	}
	return r
}
