package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/cache"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
)

// CacheHandler exposes the response cache.
type CacheHandler struct {
	cache *cache.ResponseCache
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(c *cache.ResponseCache) *CacheHandler {
	return &CacheHandler{cache: c}
}

// CacheResponse is the body of GET /api/cache/{key}.
type CacheResponse struct {
	Key  string       `json:"key"`
	Data models.Value `json:"data"`
}

// Get handles GET /api/cache/{key}. With max_age (a Go duration) only
// entries that young are returned.
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var (
		data models.Value
		ok   bool
	)
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		maxAge, err := time.ParseDuration(raw)
		if err != nil || maxAge < 0 {
			writeError(w, apperrors.Newf(apperrors.ErrInvalid, "invalid max_age %q", raw))
			return
		}
		data, ok = h.cache.GetFresh(r.Context(), key, maxAge)
	} else {
		data, ok = h.cache.Get(r.Context(), key)
	}

	if !ok {
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "no cached response for %q", key))
		return
	}
	writeJSON(w, http.StatusOK, CacheResponse{Key: key, Data: data})
}

// Put handles PUT /api/cache/{key}. The body is the JSON document to cache.
func (h *CacheHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	b, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := models.ParseValue(b)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid JSON body", err))
		return
	}
	h.cache.Put(r.Context(), key, data)
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/cache, optionally limited by the prefix query
// parameter.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}
