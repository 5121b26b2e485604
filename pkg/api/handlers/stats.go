package handlers

import (
	"context"
	"net/http"

	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/syncer"
	"github.com/playforge/arcadia/pkg/txn"
)

// SessionStats is the session registry snapshot served by the API.
type SessionStats struct {
	Count int `json:"count"`
}

// Providers supplies the stat snapshots the API serves. Nil providers turn
// their endpoint into a 404.
type Providers struct {
	Cache    func(ctx context.Context) cache.Stats
	Lock     func() lock.Stats
	Sync     func() syncer.Stats
	Txn      func() txn.Stats
	Sessions func() SessionStats
	Router   func() router.Stats
}

// StatsHandler serves the /v1/stats endpoints.
type StatsHandler struct {
	p Providers
}

// NewStatsHandler creates a stats handler over the given providers.
func NewStatsHandler(p Providers) *StatsHandler {
	return &StatsHandler{p: p}
}

func notConfigured(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse("subsystem not configured"))
}

// Cache handles GET /v1/stats/cache.
func (h *StatsHandler) Cache(w http.ResponseWriter, r *http.Request) {
	if h.p.Cache == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Cache(r.Context())))
}

// Lock handles GET /v1/stats/lock.
func (h *StatsHandler) Lock(w http.ResponseWriter, _ *http.Request) {
	if h.p.Lock == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Lock()))
}

// Sync handles GET /v1/stats/sync.
func (h *StatsHandler) Sync(w http.ResponseWriter, _ *http.Request) {
	if h.p.Sync == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Sync()))
}

// Txn handles GET /v1/stats/txn.
func (h *StatsHandler) Txn(w http.ResponseWriter, _ *http.Request) {
	if h.p.Txn == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Txn()))
}

// Sessions handles GET /v1/stats/sessions.
func (h *StatsHandler) Sessions(w http.ResponseWriter, _ *http.Request) {
	if h.p.Sessions == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Sessions()))
}

// Router handles GET /v1/stats/router.
func (h *StatsHandler) Router(w http.ResponseWriter, _ *http.Request) {
	if h.p.Router == nil {
		notConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.p.Router()))
}
