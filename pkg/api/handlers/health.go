package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks liveness of a backing store.
type Pinger func(ctx context.Context) error

// HealthHandler serves the liveness and readiness probes.
//
// Liveness always succeeds while the process serves HTTP. Readiness pings
// the backing stores with a short deadline.
type HealthHandler struct {
	redisPing Pinger
	mongoPing Pinger
}

// NewHealthHandler creates a health handler. Nil pingers are treated as
// not-configured and skip the corresponding check.
func NewHealthHandler(redisPing, mongoPing Pinger) *HealthHandler {
	return &HealthHandler{redisPing: redisPing, mongoPing: mongoPing}
}

// Liveness handles GET /v1/healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "arcadia",
	}))
}

// Readiness handles GET /v1/healthz/ready. It reports unhealthy when any
// configured backing store fails its ping.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	run := func(name string, ping Pinger) {
		if ping == nil {
			checks[name] = "not configured"
			return
		}
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	run("redis", h.redisPing)
	run("mongodb", h.mongoPing)

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, response{
			Status: "unhealthy", Timestamp: time.Now().UTC(), Data: checks,
		})
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(checks))
}
