package handlers

import (
	"context"
	"net/http"
	"time"
)

type HealthHandler struct {
	dbPing     func(context.Context) error
	enginePing func(context.Context) error
}

func NewHealthHandler(dbPing, enginePing func(context.Context) error) *HealthHandler {
	return &HealthHandler{dbPing: dbPing, enginePing: enginePing}
}

type healthComponent struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

type healthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]healthComponent `json:"components"`
}

// Liveness handles GET /health: process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Readiness handles GET /health/full and checks the database and the
// container engine.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := healthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]healthComponent),
	}

	check := func(name string, ping func(context.Context) error) {
		start := time.Now()
		err := ping(ctx)
		component := healthComponent{Status: "healthy", Latency: time.Since(start).Milliseconds()}
		if err != nil {
			component.Status = "unhealthy"
			component.Message = err.Error()
			status.Status = "degraded"
		}
		status.Components[name] = component
	}

	if h.dbPing != nil {
		check("database", h.dbPing)
	}
	if h.enginePing != nil {
		check("container_engine", h.enginePing)
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, status, code)
}
