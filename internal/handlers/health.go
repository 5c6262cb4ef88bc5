package handlers

import (
	"net/http"
)

// HealthHandler responds with liveness and the gate's current state.
type HealthHandler struct {
	Gate GateService
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]string{
		"status": "ok",
	}
	if h.Gate != nil {
		payload["gate"] = string(h.Gate.Snapshot().State)
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
