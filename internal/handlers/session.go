package handlers

import (
	"errors"
	"net/http"

	"github.com/lomi/client/internal/gate"
	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/session"
)

// SessionHandler exposes session state, retry and logout.
type SessionHandler struct {
	Session SessionService
	Gate    GateService
}

type sessionResponse struct {
	Session session.State `json:"session"`
	Gate    gate.Snapshot `json:"gate"`
}

func (h SessionHandler) snapshot() sessionResponse {
	return sessionResponse{Session: h.Session.State(), Gate: h.Gate.Snapshot()}
}

// Get handles GET /session.
func (h SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, h.snapshot())
}

// Retry handles POST /session/retry. It blocks until the gate run finishes.
func (h SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, err := h.Gate.Retry(ctx)
	switch {
	case errors.Is(err, gate.ErrRetryNotAllowed):
		respondJSON(ctx, w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"gate":  h.Gate.Snapshot(),
		})
		return
	case err != nil && state == gate.StateAuthError:
		// The gate already recorded the failure in its snapshot.
		logging.FromContext(ctx).Warn("retry failed", "error", err)
		respondJSON(ctx, w, http.StatusOK, h.snapshot())
		return
	case err != nil:
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(ctx, w, http.StatusOK, h.snapshot())
}

// Logout handles POST /session/logout.
func (h SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Session.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// RefreshUser handles POST /session/user/refresh.
func (h SessionHandler) RefreshUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Session.RefreshUser(ctx); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
			return
		}
		respondError(ctx, w, upstreamStatus(err), "unable to refresh user")
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.snapshot())
}
