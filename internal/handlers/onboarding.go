package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/onboarding"
	"github.com/lomi/client/internal/steps"
)

// OnboardingHandler drives onboarding progress on behalf of the shell.
type OnboardingHandler struct {
	Onboarding OnboardingService
}

type progressResponse struct {
	Progress models.OnboardingProgress `json:"progress"`
	Screen   steps.Screen              `json:"screen"`
	Loading  bool                      `json:"loading"`
}

func (h OnboardingHandler) response(p models.OnboardingProgress) progressResponse {
	return progressResponse{
		Progress: p,
		Screen:   steps.InitialScreenFor(p.Step),
		Loading:  h.Onboarding.IsLoading(),
	}
}

// Get handles GET /onboarding. It never contacts the server.
func (h OnboardingHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, h.response(h.Onboarding.Progress()))
}

// Refresh handles POST /onboarding/refresh.
func (h OnboardingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, err := h.Onboarding.FetchStatus(ctx)
	if err != nil {
		status := upstreamStatus(err)
		if errors.Is(err, onboarding.ErrInvalidProgress) {
			status = http.StatusBadGateway
		}
		respondError(ctx, w, status, "unable to fetch onboarding status")
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.response(progress))
}

type updateProgressRequest struct {
	Step      *int  `json:"step"`
	Completed *bool `json:"completed,omitempty"`
}

// Update handles PATCH /onboarding/progress.
func (h OnboardingHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Step == nil {
		respondError(ctx, w, http.StatusBadRequest, "step is required")
		return
	}

	if *req.Step < 0 || *req.Step > models.MaxOnboardingStep {
		respondError(ctx, w, http.StatusBadRequest, "step must be between 0 and 7")
		return
	}

	progress, err := h.Onboarding.UpdateStep(ctx, *req.Step, req.Completed)
	if err != nil {
		status := upstreamStatus(err)
		if errors.Is(err, onboarding.ErrInvalidProgress) {
			status = http.StatusBadGateway
		}
		respondError(ctx, w, status, "unable to update onboarding step")
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.response(progress))
}

// Next handles GET /onboarding/next?screen=<Screen>.
func (h OnboardingHandler) Next(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current := steps.Screen(r.URL.Query().Get("screen"))
	if _, ok := steps.StepFor(current); !ok {
		respondError(ctx, w, http.StatusBadRequest, "unknown screen")
		return
	}

	next, ok := steps.Next(current)
	if !ok {
		respondJSON(ctx, w, http.StatusOK, map[string]any{"done": true})
		return
	}
	step, _ := steps.StepFor(next)
	respondJSON(ctx, w, http.StatusOK, map[string]any{"done": false, "screen": next, "step": step})
}
