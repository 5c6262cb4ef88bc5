package handlers

import (
	"context"

	"github.com/lomi/client/internal/gate"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/session"
)

// SessionService exposes the session controller to the control API.
type SessionService interface {
	State() session.State
	Logout(ctx context.Context)
	RefreshUser(ctx context.Context) error
}

// GateService exposes the startup gate.
type GateService interface {
	Snapshot() gate.Snapshot
	Retry(ctx context.Context) (gate.State, error)
	Subscribe(fn func(gate.Snapshot)) func()
}

// OnboardingService exposes the onboarding progress controller.
type OnboardingService interface {
	Progress() models.OnboardingProgress
	IsLoading() bool
	FetchStatus(ctx context.Context) (models.OnboardingProgress, error)
	UpdateStep(ctx context.Context, step int, completed *bool) (models.OnboardingProgress, error)
}
