// Package onboarding tracks the user's position in the profile-completion
// sequence. The server is the only source of step values.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/models"
)

var (
	// ErrStepUpdateFailed wraps a failed progress PATCH.
	ErrStepUpdateFailed = errors.New("onboarding step update failed")
	// ErrInvalidProgress indicates the server returned a step outside 0..7.
	ErrInvalidProgress = errors.New("invalid onboarding progress")
)

// API is the subset of the Lomi API the controller needs.
type API interface {
	OnboardingStatus(ctx context.Context) (models.OnboardingProgress, error)
	UpdateOnboarding(ctx context.Context, step int, completed *bool) (models.OnboardingProgress, error)
}

// StepUpdatedFunc observes successful step updates. Errors are logged and
// never fail the update.
type StepUpdatedFunc func(ctx context.Context, progress models.OnboardingProgress) error

// Controller owns the in-memory onboarding progress.
type Controller struct {
	api    API
	logger *slog.Logger

	mu       sync.RWMutex
	progress models.OnboardingProgress
	loading  bool
	hooks    []StepUpdatedFunc
}

// NewController returns a Controller at step 0.
func NewController(api API, logger *slog.Logger) *Controller {
	if api == nil {
		panic("onboarding: api must not be nil")
	}
	return &Controller{api: api, logger: logging.OrDefault(logger)}
}

// OnStepUpdated registers fn to run after every successful UpdateStep.
func (c *Controller) OnStepUpdated(fn StepUpdatedFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// FetchStatus replaces the in-memory progress with the server's. On failure
// the previous progress is kept.
func (c *Controller) FetchStatus(ctx context.Context) (models.OnboardingProgress, error) {
	ctx, span := logging.StartSpan(ctx, "onboarding.fetch_status")

	c.setLoading(true)
	defer c.setLoading(false)

	progress, err := c.api.OnboardingStatus(ctx)
	if err != nil {
		err = fmt.Errorf("fetch onboarding status: %w", err)
		span.EndErr(err)
		return c.Progress(), err
	}
	if !progress.Valid() {
		err := fmt.Errorf("%w: step %d", ErrInvalidProgress, progress.Step)
		span.EndErr(err)
		return c.Progress(), err
	}

	c.mu.Lock()
	c.progress = progress
	c.mu.Unlock()

	span.End()
	return progress, nil
}

// UpdateStep moves the user to step on the server and installs the returned
// progress. Registered hooks then run in order.
func (c *Controller) UpdateStep(ctx context.Context, step int, completed *bool) (models.OnboardingProgress, error) {
	ctx, span := logging.StartSpan(ctx, "onboarding.update_step")
	logger := logging.FromContext(ctx)

	if step < 0 || step > models.MaxOnboardingStep {
		err := fmt.Errorf("%w: %w: step %d", ErrStepUpdateFailed, ErrInvalidProgress, step)
		span.EndErr(err)
		return c.Progress(), err
	}

	c.setLoading(true)
	progress, err := c.api.UpdateOnboarding(ctx, step, completed)
	c.setLoading(false)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStepUpdateFailed, err)
		span.EndErr(err)
		return c.Progress(), err
	}
	if !progress.Valid() {
		err := fmt.Errorf("%w: %w: server returned step %d", ErrStepUpdateFailed, ErrInvalidProgress, progress.Step)
		span.EndErr(err)
		return c.Progress(), err
	}

	c.mu.Lock()
	c.progress = progress
	hooks := append([]StepUpdatedFunc(nil), c.hooks...)
	c.mu.Unlock()

	logger.Info("onboarding step updated", "step", progress.Step, "completed", progress.Completed)

	for _, fn := range hooks {
		if err := fn(ctx, progress); err != nil {
			logger.Warn("step updated hook failed", "error", err)
		}
	}

	span.End()
	return progress, nil
}

// Reset returns progress to step 0 without contacting the server.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.progress = models.OnboardingProgress{}
	c.loading = false
	c.mu.Unlock()
}

// Progress returns the current progress.
func (c *Controller) Progress() models.OnboardingProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// IsLoading reports whether a fetch or update is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

func (c *Controller) setLoading(loading bool) {
	c.mu.Lock()
	c.loading = loading
	c.mu.Unlock()
}
