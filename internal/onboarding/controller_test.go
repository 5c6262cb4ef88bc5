package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/lomi/client/internal/models"
)

type stubAPI struct {
	status     models.OnboardingProgress
	statusErr  error
	update     func(step int, completed *bool) (models.OnboardingProgress, error)
	statusHits int
	updateHits int
}

func (s *stubAPI) OnboardingStatus(context.Context) (models.OnboardingProgress, error) {
	s.statusHits++
	return s.status, s.statusErr
}

func (s *stubAPI) UpdateOnboarding(_ context.Context, step int, completed *bool) (models.OnboardingProgress, error) {
	s.updateHits++
	if s.update != nil {
		return s.update(step, completed)
	}
	p := models.OnboardingProgress{Step: step}
	if completed != nil {
		p.Completed = *completed
	}
	return p, nil
}

func TestFetchStatusThenReset(t *testing.T) {
	api := &stubAPI{status: models.OnboardingProgress{Step: 3, Completed: false, Progress: 42.5}}
	c := NewController(api, nil)

	progress, err := c.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("fetch status: %v", err)
	}
	if progress.Step != 3 || progress.Completed {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if got := c.Progress(); got.Step != 3 || got.Completed || got.Progress != 42.5 {
		t.Fatalf("expected progress installed got %+v", got)
	}

	c.Reset()
	if got := c.Progress(); got != (models.OnboardingProgress{}) {
		t.Fatalf("expected default progress after reset got %+v", got)
	}
	if api.statusHits != 1 || api.updateHits != 0 {
		t.Fatalf("reset must not contact the server, got %d status and %d update calls", api.statusHits, api.updateHits)
	}
}

func TestFetchStatusFailureKeepsProgress(t *testing.T) {
	api := &stubAPI{status: models.OnboardingProgress{Step: 4}}
	c := NewController(api, nil)
	ctx := context.Background()

	if _, err := c.FetchStatus(ctx); err != nil {
		t.Fatalf("fetch status: %v", err)
	}

	api.statusErr = errors.New("timeout")
	if _, err := c.FetchStatus(ctx); err == nil {
		t.Fatal("expected fetch error")
	}
	if c.Progress().Step != 4 {
		t.Fatalf("expected prior progress kept got %+v", c.Progress())
	}
	if c.IsLoading() {
		t.Fatal("expected loading cleared after failure")
	}
}

func TestFetchStatusRejectsOutOfRangeStep(t *testing.T) {
	api := &stubAPI{status: models.OnboardingProgress{Step: 12}}
	c := NewController(api, nil)

	if _, err := c.FetchStatus(context.Background()); !errors.Is(err, ErrInvalidProgress) {
		t.Fatalf("expected ErrInvalidProgress got %v", err)
	}
	if c.Progress().Step != 0 {
		t.Fatalf("expected default progress kept got %+v", c.Progress())
	}
}

func TestUpdateStepSucceedsWhenHookFails(t *testing.T) {
	api := &stubAPI{}
	c := NewController(api, nil)

	var hookCalls int
	c.OnStepUpdated(func(_ context.Context, p models.OnboardingProgress) error {
		hookCalls++
		if p.Step != 5 {
			t.Errorf("hook saw step %d", p.Step)
		}
		return errors.New("users/me: connection reset")
	})

	progress, err := c.UpdateStep(context.Background(), 5, nil)
	if err != nil {
		t.Fatalf("expected update to succeed despite hook failure got %v", err)
	}
	if progress.Step != 5 || c.Progress().Step != 5 {
		t.Fatalf("expected step 5 got %+v / %+v", progress, c.Progress())
	}
	if hookCalls != 1 {
		t.Fatalf("expected hook once got %d", hookCalls)
	}
}

func TestUpdateStepFailure(t *testing.T) {
	boom := errors.New("502 bad gateway")
	api := &stubAPI{update: func(int, *bool) (models.OnboardingProgress, error) {
		return models.OnboardingProgress{}, boom
	}}
	c := NewController(api, nil)

	var hookCalls int
	c.OnStepUpdated(func(context.Context, models.OnboardingProgress) error {
		hookCalls++
		return nil
	})

	_, err := c.UpdateStep(context.Background(), 2, nil)
	if !errors.Is(err, ErrStepUpdateFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped ErrStepUpdateFailed got %v", err)
	}
	if hookCalls != 0 {
		t.Fatal("hooks must not run on failure")
	}
	if c.IsLoading() {
		t.Fatal("expected loading cleared")
	}
}

func TestUpdateStepCompletion(t *testing.T) {
	api := &stubAPI{}
	c := NewController(api, nil)

	done := true
	progress, err := c.UpdateStep(context.Background(), models.MaxOnboardingStep, &done)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !progress.Completed || progress.Step != models.MaxOnboardingStep {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestUpdateStepRejectsOutOfRange(t *testing.T) {
	api := &stubAPI{}
	c := NewController(api, nil)

	for _, step := range []int{-1, 8} {
		if _, err := c.UpdateStep(context.Background(), step, nil); !errors.Is(err, ErrInvalidProgress) {
			t.Fatalf("step %d: expected ErrInvalidProgress got %v", step, err)
		}
	}
	if api.updateHits != 0 {
		t.Fatalf("expected no server calls got %d", api.updateHits)
	}
}
