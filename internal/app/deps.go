package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lomi/client/internal/apiclient"
	"github.com/lomi/client/internal/config"
	"github.com/lomi/client/internal/gate"
	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/onboarding"
	"github.com/lomi/client/internal/session"
	"github.com/lomi/client/internal/steps"
	"github.com/lomi/client/internal/tokenstore"
)

// dependencies holds the constructed client core.
type dependencies struct {
	store      tokenstore.Store
	api        *apiclient.Client
	session    *session.Controller
	onboarding *onboarding.Controller
	navigation *gate.Navigation
	gate       *gate.Gate

	cleanup func() error
}

// buildDependencies wires together the client core. Controllers only know
// each other through the hooks registered here.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*dependencies, error) {
	logger = logging.OrDefault(logger)

	store, closeStore, err := tokenstore.Open(ctx, cfg.Store, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	api := apiclient.New(apiclient.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		UserAgent: cfg.API.UserAgent,
	}, logger.With("component", "apiclient"))

	sessions := session.NewController(api, store, logger.With("component", "session"))
	api.Bind(sessions)

	progress := onboarding.NewController(api, logger.With("component", "onboarding"))

	sessions.OnLogout(func(context.Context) {
		progress.Reset()
	})
	progress.OnStepUpdated(func(ctx context.Context, _ models.OnboardingProgress) error {
		return sessions.RefreshUser(ctx)
	})

	navigation := gate.NewNavigation(func(ctx context.Context, route gate.Route) error {
		if route.Kind != gate.RouteOnboarding {
			return nil
		}
		// A failed fetch leaves progress at step zero.
		if _, err := progress.FetchStatus(ctx); err != nil {
			logging.FromContext(ctx).Warn("onboarding status unavailable", "error", err)
		}
		return nil
	})

	g, err := gate.New(gate.Config{
		CredentialAttempts: cfg.Gate.CredentialAttempts,
		CredentialInterval: cfg.Gate.CredentialInterval,
	}, gate.Deps{
		Detector:    gate.NewPlatformDetector(cfg.Gate),
		Credentials: gate.NewCredentialSource(cfg.Gate),
		Session:     sessions,
		Navigator:   navigation,
		Router:      steps.Router{},
		Logger:      logger.With("component", "gate"),
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	return &dependencies{
		store:      store,
		api:        api,
		session:    sessions,
		onboarding: progress,
		navigation: navigation,
		gate:       g,
		cleanup:    closeStore,
	}, nil
}
