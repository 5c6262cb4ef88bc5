package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lomi/client/internal/config"
	"github.com/lomi/client/internal/gate"
	"github.com/lomi/client/internal/handlers"
	"github.com/lomi/client/internal/httpserver"
	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/middleware"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/steps"
	"github.com/lomi/client/internal/tokens"
)

// stdout is where commands print their results.
var stdout io.Writer = os.Stdout

// Run bootstraps the Lomi client.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: start, serve, status, logout, onboarding, or migrate")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx = logging.WithLogger(ctx, logger)

	switch args[0] {
	case "start":
		return start(ctx, cfg, logger)
	case "serve":
		return serve(ctx, cfg, logger)
	case "status":
		return status(ctx, cfg, logger)
	case "logout":
		return logout(ctx, cfg, logger)
	case "onboarding":
		return runOnboarding(ctx, cfg, logger, args[1:])
	case "migrate":
		return runMigrations(ctx, cfg, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     logging.ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// start runs the gate once and prints where the user lands.
func start(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	// Nothing mounts in a one-shot run.
	deps.navigation.MarkReady()

	state, runErr := deps.gate.Run(ctx)
	if err := printJSON(deps.gate.Snapshot()); err != nil {
		return err
	}
	switch state {
	case gate.StateNotInHostEnvironment:
		return errors.New("please open Lomi from Telegram")
	case gate.StateAuthError:
		return fmt.Errorf("authentication failed: %w", runErr)
	}
	return runErr
}

// serve runs the gate behind the control API until interrupted.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	router := handlers.NewRouter(handlers.Dependencies{
		Session:        deps.session,
		Gate:           deps.gate,
		Onboarding:     deps.onboarding,
		Limiter:        middleware.NewKeyedLimiter(20, 40, 5*time.Minute),
		AllowedOrigins: cfg.Control.AllowedOrigins,
		Logger:         logger.With("component", "control"),
	})

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Control.Port)))
	if err != nil {
		return fmt.Errorf("listen control api: %w", err)
	}
	srv := httpserver.New(cfg.Control.Port, router, logger)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(ctx, ln) }()

	// The shell can receive routes once the control API accepts connections.
	deps.navigation.MarkReady()

	go func() {
		if state, err := deps.gate.Run(ctx); err != nil {
			logger.Warn("startup gate finished with error", "state", state, "error", err)
		}
	}()

	return <-srvErr
}

type statusOutput struct {
	Authenticated   bool               `json:"authenticated"`
	User            *models.UserRecord `json:"user,omitempty"`
	AccessExpiresAt *time.Time         `json:"access_expires_at,omitempty"`
	AccessExpired   bool               `json:"access_expired,omitempty"`
	ResumeScreen    steps.Screen       `json:"resume_screen,omitempty"`
}

// status prints the stored session without contacting the server.
func status(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	out := statusOutput{Authenticated: deps.session.LoadTokens(ctx)}
	st := deps.session.State()
	out.User = st.User
	out.AccessExpiresAt = st.AccessExpiresAt
	if out.Authenticated {
		out.AccessExpired = tokens.ExpiresWithin(st.AccessToken, time.Now(), 0)
		if !st.User.HasProfile {
			out.ResumeScreen = steps.InitialScreenFor(st.User.OnboardingStep)
		}
	}
	return printJSON(out)
}

func logout(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	deps.session.LoadTokens(ctx)
	deps.session.Logout(ctx)
	fmt.Fprintln(stdout, "logged out")
	return nil
}

func runOnboarding(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	command := "status"
	if len(args) > 0 {
		command = args[0]
	}

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	if !deps.session.LoadTokens(ctx) {
		return errors.New("not logged in: run `lomi start` first")
	}

	progress, err := deps.onboarding.FetchStatus(ctx)
	if err != nil {
		return err
	}

	switch command {
	case "status":
	case "advance":
		if progress.Completed || progress.Step >= models.MaxOnboardingStep {
			return errors.New("onboarding already complete")
		}
		next := progress.Step + 1
		var completed *bool
		if next == models.MaxOnboardingStep {
			done := true
			completed = &done
		}
		if progress, err = deps.onboarding.UpdateStep(ctx, next, completed); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown onboarding command %q", command)
	}

	return printJSON(map[string]any{
		"progress": progress,
		"screen":   steps.InitialScreenFor(progress.Step),
	})
}
