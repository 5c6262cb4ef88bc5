// Package gate decides at startup whether the client can run, authenticating
// with the host credential when no stored session exists, and routes the
// user once the session is ready.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/steps"
)

// State is the gate's position in its startup state machine.
type State string

const (
	StateChecking             State = "checking"
	StateNotInHostEnvironment State = "not_in_host_environment"
	StateAuthError            State = "auth_error"
	StateReady                State = "ready"
)

var (
	// ErrRetryNotAllowed is returned by Retry outside StateAuthError.
	ErrRetryNotAllowed = errors.New("retry is only allowed after an auth error")
	// ErrSuperseded is returned by a run whose result was discarded because a
	// newer run started.
	ErrSuperseded = errors.New("gate run superseded")
	// ErrNotInHostEnvironment is recorded when the detector rejects the host.
	ErrNotInHostEnvironment = errors.New("not running inside the host platform")
)

// Detector reports whether the client runs inside its host platform.
type Detector interface {
	InHostEnvironment(ctx context.Context) bool
}

// Session is the part of the session controller the gate drives.
type Session interface {
	LoadTokens(ctx context.Context) bool
	Login(ctx context.Context, blob string) (models.Session, error)
	Session() (models.Session, bool)
}

// Navigator receives the one-time routing decision. Ready is closed once the
// navigator can accept Navigate calls.
type Navigator interface {
	Ready() <-chan struct{}
	Navigate(ctx context.Context, route Route) error
}

// Router supplies the onboarding resume screen.
type Router interface {
	InitialScreenFor(step int) steps.Screen
}

// RouteKind names the surface a route leads to.
type RouteKind string

const (
	RouteMain       RouteKind = "main"
	RouteOnboarding RouteKind = "onboarding"
)

// Route is the gate's routing decision.
type Route struct {
	Kind   RouteKind    `json:"kind"`
	Screen steps.Screen `json:"screen,omitempty"`
}

// Snapshot is a copy of the gate's observable state.
type Snapshot struct {
	State      State  `json:"state"`
	Error      string `json:"error,omitempty"`
	Route      *Route `json:"route,omitempty"`
	Generation uint64 `json:"generation"`
}

// Config holds the credential polling bounds.
type Config struct {
	CredentialAttempts int
	CredentialInterval time.Duration
}

// Deps are the gate's collaborators.
type Deps struct {
	Detector    Detector
	Credentials CredentialSource
	Session     Session
	Navigator   Navigator
	Router      Router
	Logger      *slog.Logger
}

// Gate is the startup orchestrator.
type Gate struct {
	deps   Deps
	poller Poller
	logger *slog.Logger

	mu          sync.RWMutex
	state       State
	err         error
	route       *Route
	generation  uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// New constructs a Gate in StateChecking.
func New(cfg Config, deps Deps) (*Gate, error) {
	switch {
	case deps.Detector == nil:
		return nil, errors.New("gate: detector is required")
	case deps.Credentials == nil:
		return nil, errors.New("gate: credential source is required")
	case deps.Session == nil:
		return nil, errors.New("gate: session is required")
	case deps.Navigator == nil:
		return nil, errors.New("gate: navigator is required")
	}
	if deps.Router == nil {
		deps.Router = steps.Router{}
	}
	if cfg.CredentialAttempts <= 0 {
		cfg.CredentialAttempts = 10
	}
	if cfg.CredentialInterval <= 0 {
		cfg.CredentialInterval = 500 * time.Millisecond
	}

	return &Gate{
		deps:        deps,
		poller:      Poller{Attempts: cfg.CredentialAttempts, Interval: cfg.CredentialInterval},
		logger:      logging.OrDefault(deps.Logger),
		state:       StateChecking,
		subscribers: make(map[int]func(Snapshot)),
	}, nil
}

// Run executes the startup procedure and returns the state it ended in. A
// stored session always wins over a network login.
func (g *Gate) Run(ctx context.Context) (State, error) {
	ctx = logging.WithLogger(ctx, g.logger)
	ctx, span := logging.StartSpan(ctx, "gate.run")
	logger := logging.FromContext(ctx)

	gen := g.begin()

	if !g.deps.Detector.InHostEnvironment(ctx) {
		logger.Info("not inside host platform")
		return g.finish(ctx, span, gen, StateNotInHostEnvironment, ErrNotInHostEnvironment, nil)
	}

	if g.deps.Session.LoadTokens(ctx) {
		logger.Info("stored session found, skipping login")
		return g.ready(ctx, span, gen)
	}

	result, err := g.poller.Poll(ctx, g.deps.Credentials)
	if err != nil {
		return g.finish(ctx, span, gen, StateAuthError, err, nil)
	}
	if !result.Found {
		err := fmt.Errorf("%w after %d attempts", ErrCredentialUnavailable, result.Attempts)
		if result.LastErr != nil {
			err = fmt.Errorf("%w: %w", err, result.LastErr)
		}
		return g.finish(ctx, span, gen, StateAuthError, err, nil)
	}
	logger.Debug("host credential obtained", "attempts", result.Attempts, "credential", logging.Redact(result.Credential))

	if _, err := g.deps.Session.Login(ctx, result.Credential); err != nil {
		return g.finish(ctx, span, gen, StateAuthError, err, nil)
	}
	return g.ready(ctx, span, gen)
}

// Retry re-runs the startup procedure after an auth error.
func (g *Gate) Retry(ctx context.Context) (State, error) {
	if g.State() != StateAuthError {
		return g.State(), ErrRetryNotAllowed
	}
	return g.Run(ctx)
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Err returns the error that moved the gate out of StateChecking, if any.
func (g *Gate) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

// Snapshot returns the current observable state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked()
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn is called synchronously and must not block.
func (g *Gate) Subscribe(fn func(Snapshot)) func() {
	g.mu.Lock()
	id := g.nextSubID
	g.nextSubID++
	g.subscribers[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subscribers, id)
		g.mu.Unlock()
	}
}

func (g *Gate) snapshotLocked() Snapshot {
	snap := Snapshot{State: g.state, Generation: g.generation}
	if g.err != nil {
		snap.Error = g.err.Error()
	}
	if g.route != nil {
		route := *g.route
		snap.Route = &route
	}
	return snap
}

func (g *Gate) begin() uint64 {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	g.state = StateChecking
	g.err = nil
	g.route = nil
	snap, subs := g.snapshotLocked(), g.subscriberList()
	g.mu.Unlock()

	notify(subs, snap)
	return gen
}

// finish applies a terminal state if gen is still the latest run.
func (g *Gate) finish(ctx context.Context, span *logging.Span, gen uint64, state State, err error, route *Route) (State, error) {
	g.mu.Lock()
	if gen != g.generation {
		current := g.state
		g.mu.Unlock()
		logging.FromContext(ctx).Debug("discarding superseded gate result", "generation", gen)
		span.EndErr(ErrSuperseded)
		return current, ErrSuperseded
	}
	g.state = state
	g.err = err
	g.route = route
	snap, subs := g.snapshotLocked(), g.subscriberList()
	g.mu.Unlock()

	notify(subs, snap)

	if state == StateAuthError {
		logging.FromContext(ctx).Warn("authentication failed", "error", err)
	}
	span.EndErr(err)
	if state == StateNotInHostEnvironment {
		return state, nil
	}
	return state, err
}

// ready enters StateReady and issues the one-time routing decision once the
// navigator signals readiness.
func (g *Gate) ready(ctx context.Context, span *logging.Span, gen uint64) (State, error) {
	sess, ok := g.deps.Session.Session()
	if !ok {
		return g.finish(ctx, span, gen, StateAuthError, errors.New("session missing after authentication"), nil)
	}

	route := Route{Kind: RouteMain}
	if !sess.User.HasProfile {
		route = Route{Kind: RouteOnboarding, Screen: g.deps.Router.InitialScreenFor(sess.User.OnboardingStep)}
	}

	state, err := g.finish(ctx, span, gen, StateReady, nil, &route)
	if err != nil {
		return state, err
	}

	select {
	case <-g.deps.Navigator.Ready():
	case <-ctx.Done():
		return StateReady, fmt.Errorf("wait for navigator: %w", ctx.Err())
	}

	g.mu.RLock()
	stale := gen != g.generation
	g.mu.RUnlock()
	if stale {
		return g.State(), ErrSuperseded
	}

	if err := g.deps.Navigator.Navigate(ctx, route); err != nil {
		return StateReady, fmt.Errorf("navigate: %w", err)
	}
	logging.FromContext(ctx).Info("routed", "kind", route.Kind, "screen", route.Screen, "user_id", sess.User.ID)
	return StateReady, nil
}

func (g *Gate) subscriberList() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(g.subscribers))
	for _, fn := range g.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
