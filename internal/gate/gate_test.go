package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/session"
	"github.com/lomi/client/internal/steps"
	"github.com/lomi/client/internal/tokenstore"
)

type stubDetector bool

func (d stubDetector) InHostEnvironment(context.Context) bool { return bool(d) }

// delayedSource reports unavailable until the n-th call.
type delayedSource struct {
	mu       sync.Mutex
	availOn  int
	calls    int
	blob     string
	failWith error
}

func (s *delayedSource) Credential(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failWith != nil {
		return "", s.failWith
	}
	if s.availOn == 0 || s.calls < s.availOn {
		return "", ErrCredentialUnavailable
	}
	return s.blob, nil
}

type authAPI struct {
	mu     sync.Mutex
	result models.AuthResult
	err    error
	calls  int
	blobs  []string
}

func (a *authAPI) ExchangeTelegram(_ context.Context, blob string) (models.AuthResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.blobs = append(a.blobs, blob)
	return a.result, a.err
}

func (a *authAPI) ExchangeGoogle(context.Context, string) (models.AuthResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.result, a.err
}

func (a *authAPI) ExchangeWidget(context.Context, models.WidgetCredential) (models.AuthResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.result, a.err
}

func (a *authAPI) CurrentUser(context.Context) (models.UserRecord, error) {
	return a.result.User, nil
}

func (a *authAPI) exchangeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeClock records waits and fires immediately.
type fakeClock struct {
	waited time.Duration
	waits  int
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.waited += d
	c.waits++
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fixture struct {
	gate  *Gate
	api   *authAPI
	src   *delayedSource
	store *tokenstore.MemoryStore
	nav   *Navigation
	clock *fakeClock
	sess  *session.Controller
}

func newFixture(t *testing.T, inHost bool) *fixture {
	t.Helper()
	f := &fixture{
		api:   &authAPI{},
		src:   &delayedSource{blob: "query_id=AAF&user=%7B%7D&hash=9f"},
		store: tokenstore.NewMemoryStore(),
		nav:   NewNavigation(nil),
		clock: &fakeClock{},
	}
	f.sess = session.NewController(f.api, f.store, nil)

	g, err := New(Config{CredentialAttempts: 10, CredentialInterval: 500 * time.Millisecond}, Deps{
		Detector:    stubDetector(inHost),
		Credentials: f.src,
		Session:     f.sess,
		Navigator:   f.nav,
		Router:      steps.Router{},
	})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	g.poller.After = f.clock.after
	f.gate = g
	return f
}

func (f *fixture) persistSession(t *testing.T, user string) {
	t.Helper()
	ctx := context.Background()
	for key, value := range map[string]string{
		tokenstore.KeyAccessToken:  "stored-access",
		tokenstore.KeyRefreshToken: "stored-refresh",
		tokenstore.KeyUser:         user,
	} {
		if err := f.store.Set(ctx, key, value); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
}

func TestFirstLaunchLogsInAndRoutesToOnboarding(t *testing.T) {
	f := newFixture(t, true)
	f.src.availOn = 3
	f.api.result = models.AuthResult{
		AccessToken:  "a",
		RefreshToken: "r",
		User:         models.UserRecord{ID: "u1", HasProfile: false, OnboardingStep: 2},
	}
	f.nav.MarkReady()

	state, err := f.gate.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state != StateReady {
		t.Fatalf("expected ready got %s", state)
	}
	if f.src.calls != 3 {
		t.Fatalf("expected credential on 3rd poll got %d polls", f.src.calls)
	}
	if f.clock.waited != 1000*time.Millisecond {
		t.Fatalf("expected 1000ms of polling got %s", f.clock.waited)
	}
	if f.api.exchangeCalls() != 1 || f.api.blobs[0] != f.src.blob {
		t.Fatalf("expected one exchange with host blob got %d %v", f.api.calls, f.api.blobs)
	}

	route, ok := f.nav.Last()
	if !ok {
		t.Fatal("expected a route")
	}
	if route.Kind != RouteOnboarding || route.Screen != steps.ScreenGenderPreference {
		t.Fatalf("expected onboarding/GenderPreference got %+v", route)
	}
	if f.nav.Count() != 1 {
		t.Fatalf("expected one routing decision got %d", f.nav.Count())
	}
}

func TestStoredSessionTakesFastPath(t *testing.T) {
	f := newFixture(t, true)
	f.src.availOn = 1
	f.persistSession(t, `{"id":"u1","name":"Hana","has_profile":true,"onboarding_step":7}`)
	f.nav.MarkReady()

	state, err := f.gate.Run(context.Background())
	if err != nil || state != StateReady {
		t.Fatalf("expected ready got %s %v", state, err)
	}
	if f.api.exchangeCalls() != 0 {
		t.Fatalf("expected no auth calls got %d", f.api.exchangeCalls())
	}
	if f.src.calls != 0 {
		t.Fatalf("expected no credential polling got %d", f.src.calls)
	}
	if route, _ := f.nav.Last(); route.Kind != RouteMain {
		t.Fatalf("expected main route got %+v", route)
	}
}

func TestNotInHostEnvironment(t *testing.T) {
	f := newFixture(t, false)
	f.persistSession(t, `{"id":"u1","has_profile":true}`)
	f.nav.MarkReady()

	state, err := f.gate.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error got %v", err)
	}
	if state != StateNotInHostEnvironment {
		t.Fatalf("expected not_in_host_environment got %s", state)
	}
	if f.sess.State().IsAuthenticated {
		t.Fatal("gate must not load tokens outside the host")
	}
	if _, err := f.gate.Retry(context.Background()); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("expected ErrRetryNotAllowed got %v", err)
	}
}

func TestCredentialNeverArrives(t *testing.T) {
	f := newFixture(t, true)
	f.nav.MarkReady()

	state, err := f.gate.Run(context.Background())
	if state != StateAuthError || !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("expected auth_error/ErrCredentialUnavailable got %s %v", state, err)
	}
	if f.src.calls != 10 || f.clock.waits != 9 {
		t.Fatalf("expected 10 polls and 9 waits got %d and %d", f.src.calls, f.clock.waits)
	}
	if !errors.Is(f.gate.Err(), ErrCredentialUnavailable) {
		t.Fatalf("expected Err() to report unavailable credential got %v", f.gate.Err())
	}
	if f.nav.Count() != 0 {
		t.Fatal("expected no routing on error")
	}
}

func TestLoginFailureThenRetry(t *testing.T) {
	f := newFixture(t, true)
	f.src.availOn = 1
	f.api.err = errors.New("503 service unavailable")
	f.nav.MarkReady()

	state, err := f.gate.Run(context.Background())
	if state != StateAuthError || !errors.Is(err, session.ErrAuthExchangeFailed) {
		t.Fatalf("expected auth_error/ErrAuthExchangeFailed got %s %v", state, err)
	}

	f.api.mu.Lock()
	f.api.err = nil
	f.api.result = models.AuthResult{AccessToken: "a", RefreshToken: "r", User: models.UserRecord{ID: "u1", HasProfile: true}}
	f.api.mu.Unlock()

	state, err = f.gate.Retry(context.Background())
	if err != nil || state != StateReady {
		t.Fatalf("expected retry to reach ready got %s %v", state, err)
	}
	if f.gate.Err() != nil {
		t.Fatalf("expected error cleared got %v", f.gate.Err())
	}
	if route, _ := f.nav.Last(); route.Kind != RouteMain {
		t.Fatalf("expected main route got %+v", route)
	}
}

func TestRetryNotAllowedWhenReady(t *testing.T) {
	f := newFixture(t, true)
	f.persistSession(t, `{"id":"u1","has_profile":true}`)
	f.nav.MarkReady()

	if _, err := f.gate.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := f.gate.Retry(context.Background()); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("expected ErrRetryNotAllowed got %v", err)
	}
}

func TestRoutingWaitsForNavigator(t *testing.T) {
	f := newFixture(t, true)
	f.persistSession(t, `{"id":"u1","has_profile":false,"onboarding_step":4}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.gate.Run(context.Background()); err != nil {
			t.Errorf("run: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.gate.State() != StateReady {
		if time.Now().After(deadline) {
			t.Fatal("gate never reached ready")
		}
		time.Sleep(time.Millisecond)
	}
	if f.nav.Count() != 0 {
		t.Fatal("routed before navigator was ready")
	}

	f.nav.MarkReady()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not route after navigator became ready")
	}
	if route, _ := f.nav.Last(); route.Screen != steps.ScreenPhotos {
		t.Fatalf("expected Photos screen got %+v", route)
	}
}

func TestRoutingAbandonedWhenContextCancelled(t *testing.T) {
	f := newFixture(t, true)
	f.persistSession(t, `{"id":"u1","has_profile":true}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := f.gate.Run(ctx)
	if state != StateReady || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ready with cancelled navigation got %s %v", state, err)
	}
	if f.nav.Count() != 0 {
		t.Fatal("expected no route after cancellation")
	}
}

func TestSubscribersSeeTransitions(t *testing.T) {
	f := newFixture(t, true)
	f.src.availOn = 1
	f.api.result = models.AuthResult{AccessToken: "a", RefreshToken: "r", User: models.UserRecord{ID: "u1"}}
	f.nav.MarkReady()

	var mu sync.Mutex
	var seen []State
	unsubscribe := f.gate.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	if _, err := f.gate.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StateChecking || seen[1] != StateReady {
		t.Fatalf("expected [checking ready] got %v", seen)
	}

	snap := f.gate.Snapshot()
	if snap.Route == nil || snap.Route.Kind != RouteOnboarding || snap.Route.Screen != steps.ScreenName {
		t.Fatalf("unexpected snapshot route %+v", snap.Route)
	}
}

func TestSupersededRunIsDiscarded(t *testing.T) {
	f := newFixture(t, true)
	f.src.availOn = 1
	f.api.result = models.AuthResult{AccessToken: "a", RefreshToken: "r", User: models.UserRecord{ID: "u1", HasProfile: true}}
	f.nav.MarkReady()

	// Start a newer run from inside the first run's login.
	var inner State
	f.gate.deps.Session = sessionFunc{
		base: f.sess,
		login: func(ctx context.Context, blob string) (models.Session, error) {
			f.gate.deps.Session = f.sess
			inner, _ = f.gate.Run(ctx)
			return models.Session{}, errors.New("late failure")
		},
	}

	state, err := f.gate.Run(context.Background())
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded got %v", err)
	}
	if inner != StateReady || state != StateReady || f.gate.State() != StateReady {
		t.Fatalf("expected newer run's ready state kept got inner=%s outer=%s now=%s", inner, state, f.gate.State())
	}
}

type sessionFunc struct {
	base  Session
	login func(ctx context.Context, blob string) (models.Session, error)
}

func (s sessionFunc) LoadTokens(ctx context.Context) bool {
	return s.base.LoadTokens(ctx)
}

func (s sessionFunc) Session() (models.Session, bool) {
	return s.base.Session()
}

func (s sessionFunc) Login(ctx context.Context, blob string) (models.Session, error) {
	return s.login(ctx, blob)
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
