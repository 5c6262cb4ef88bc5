// Package session owns the device's authenticated identity: the token pair
// and cached user record, mirrored into a persistent token store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/tokens"
	"github.com/lomi/client/internal/tokenstore"
)

var (
	// ErrAuthExchangeFailed wraps any failure of a credential exchange.
	ErrAuthExchangeFailed = errors.New("auth exchange failed")
	// ErrInvalidCredential indicates a credential was rejected before any
	// network call was made.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrNotAuthenticated indicates an operation that needs a session ran
	// without one.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// AuthAPI is the subset of the Lomi API the controller needs.
type AuthAPI interface {
	ExchangeTelegram(ctx context.Context, blob string) (models.AuthResult, error)
	ExchangeGoogle(ctx context.Context, idToken string) (models.AuthResult, error)
	ExchangeWidget(ctx context.Context, cred models.WidgetCredential) (models.AuthResult, error)
	CurrentUser(ctx context.Context) (models.UserRecord, error)
}

// State is a point-in-time copy of the controller's state.
type State struct {
	AccessToken     string             `json:"-"`
	RefreshToken    string             `json:"-"`
	User            *models.UserRecord `json:"user,omitempty"`
	IsAuthenticated bool               `json:"is_authenticated"`
	IsLoading       bool               `json:"is_loading"`
	AccessExpiresAt *time.Time         `json:"access_expires_at,omitempty"`
}

// Controller manages login, logout and token persistence.
type Controller struct {
	api      AuthAPI
	store    tokenstore.Store
	logger   *slog.Logger
	validate *validator.Validate

	// persistMu orders user writes against logout's purge.
	persistMu sync.Mutex

	mu      sync.RWMutex
	session *models.Session
	// pending holds tokens installed by SetTokens while no user is cached.
	pending  models.TokenPair
	loading  bool
	onLogout []func(context.Context)
}

// NewController constructs a Controller with an empty session.
func NewController(api AuthAPI, store tokenstore.Store, logger *slog.Logger) *Controller {
	if api == nil {
		panic("session: auth api must not be nil")
	}
	if store == nil {
		panic("session: token store must not be nil")
	}
	return &Controller{
		api:      api,
		store:    store,
		logger:   logging.OrDefault(logger),
		validate: validator.New(),
	}
}

// OnLogout registers fn to run after every Logout.
func (c *Controller) OnLogout(fn func(context.Context)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onLogout = append(c.onLogout, fn)
	c.mu.Unlock()
}

// Login exchanges a host-platform credential blob for a session.
func (c *Controller) Login(ctx context.Context, blob string) (models.Session, error) {
	if blob == "" {
		return models.Session{}, fmt.Errorf("%w: empty credential blob", ErrInvalidCredential)
	}
	return c.exchange(ctx, "session.login", func(ctx context.Context) (models.AuthResult, error) {
		return c.api.ExchangeTelegram(ctx, blob)
	})
}

// LoginWithGoogle exchanges a Google ID token for a session.
func (c *Controller) LoginWithGoogle(ctx context.Context, idToken string) (models.Session, error) {
	if idToken == "" {
		return models.Session{}, fmt.Errorf("%w: empty id token", ErrInvalidCredential)
	}
	return c.exchange(ctx, "session.login_google", func(ctx context.Context) (models.AuthResult, error) {
		return c.api.ExchangeGoogle(ctx, idToken)
	})
}

// LoginWithWidget exchanges a Telegram login widget payload for a session.
// Only the presence of id, auth_date and hash is checked here.
func (c *Controller) LoginWithWidget(ctx context.Context, cred models.WidgetCredential) (models.Session, error) {
	if err := c.validate.Struct(cred); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return c.exchange(ctx, "session.login_widget", func(ctx context.Context) (models.AuthResult, error) {
		return c.api.ExchangeWidget(ctx, cred)
	})
}

func (c *Controller) exchange(ctx context.Context, op string, call func(context.Context) (models.AuthResult, error)) (models.Session, error) {
	ctx, span := logging.StartSpan(ctx, op)
	logger := logging.FromContext(ctx)

	c.setLoading(true)
	defer c.setLoading(false)

	result, err := call(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAuthExchangeFailed, err)
		span.EndErr(err)
		return models.Session{}, err
	}
	if !result.Tokens().Complete() || result.User.ID == "" {
		err := fmt.Errorf("%w: incomplete exchange response", ErrAuthExchangeFailed)
		span.EndErr(err)
		return models.Session{}, err
	}

	sess := models.Session{Tokens: result.Tokens(), User: result.User}

	if err := c.persist(ctx, sess.Tokens, &sess.User); err != nil {
		logger.Warn("session not persisted, it will not survive a restart", "error", err)
		c.purge(ctx)
	}

	c.mu.Lock()
	c.session = &sess
	c.pending = models.TokenPair{}
	c.mu.Unlock()

	logger.Info("logged in", "user_id", sess.User.ID, "has_profile", sess.User.HasProfile)
	span.End()
	return sess, nil
}

// Logout clears the persisted keys and the in-memory session. It never fails;
// storage errors are logged.
func (c *Controller) Logout(ctx context.Context) {
	ctx, span := logging.StartSpan(ctx, "session.logout")
	defer span.End()

	c.persistMu.Lock()
	c.purge(ctx)
	c.mu.Lock()
	c.session = nil
	c.pending = models.TokenPair{}
	c.loading = false
	hooks := append([]func(context.Context){}, c.onLogout...)
	c.mu.Unlock()
	c.persistMu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
	logging.FromContext(ctx).Info("logged out")
}

// SetTokens persists and installs a fresh token pair without touching the
// cached user. The refresh flow is its only caller. The pair is installed in
// memory even when persisting fails; the error is still returned.
func (c *Controller) SetTokens(ctx context.Context, pair models.TokenPair) error {
	if !pair.Complete() {
		return fmt.Errorf("%w: incomplete token pair", ErrInvalidCredential)
	}

	var persistErr error
	for _, kv := range [][2]string{
		{tokenstore.KeyAccessToken, pair.AccessToken},
		{tokenstore.KeyRefreshToken, pair.RefreshToken},
	} {
		if err := c.store.Set(ctx, kv[0], kv[1]); err != nil {
			persistErr = fmt.Errorf("persist %s: %w", kv[0], err)
			break
		}
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.Tokens = pair
	} else {
		c.pending = pair
	}
	c.mu.Unlock()

	return persistErr
}

// LoadTokens hydrates the session from the token store. It returns true only
// when all three keys are present and the user record parses; any partial or
// corrupt state leaves the controller logged out.
func (c *Controller) LoadTokens(ctx context.Context) bool {
	ctx, span := logging.StartSpan(ctx, "session.load_tokens")
	defer span.End()
	logger := logging.FromContext(ctx)

	c.setLoading(true)
	defer c.setLoading(false)

	values := make(map[string]string, 3)
	for _, key := range tokenstore.Keys() {
		value, err := c.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, tokenstore.ErrKeyNotFound) {
				logger.Warn("token store unavailable, treating as logged out", "key", key, "error", err)
			}
			c.reset()
			return false
		}
		if value == "" {
			c.reset()
			return false
		}
		values[key] = value
	}

	var user models.UserRecord
	if err := json.Unmarshal([]byte(values[tokenstore.KeyUser]), &user); err != nil || user.ID == "" {
		logger.Warn("stored user record unreadable, treating as logged out", "error", err)
		c.reset()
		return false
	}

	sess := models.Session{
		Tokens: models.TokenPair{
			AccessToken:  values[tokenstore.KeyAccessToken],
			RefreshToken: values[tokenstore.KeyRefreshToken],
		},
		User: user,
	}

	c.mu.Lock()
	c.session = &sess
	c.pending = models.TokenPair{}
	c.mu.Unlock()

	logger.Info("session restored", "user_id", user.ID)
	return true
}

// RefreshUser re-fetches the cached user record from the server.
func (c *Controller) RefreshUser(ctx context.Context) error {
	ctx, span := logging.StartSpan(ctx, "session.refresh_user")

	if !c.State().IsAuthenticated {
		span.EndErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		err = fmt.Errorf("refresh user: %w", err)
		span.EndErr(err)
		return err
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	if c.session == nil {
		// Logged out while the request was in flight.
		c.mu.Unlock()
		span.EndErr(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}
	c.session.User = user
	c.mu.Unlock()

	if err := c.persistUser(ctx, &user); err != nil {
		logging.FromContext(ctx).Warn("cached user not persisted", "error", err)
	}
	span.End()
	return nil
}

// Tokens returns the current token pair, including tokens installed by
// SetTokens while logged out.
func (c *Controller) Tokens() models.TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil {
		return c.session.Tokens
	}
	return c.pending
}

// Session returns the current session and whether one exists.
func (c *Controller) Session() (models.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return models.Session{}, false
	}
	return *c.session, true
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := State{IsLoading: c.loading}
	if c.session == nil {
		st.AccessToken = c.pending.AccessToken
		st.RefreshToken = c.pending.RefreshToken
		return st
	}

	user := c.session.User
	st.User = &user
	st.AccessToken = c.session.Tokens.AccessToken
	st.RefreshToken = c.session.Tokens.RefreshToken
	st.IsAuthenticated = true
	if exp, ok := tokens.Expiry(st.AccessToken); ok {
		st.AccessExpiresAt = &exp
	}
	return st
}

func (c *Controller) persist(ctx context.Context, pair models.TokenPair, user *models.UserRecord) error {
	if err := c.store.Set(ctx, tokenstore.KeyAccessToken, pair.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if err := c.store.Set(ctx, tokenstore.KeyRefreshToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	return c.persistUser(ctx, user)
}

func (c *Controller) persistUser(ctx context.Context, user *models.UserRecord) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := c.store.Set(ctx, tokenstore.KeyUser, string(encoded)); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	return nil
}

// purge removes every persisted key, logging failures.
func (c *Controller) purge(ctx context.Context) {
	logger := logging.FromContext(ctx)
	for _, key := range tokenstore.Keys() {
		if err := c.store.Remove(ctx, key); err != nil {
			logger.Warn("remove persisted key", "key", key, "error", err)
		}
	}
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.session = nil
	c.pending = models.TokenPair{}
	c.mu.Unlock()
}

func (c *Controller) setLoading(loading bool) {
	c.mu.Lock()
	c.loading = loading
	c.mu.Unlock()
}
