package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lomi/client/internal/models"
)

// ExchangeTelegram trades a Telegram Mini App init-data blob for a token pair
// and user record.
func (c *Client) ExchangeTelegram(ctx context.Context, blob string) (models.AuthResult, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return models.AuthResult{}, errors.New("telegram init data is empty")
	}

	var result models.AuthResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/telegram",
		header: http.Header{"Authorization": []string{"tma " + blob}},
	}, &result)
	return result, err
}

// ExchangeGoogle trades a Google ID token for a token pair and user record.
func (c *Client) ExchangeGoogle(ctx context.Context, idToken string) (models.AuthResult, error) {
	var result models.AuthResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/google",
		body:   map[string]string{"id_token": idToken},
	}, &result)
	return result, err
}

// ExchangeWidget forwards a Telegram login widget payload. The server checks
// the hash.
func (c *Client) ExchangeWidget(ctx context.Context, cred models.WidgetCredential) (models.AuthResult, error) {
	var result models.AuthResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/telegram/widget",
		body:   cred,
	}, &result)
	return result, err
}

// Refresh mints a new token pair. It is never itself authenticated, so it
// cannot recurse into another refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	var pair models.TokenPair
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   map[string]string{"refresh_token": refreshToken},
	}, &pair)
	if err != nil {
		return models.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return models.TokenPair{}, errors.New("refresh response missing access token")
	}
	return pair, nil
}

// OnboardingStatus fetches the current onboarding step.
func (c *Client) OnboardingStatus(ctx context.Context) (models.OnboardingProgress, error) {
	var progress models.OnboardingProgress
	err := c.do(ctx, request{
		method:        http.MethodGet,
		path:          "/onboarding/status",
		authenticated: true,
	}, &progress)
	return progress, err
}

type progressUpdate struct {
	Step      int   `json:"step"`
	Completed *bool `json:"completed,omitempty"`
}

// UpdateOnboarding moves the user to step, optionally marking onboarding done.
func (c *Client) UpdateOnboarding(ctx context.Context, step int, completed *bool) (models.OnboardingProgress, error) {
	var progress models.OnboardingProgress
	err := c.do(ctx, request{
		method:        http.MethodPatch,
		path:          "/onboarding/progress",
		body:          progressUpdate{Step: step, Completed: completed},
		authenticated: true,
	}, &progress)
	return progress, err
}

// CurrentUser fetches the authenticated user's record.
func (c *Client) CurrentUser(ctx context.Context) (models.UserRecord, error) {
	var user models.UserRecord
	err := c.do(ctx, request{
		method:        http.MethodGet,
		path:          "/users/me",
		authenticated: true,
	}, &user)
	return user, err
}
