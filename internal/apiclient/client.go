// Package apiclient talks to the Lomi REST API. Authenticated calls carry the
// session's bearer token; a 401 triggers exactly one refresh and one replay.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/models"
	"github.com/lomi/client/internal/tokens"
)

const (
	defaultTimeout = 30 * time.Second
	refreshSkew    = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	// ErrRefreshFailed indicates the refresh token was rejected or the refresh
	// call could not complete. The session has been logged out.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrUnauthorized matches any StatusError carrying a 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoTokenSource indicates an authenticated call was made before Bind.
	ErrNoTokenSource = errors.New("api client has no token source")
)

// TokenSource supplies and receives the session's tokens. The session
// controller implements it.
type TokenSource interface {
	Tokens() models.TokenPair
	SetTokens(ctx context.Context, pair models.TokenPair) error
	Logout(ctx context.Context)
}

// Config controls the client's transport behaviour.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int
	UserAgent  string
	HTTPClient *http.Client
}

// Client is the Lomi API client.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	source TokenSource

	refreshes singleflight.Group
}

// New constructs a Client. RateLimit is requests per second; zero disables
// the outbound limiter.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   limiter,
		logger:    logging.OrDefault(logger),
		now:       time.Now,
		timeout:   timeout,
	}
}

// Bind attaches the token source used for authenticated calls.
func (c *Client) Bind(source TokenSource) {
	c.mu.Lock()
	c.source = source
	c.mu.Unlock()
}

func (c *Client) tokenSource() TokenSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type request struct {
	method string
	path   string
	body   any
	header http.Header

	authenticated bool
	// retried marks a replay after refresh; a replayed request never refreshes again.
	retried bool
	// refreshed marks a request whose tokens were already refreshed up front.
	refreshed bool
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var bearer string
	if req.authenticated {
		source := c.tokenSource()
		if source == nil {
			return ErrNoTokenSource
		}
		pair := source.Tokens()
		if !req.retried && pair.RefreshToken != "" && tokens.ExpiresWithin(pair.AccessToken, c.now(), refreshSkew) {
			refreshed, err := c.refreshSession(ctx, pair.AccessToken)
			if err != nil {
				return err
			}
			pair = refreshed
			req.refreshed = true
		}
		bearer = pair.AccessToken
	}

	resp, err := c.send(ctx, req, bearer)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && req.authenticated && !req.retried && !req.refreshed {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		if _, err := c.refreshSession(ctx, bearer); err != nil {
			return err
		}
		req.retried = true
		return c.do(ctx, req, out)
	}

	return decodeResponse(req, resp, out)
}

func (c *Client) send(ctx context.Context, req request, bearer string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.method, req.path, err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := c.now()
	resp, err := c.http.Do(httpReq)
	logger := logging.FromContext(ctx).With(
		slog.String("request_id", requestID),
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Bool("replay", req.retried),
	)
	if err != nil {
		logger.Warn("api request failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	logger.Debug("api request completed", "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func decodeResponse(req request, resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", req.method, req.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:  req.method,
			Path:    req.path,
			Status:  resp.StatusCode,
			Message: errorMessage(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
	}
	return nil
}

// errorMessage pulls a human readable message out of common error bodies.
func errorMessage(raw []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch {
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	case body.Detail != nil:
		if s, ok := body.Detail.(string); ok {
			return s
		}
		encoded, _ := json.Marshal(body.Detail)
		return string(encoded)
	}
	return ""
}

// refreshSession mints a new token pair with the stored refresh token. stale
// is the access token that was rejected; concurrent callers with the same
// stale token share one refresh call. The shared call is detached from any
// single caller's cancellation. When the server rejects the refresh or the
// call fails on the network the session is logged out.
func (c *Client) refreshSession(ctx context.Context, stale string) (models.TokenPair, error) {
	source := c.tokenSource()
	if source == nil {
		return models.TokenPair{}, ErrNoTokenSource
	}
	if err := ctx.Err(); err != nil {
		return models.TokenPair{}, err
	}

	logger := logging.FromContext(ctx)
	results := c.refreshes.DoChan("refresh", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		current := source.Tokens()
		if current.AccessToken != "" && current.AccessToken != stale {
			return current, nil
		}
		if current.RefreshToken == "" {
			source.Logout(refreshCtx)
			return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed)
		}

		pair, err := c.Refresh(refreshCtx, current.RefreshToken)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			logger.Warn("refresh rejected, logging out", "error", err)
			source.Logout(refreshCtx)
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
		if pair.RefreshToken == "" {
			pair.RefreshToken = current.RefreshToken
		}
		if err := source.SetTokens(refreshCtx, pair); err != nil {
			logger.Warn("persist refreshed tokens", "error", err)
		}
		return pair, nil
	})

	select {
	case <-ctx.Done():
		return models.TokenPair{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return models.TokenPair{}, res.Err
		}
		return res.Val.(models.TokenPair), nil
	}
}
