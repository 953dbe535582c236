// Package iam obtains and caches IBM Cloud IAM bearer tokens for API keys.
package iam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://iam.cloud.ibm.com/identity/token"

	// DefaultRefreshThreshold is just under the one hour IAM token lifetime.
	DefaultRefreshThreshold = 3500 * time.Second

	apiKeyGrantType = "urn:ibm:params:oauth:grant-type:apikey"
)

// AuthError reports a failed token exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to get access token: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CachedToken is a bearer token and the time it was acquired.
type CachedToken struct {
	Token      string
	AcquiredAt time.Time
}

// Recorder receives token exchange outcomes ("success", "failure", "retry").
type Recorder interface {
	RecordTokenRefresh(result string)
}

// Options configures a TokenCache. Zero values fall back to defaults.
type Options struct {
	TokenURL   string
	Threshold  time.Duration
	RetryCount int
	RetryDelay time.Duration
	HTTPClient *http.Client
	Recorder   Recorder
	Now        func() time.Time
}

// TokenCache maps API keys to bearer tokens and refreshes them once they are
// older than the threshold. It is safe for concurrent use; concurrent
// refreshes for the same key share one exchange.
type TokenCache struct {
	tokenURL   string
	threshold  time.Duration
	retryCount int
	retryDelay time.Duration
	httpClient *http.Client
	recorder   Recorder
	now        func() time.Time
	logger     *zap.Logger

	mu     sync.RWMutex
	tokens map[string]CachedToken
	group  singleflight.Group
}

// NewTokenCache creates a TokenCache
func NewTokenCache(opts Options, logger *zap.Logger) *TokenCache {
	c := &TokenCache{
		tokenURL:   opts.TokenURL,
		threshold:  opts.Threshold,
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		httpClient: opts.HTTPClient,
		recorder:   opts.Recorder,
		now:        opts.Now,
		logger:     logger,
		tokens:     make(map[string]CachedToken),
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	if c.threshold <= 0 {
		c.threshold = DefaultRefreshThreshold
	}
	if c.retryCount < 0 {
		c.retryCount = 0
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Token returns a bearer token for apiKey, exchanging the key with IAM when
// no token is cached or the cached one has passed the threshold.
func (c *TokenCache) Token(ctx context.Context, apiKey string) (string, error) {
	if token, ok := c.cached(apiKey); ok {
		c.logger.Debug("Using cached token", zap.String("key_prefix", MaskKey(apiKey)))
		return token, nil
	}

	// the exchange outlives any single caller so one disconnect cannot fail
	// the others sharing the flight
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(apiKey, func() (interface{}, error) {
		// another flight may have finished between the check above and here
		if token, ok := c.cached(apiKey); ok {
			return token, nil
		}

		token, err := c.exchangeWithRetry(flightCtx, apiKey)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.tokens[apiKey] = CachedToken{Token: token, AcquiredAt: c.now()}
		c.mu.Unlock()

		c.logger.Info("Retrieved new token", zap.String("key_prefix", MaskKey(apiKey)))
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight token exchange", zap.String("key_prefix", MaskKey(apiKey)))
		}
		return res.Val.(string), nil
	}
}

// Get returns the cached entry for apiKey regardless of age.
func (c *TokenCache) Get(apiKey string) (CachedToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.tokens[apiKey]
	return entry, ok
}

// Invalidate drops the cached token for apiKey.
func (c *TokenCache) Invalidate(apiKey string) {
	c.mu.Lock()
	delete(c.tokens, apiKey)
	c.mu.Unlock()
}

func (c *TokenCache) cached(apiKey string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.tokens[apiKey]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.AcquiredAt) > c.threshold {
		return "", false
	}
	return entry.Token, true
}

func (c *TokenCache) exchangeWithRetry(ctx context.Context, apiKey string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			c.record("retry")
			c.logger.Warn("Retrying token exchange",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", &AuthError{Err: ctx.Err()}
			case <-time.After(c.retryDelay):
			}
		}

		token, err := c.exchange(ctx, apiKey)
		if err == nil {
			c.record("success")
			return token, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	c.record("failure")
	c.logger.Error("Token exchange failed",
		zap.String("key_prefix", MaskKey(apiKey)),
		zap.Error(lastErr))
	return "", &AuthError{Err: lastErr}
}

// exchange trades an API key for a bearer token. IAM speaks a client
// credentials style form post with its own grant type.
func (c *TokenCache) exchange(ctx context.Context, apiKey string) (string, error) {
	conf := clientcredentials.Config{
		TokenURL:  c.tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type": {apiKeyGrantType},
			"apikey":     {apiKey},
		},
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	token, err := conf.Token(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (c *TokenCache) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordTokenRefresh(result)
	}
}

// retryable reports whether a failed exchange is worth repeating: transport
// errors and 5xx responses are, a rejected key is not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return rErr.Response.StatusCode >= 500
	}
	return true
}

// MaskKey shortens a key or token for logs and console output.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
