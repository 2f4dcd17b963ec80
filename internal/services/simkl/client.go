package simkl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.simkl.com"
	sourceName     = "simkl"

	defaultRate  = rate.Limit(5)
	defaultBurst = 5
)

// TokenStore defines the interface for storing and retrieving tokens
type TokenStore interface {
	GetToken() (*credentials.Token, error)
	SaveToken(token *credentials.Token) error
}

// Option customizes a Client
type Option func(*Client)

// WithBaseURL points the client at another API root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithRateLimit replaces the request rate limit
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithBackOff replaces the retry policy of transient failures
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

// WithPollInterval overrides the PIN polling interval
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// Client handles communication with the Simkl API
type Client struct {
	clientID     string
	baseURL      string
	tokenStore   TokenStore
	httpClient   *http.Client
	limiter      *rate.Limiter
	newBackOff   func() backoff.BackOff
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewClient creates a new Simkl API client
func NewClient(clientID string, tokens TokenStore, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:   clientID,
		baseURL:    defaultBaseURL,
		tokenStore: tokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(defaultRate, defaultBurst),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(b, 4)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetToken retrieves the current token from the token store
func (c *Client) GetToken() (*credentials.Token, error) {
	return c.tokenStore.GetToken()
}

// doRequest performs an HTTP request against the Simkl API, retrying transient failures
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	fullURL := c.baseURL + path
	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    fullURL,
	}).Debug("Making Simkl API request")

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("simkl-api-key", c.clientID)
		if token, err := c.tokenStore.GetToken(); err == nil && token != nil {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: request failed: %v", sources.ErrTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := &sources.StatusError{Source: sourceName, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
			if sources.IsRetryable(statusErr) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
				return backoff.Permanent(fmt.Errorf("%w: failed to decode response: %v", sources.ErrDataCorrupt, err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
}
