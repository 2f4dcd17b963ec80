package trakt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.trakt.tv"
	apiVersion     = "2"
	sourceName     = "trakt"
	pageLimit      = 100

	// 1000 calls per 5 minutes
	defaultRate  = rate.Limit(1000.0 / 300.0)
	defaultBurst = 10

	refreshMargin = 24 * time.Hour
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

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit replaces the request rate limit
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithBackOff replaces the retry policy of transient failures
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

// Client handles communication with Trakt API
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenStore   TokenStore
	httpClient   *http.Client
	limiter      *rate.Limiter
	newBackOff   func() backoff.BackOff
	logger       *logrus.Logger
}

// NewClient creates a new Trakt API client
func NewClient(clientID, clientSecret string, tokens TokenStore, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenStore:   tokens,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(defaultRate, defaultBurst),
		newBackOff:   defaultBackOff,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithMaxRetries(b, 4)
}

// doRequest performs an authenticated HTTP request to Trakt API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if err := c.ensureValidToken(ctx); err != nil {
		return fmt.Errorf("failed to ensure valid token: %w", err)
	}
	_, err := c.send(ctx, method, path, body, result, true)
	return err
}

// send performs one logical request, retrying transient failures, and returns the response headers
func (c *Client) send(ctx context.Context, method, path string, body interface{}, result interface{}, authorize bool) (http.Header, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	fullURL := c.baseURL + path
	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    fullURL,
	}).Debug("Making Trakt API request")

	var header http.Header
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("trakt-api-version", apiVersion)
		req.Header.Set("trakt-api-key", c.clientID)

		if authorize {
			if token, err := c.tokenStore.GetToken(); err == nil && token != nil {
				req.Header.Set("Authorization", "Bearer "+token.AccessToken)
			}
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
				c.logger.WithField("status", resp.StatusCode).Debug("Trakt API request will be retried")
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		header = resp.Header
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
				return backoff.Permanent(fmt.Errorf("%w: failed to decode response: %v", sources.ErrDataCorrupt, err))
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return header, nil
}

// getPaged walks every page of a paginated collection
func getPaged[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure valid token: %w", err)
	}

	var all []T
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageLimit))

		var items []T
		header, err := c.send(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &items, true)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		pages, _ := strconv.Atoi(header.Get("X-Pagination-Page-Count"))
		if page >= pages || len(items) == 0 {
			return all, nil
		}
	}
}

// ensureValidToken checks if the current token is valid and refreshes if needed
func (c *Client) ensureValidToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		c.logger.Debug("No valid token found, authentication required")
		return nil
	}

	if token.Expired(refreshMargin) {
		c.logger.Info("Token expires soon, refreshing...")
		return c.RefreshToken(ctx)
	}

	return nil
}
