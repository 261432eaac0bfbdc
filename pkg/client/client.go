// Package client fetches governance data and signed records from the
// Protect REST API. Responses are returned unverified; verification is the
// caller's job.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/addresses"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"
)

const maxResponseBytes = 16 << 20

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("protect api %d: %s", e.Status, e.Message)
}

// Authorizer signs or decorates outgoing requests.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(req *http.Request) error

func (f AuthorizerFunc) Authorize(req *http.Request) error { return f(req) }

// Client is a client for the Protect REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	authorizer Authorizer
	maxTries   uint
	backoff    time.Duration
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the HTTP timeout. A client passed to WithHTTPClient is
// copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithAuthorizer installs a request signer, run after the API key header
// is set.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.authorizer = a }
}

// WithRetry sets the attempt budget and first backoff interval for
// transient failures.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.backoff = initial
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		maxTries:   4,
		backoff:    200 * time.Millisecond,
		logger:     slog.Default().With("component", "client"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxTries == 0 {
		c.maxTries = 1
	}
	return c
}

type envelope[T any] struct {
	Result T `json:"result"`
}

type signedContainerDTO struct {
	RulesContainer  string                    `json:"rulesContainer"`
	RulesSignatures whitelist.RulesSignatures `json:"rulesSignatures"`
}

// GovernanceRules calls GET /api/rest/v1/governance_rules. Its signature
// matches rulescache.FetchFunc.
func (c *Client) GovernanceRules(ctx context.Context) (*rules.SignedContainer, error) {
	var out envelope[signedContainerDTO]
	if err := c.get(ctx, "/api/rest/v1/governance_rules", &out); err != nil {
		return nil, err
	}
	return &rules.SignedContainer{
		RulesContainer:  out.Result.RulesContainer,
		RulesSignatures: out.Result.RulesSignatures,
	}, nil
}

// WhitelistedAddress calls GET /api/rest/v1/whitelisted_addresses/{id}.
func (c *Client) WhitelistedAddress(ctx context.Context, id string) (*whitelist.Envelope, error) {
	var out envelope[*whitelist.Envelope]
	if err := c.get(ctx, "/api/rest/v1/whitelisted_addresses/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, errors.New("protect api: empty whitelisted address")
	}
	return out.Result, nil
}

// WhitelistedAsset calls GET /api/rest/v1/whitelisted_contracts/{id}.
func (c *Client) WhitelistedAsset(ctx context.Context, id string) (*whitelist.Envelope, error) {
	var out envelope[*whitelist.Envelope]
	if err := c.get(ctx, "/api/rest/v1/whitelisted_contracts/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, errors.New("protect api: empty whitelisted asset")
	}
	return out.Result, nil
}

// Address calls GET /api/rest/v1/addresses/{id}.
func (c *Client) Address(ctx context.Context, id string) (*addresses.Address, error) {
	var out envelope[*addresses.Address]
	if err := c.get(ctx, "/api/rest/v1/addresses/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, errors.New("protect api: empty address")
	}
	return out.Result, nil
}

// get performs a GET with rate limiting and retries 5xx and transport
// errors with exponential backoff. 4xx responses are returned at once.
func (c *Client) get(ctx context.Context, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxInterval = 10 * c.backoff

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.attempt(ctx, path)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.WarnContext(ctx, "retrying protect api request", "path", path, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("protect api %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.authorizer != nil {
		if err := c.authorizer.Authorize(req); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("authorize request: %w", err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
		if resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}
	return body, nil
}

// errorMessage extracts the message of a JSON error body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if len(body) > 0 && len(body) <= 256 {
		return strings.TrimSpace(string(body))
	}
	return "unknown error"
}
