// Package sdk is the entry point of the Protect SDK. A Client owns the
// trusted SuperAdmin keys, the rules cache and the verifiers, and only ever
// returns data that passed verification.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/addresses"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/client"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/config"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/observability"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rulescache"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"
)

// ErrNoAPI is returned by operations that need the REST API when no API URL
// is configured.
var ErrNoAPI = errors.New("sdk: no API URL configured")

// Client verifies Protect data against the configured SuperAdmin keys.
// It is safe for concurrent use.
type Client struct {
	api       *client.Client
	rules     *rulescache.Cache
	fetch     rulescache.FetchFunc
	shared    *rulescache.RedisSource
	whitelist *whitelist.Verifier
	addresses *addresses.Verifier
	telemetry *observability.Provider
	logger    *slog.Logger

	closers []func(context.Context) error
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	authorizer client.Authorizer
	fetch      rulescache.FetchFunc
	redis      redis.Cmdable
	telemetry  *observability.Provider
	cacheOpts  []rulescache.Option
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger used by the client and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithAuthorizer installs a request signer for API calls.
func WithAuthorizer(a client.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}

// WithRulesFetcher replaces the API as the source of the rules container.
func WithRulesFetcher(fetch rulescache.FetchFunc) Option {
	return func(o *options) { o.fetch = fetch }
}

// WithRedis shares fetched rules containers through rdb instead of a client
// built from the configuration. The caller keeps ownership of rdb.
func WithRedis(rdb redis.Cmdable) Option {
	return func(o *options) { o.redis = rdb }
}

// WithTelemetry uses p instead of a provider built from the configuration.
// The caller keeps ownership of p.
func WithTelemetry(p *observability.Provider) Option {
	return func(o *options) { o.telemetry = p }
}

// WithCacheOptions passes extra options to the rules cache.
func WithCacheOptions(opts ...rulescache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// New builds a Client from cfg. cfg is validated first.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("sdk: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sdk: invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{logger: logger.With("component", "sdk")}

	c.telemetry = o.telemetry
	if c.telemetry == nil {
		p, err := observability.New(context.Background(), observability.FromTelemetry(cfg.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("sdk: telemetry: %w", err)
		}
		c.telemetry = p
		c.closers = append(c.closers, p.Shutdown)
	}

	rv, err := governance.NewRulesVerifierFromPEM(cfg.SuperAdminKeys, cfg.MinValidSuperAdminSignatures,
		governance.WithLogger(logger.With("component", "governance")))
	if err != nil {
		return nil, c.abort(fmt.Errorf("sdk: SuperAdmin keys: %w", err))
	}

	c.whitelist, err = whitelist.NewVerifier(rv,
		whitelist.WithEvaluator(governance.NewEvaluator(governance.WithLogger(logger.With("component", "governance")))),
		whitelist.WithLogger(logger.With("component", "whitelist")),
		whitelist.WithDecodeCache(cfg.DecodeCacheSize),
		whitelist.WithTracerProvider(c.telemetry.TracerProvider()),
		whitelist.WithMeterProvider(c.telemetry.MeterProvider()),
	)
	if err != nil {
		return nil, c.abort(err)
	}
	c.addresses = addresses.NewVerifier(nil, logger.With("component", "addresses"))

	cacheOpts := append([]rulescache.Option{
		rulescache.WithTTL(cfg.RulesCacheTTL),
		rulescache.WithLogger(logger.With("component", "rulescache")),
		rulescache.WithMeterProvider(c.telemetry.MeterProvider()),
	}, o.cacheOpts...)
	c.rules, err = rulescache.New(rv, cacheOpts...)
	if err != nil {
		return nil, c.abort(err)
	}

	if cfg.APIURL != "" {
		copts := []client.Option{
			client.WithAPIKey(cfg.APIKey),
			client.WithRateLimit(cfg.APIRateLimit, max(1, int(cfg.APIRateLimit))),
			client.WithLogger(logger.With("component", "client")),
		}
		switch {
		case o.httpClient != nil:
			copts = append(copts, client.WithHTTPClient(o.httpClient))
		case cfg.APITimeout > 0:
			copts = append(copts, client.WithTimeout(cfg.APITimeout))
		}
		if o.authorizer != nil {
			copts = append(copts, client.WithAuthorizer(o.authorizer))
		}
		c.api = client.New(cfg.APIURL, copts...)
	}

	c.fetch = o.fetch
	if c.fetch == nil && c.api != nil {
		c.fetch = c.api.GovernanceRules
	}

	rdb := o.redis
	if rdb == nil && cfg.Redis.Addr != "" {
		owned := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return owned.Close() })
		rdb = owned
	}
	if rdb != nil && c.fetch != nil {
		c.shared = rulescache.NewRedisSource(rdb, cfg.Redis.Key, c.rules.TTL(), c.fetch, c.rules.Verifier())
		c.fetch = c.shared.Fetch
	}

	c.logger.Debug("client ready",
		"api", cfg.APIURL != "",
		"redis", c.shared != nil,
		"superadmin_keys", len(cfg.SuperAdminKeys),
		"min_valid_signatures", cfg.MinValidSuperAdminSignatures,
	)
	return c, nil
}

func (c *Client) abort(err error) error {
	_ = c.Close(context.Background())
	return err
}

// Close releases the Redis connection and flushes telemetry created by New.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Client) track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, *slog.Logger, func(error)) {
	id := uuid.NewString()
	ctx, finish := c.telemetry.TrackOperation(ctx, op, append(attrs, observability.AttrCorrelationID.String(id))...)
	return ctx, c.logger.With("operation", op, "correlation_id", id), finish
}

// RulesContainer returns the verified rules container, fetching it when the
// cached copy has expired.
func (c *Client) RulesContainer(ctx context.Context) (_ *rules.DecodedRulesContainer, err error) {
	if c.fetch == nil {
		return nil, ErrNoAPI
	}
	ctx, _, finish := c.track(ctx, "sdk.rules_container")
	defer func() { finish(err) }()
	return c.rules.Get(ctx, c.fetch)
}

// RefreshRules fetches and verifies the rules container regardless of the
// cached copy's age.
func (c *Client) RefreshRules(ctx context.Context) (_ *rules.DecodedRulesContainer, err error) {
	if c.fetch == nil {
		return nil, ErrNoAPI
	}
	ctx, logger, finish := c.track(ctx, "sdk.refresh_rules")
	defer func() { finish(err) }()
	if c.shared != nil {
		if perr := c.shared.Purge(ctx); perr != nil {
			logger.WarnContext(ctx, "shared rules copy not purged", "error", perr)
		}
	}
	e, err := c.rules.Refresh(ctx, c.fetch)
	if err != nil {
		return nil, err
	}
	return e.Container, nil
}

// InvalidateRules drops the cached rules container. The next call that needs
// it fetches a fresh copy.
func (c *Client) InvalidateRules() {
	c.rules.Invalidate()
}

// VerifyWhitelistedAddress runs the address verification pipeline over env.
func (c *Client) VerifyWhitelistedAddress(ctx context.Context, env *whitelist.Envelope) (_ *whitelist.AddressResult, err error) {
	ctx, logger, finish := c.track(ctx, "sdk.verify_whitelisted_address")
	defer func() { finish(err) }()
	res, err := c.whitelist.VerifyAddress(ctx, env)
	if err != nil {
		logger.InfoContext(ctx, "whitelisted address rejected", "outcome", observability.Outcome(err))
		return nil, err
	}
	return res, nil
}

// VerifyWhitelistedAsset runs the asset verification pipeline over env.
func (c *Client) VerifyWhitelistedAsset(ctx context.Context, env *whitelist.Envelope) (_ *whitelist.AssetResult, err error) {
	ctx, logger, finish := c.track(ctx, "sdk.verify_whitelisted_asset")
	defer func() { finish(err) }()
	res, err := c.whitelist.VerifyAsset(ctx, env)
	if err != nil {
		logger.InfoContext(ctx, "whitelisted asset rejected", "outcome", observability.Outcome(err))
		return nil, err
	}
	return res, nil
}

// VerifyAddressSignature checks addr against the HSM key of the current
// rules container.
func (c *Client) VerifyAddressSignature(ctx context.Context, addr *addresses.Address) (err error) {
	ctx, _, finish := c.track(ctx, "sdk.verify_address_signature")
	defer func() { finish(err) }()
	if c.fetch == nil {
		return ErrNoAPI
	}
	container, err := c.rules.Get(ctx, c.fetch)
	if err != nil {
		return err
	}
	return c.addresses.Verify(container, addr)
}

// GetWhitelistedAddress fetches a whitelisted address and verifies it.
func (c *Client) GetWhitelistedAddress(ctx context.Context, id string) (_ *whitelist.AddressResult, err error) {
	if c.api == nil {
		return nil, ErrNoAPI
	}
	ctx, _, finish := c.track(ctx, "sdk.get_whitelisted_address", observability.ResourceOperation("whitelisted_address", id)...)
	defer func() { finish(err) }()
	env, err := c.api.WhitelistedAddress(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.whitelist.VerifyAddress(ctx, env)
}

// GetWhitelistedAsset fetches a whitelisted asset and verifies it.
func (c *Client) GetWhitelistedAsset(ctx context.Context, id string) (_ *whitelist.AssetResult, err error) {
	if c.api == nil {
		return nil, ErrNoAPI
	}
	ctx, _, finish := c.track(ctx, "sdk.get_whitelisted_asset", observability.ResourceOperation("whitelisted_asset", id)...)
	defer func() { finish(err) }()
	env, err := c.api.WhitelistedAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.whitelist.VerifyAsset(ctx, env)
}

// GetAddress fetches a custody address and verifies its signature.
func (c *Client) GetAddress(ctx context.Context, id string) (_ *addresses.Address, err error) {
	if c.api == nil {
		return nil, ErrNoAPI
	}
	ctx, _, finish := c.track(ctx, "sdk.get_address", observability.ResourceOperation("address", id)...)
	defer func() { finish(err) }()
	addr, err := c.api.Address(ctx, id)
	if err != nil {
		return nil, err
	}
	container, err := c.rules.Get(ctx, c.fetch)
	if err != nil {
		return nil, err
	}
	if err := c.addresses.Verify(container, addr); err != nil {
		return nil, err
	}
	return addr, nil
}
