package rulescache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// RedisSource shares fetched rules containers between processes. Redis is
// not trusted: a shared copy that fails SuperAdmin verification is purged
// and the origin is asked instead, and every Cache still verifies what it
// is given.
type RedisSource struct {
	client   redis.Cmdable
	key      string
	ttl      time.Duration
	origin   FetchFunc
	verifier *governance.RulesVerifier
	logger   *slog.Logger
}

// NewRedisSource wraps origin with a Redis read-through tier. Shared copies
// are checked with verifier before they are returned.
func NewRedisSource(client redis.Cmdable, key string, ttl time.Duration, origin FetchFunc, verifier *governance.RulesVerifier) *RedisSource {
	if key == "" {
		key = "protect:rules_container"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSource{
		client:   client,
		key:      key,
		ttl:      ttl,
		origin:   origin,
		verifier: verifier,
		logger:   slog.Default().With("component", "rulescache.redis"),
	}
}

// Fetch is a FetchFunc. Redis errors, unreadable copies and copies that
// fail verification all fall back to the origin.
func (s *RedisSource) Fetch(ctx context.Context) (*rules.SignedContainer, error) {
	if signed := s.shared(ctx); signed != nil {
		return signed, nil
	}

	signed, err := s.origin(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(signed)
	if err != nil {
		return signed, nil
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to share rules container", "key", s.key, "error", err)
	}
	return signed, nil
}

// shared returns the Redis copy, or nil when there is no usable one.
func (s *RedisSource) shared(ctx context.Context) *rules.SignedContainer {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "shared rules cache unavailable", "key", s.key, "error", err)
		}
		return nil
	}
	var signed rules.SignedContainer
	if err := json.Unmarshal(data, &signed); err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable shared rules container", "key", s.key, "error", err)
		return nil
	}
	if s.verifier != nil {
		if _, err := s.verifier.Verify(signed.RulesContainer, signed.RulesSignatures); err != nil {
			s.logger.WarnContext(ctx, "purging unverifiable shared rules container", "key", s.key, "error", err)
			if perr := s.Purge(ctx); perr != nil {
				s.logger.WarnContext(ctx, "failed to purge shared rules container", "key", s.key, "error", perr)
			}
			return nil
		}
	}
	return &signed
}

// Purge removes the shared copy, for use alongside Cache.Invalidate.
func (s *RedisSource) Purge(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
