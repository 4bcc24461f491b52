// Package epr talks to the EPR service adapter, the hospital-side
// gateway that relays outbound HL7 messages to the trust integration
// engine. Requests are authenticated with a short-lived HS512 JWT whose
// scope is provisioned out-of-band and cached in Redis.
package epr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// scopeCacheKey is where the auth worker deposits the adapter scope.
const scopeCacheKey = "CACHED_EPR_SERVICE_ADAPTER_SCOPE"

// ErrScopeUnavailable is returned when no adapter scope can be obtained.
// Callers should treat it as a temporary outage.
var ErrScopeUnavailable = errors.New("epr: could not retrieve system scope from redis")

// TokenSource mints JWTs for EPR service adapter requests.
type TokenSource struct {
	key       []byte
	issuer    string
	expiry    time.Duration
	redis     *redis.Client
	mockScope string
	isProd    bool
}

// NewTokenSource builds a token source. mockScope is only honoured
// outside production, for environments with no auth worker.
func NewTokenSource(key, issuer string, expiry time.Duration, rdb *redis.Client, mockScope string, isProd bool) *TokenSource {
	return &TokenSource{
		key:       []byte(key),
		issuer:    issuer,
		expiry:    expiry,
		redis:     rdb,
		mockScope: mockScope,
		isProd:    isProd,
	}
}

// Token returns a signed JWT for the adapter. The issuer doubles as the
// audience: the adapter validates tokens against its own identity.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	scope, err := s.scope(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"iss":   s.issuer,
		"aud":   s.issuer,
		"scope": scope,
		"exp":   jwt.NewNumericDate(time.Now().UTC().Add(s.expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("epr: sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenSource) scope(ctx context.Context) (string, error) {
	scope, err := s.redis.Get(ctx, scopeCacheKey).Result()
	if err == nil && scope != "" {
		return scope, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("redis scope lookup failed")
	}

	if s.isProd || s.mockScope == "" {
		return "", ErrScopeUnavailable
	}
	log.Warn().Msg("no cached adapter scope, using configured mock scope")
	return s.mockScope, nil
}
