// Package auth validates the bearer tokens on API requests. Two token
// issuers are trusted: the platform's own internal issuer, and the EPR
// service adapter which submits inbound HL7 messages. Both sign with a
// shared HS512 key and carry a space-separated scope claim.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userIDKey     contextKey = "user_id"
	userScopesKey contextKey = "user_scopes"
)

type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

type Config struct {
	SigningKey     []byte
	AllowedIssuers []string
}

// Middleware validates the bearer token and places its subject and
// scopes on the request context.
func Middleware(cfg Config) echo.MiddlewareFunc {
	issuers := make(map[string]bool, len(cfg.AllowedIssuers))
	for _, issuer := range cfg.AllowedIssuers {
		if issuer != "" {
			issuers[issuer] = true
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return cfg.SigningKey, nil
			}, jwt.WithValidMethods([]string{"HS512"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if !issuers[claims.Issuer] {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown token issuer")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, userIDKey, claims.Subject)
			ctx = context.WithValue(ctx, userScopesKey, strings.Fields(claims.Scope))
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// RequireScope returns middleware that checks the token carries the
// given scope.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, granted := range ScopesFromContext(c.Request().Context()) {
				if granted == scope {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "required scope: "+scope)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(userScopesKey).([]string)
	return scopes
}
