package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
)

// TokenFromRequest returns the bearer token from the Authorization header, or
// the "token" query parameter used by WebSocket clients that cannot set headers.
func TokenFromRequest(c echo.Context) string {
	if header := c.Request().Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return c.QueryParam("token")
}

// Authenticate verifies the session token, touches the session and attaches
// it to the request context. Requests for which skipper returns true pass
// through untouched.
func Authenticate(tokens *TokenIssuer, store SessionStore, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			raw := TokenFromRequest(c)
			if raw == "" {
				return apperr.Unauthenticated("missing session token")
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				return apperr.Unauthenticated("invalid session token")
			}

			ctx := c.Request().Context()
			sess, err := store.Touch(ctx, claims.SessionID, time.Now())
			if errors.Is(err, ErrSessionNotFound) {
				return apperr.Unauthenticated("session expired")
			}
			if err != nil {
				return apperr.Remote(err, "session store unavailable")
			}

			c.SetRequest(c.Request().WithContext(WithSession(ctx, sess)))
			return next(c)
		}
	}
}
