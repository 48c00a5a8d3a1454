package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ContextKey represents keys for context values
type ContextKey string

const ClaimsContextKey ContextKey = "claims"

// RequireAuth rejects requests without a valid bearer token and stores the
// claims on the context.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := tokenService.ValidateAccessToken(tokenParts[1])
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("rejected admin token")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ClaimsContextKey), claims)
			return next(c)
		}
	}
}

// GetClaims extracts the token claims from echo context
func GetClaims(c echo.Context) *JWTClaims {
	v := c.Get(string(ClaimsContextKey))
	if v == nil {
		return nil
	}
	return v.(*JWTClaims)
}

// Actor is the authenticated subject, or "" outside RequireAuth.
func Actor(c echo.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}
