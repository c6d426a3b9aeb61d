package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"chatgate/internal/core"
)

// AuthMiddleware requires "Authorization: Bearer <masterKey>" on every
// path except the public ones. An empty masterKey disables the check.
func AuthMiddleware(masterKey string, public []string) echo.MiddlewareFunc {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || open[c.Request().URL.Path] {
				return next(c)
			}
			if err := checkBearer(c.Request().Header.Get("Authorization"), want); err != nil {
				return handleError(c, err)
			}
			return next(c)
		}
	}
}

func checkBearer(header string, want []byte) error {
	if header == "" {
		return core.NewAuthenticationError("missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'")
	}
	if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
		return core.NewAuthenticationError("invalid master key")
	}
	return nil
}
