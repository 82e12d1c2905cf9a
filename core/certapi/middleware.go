package certapi

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// requireSharedSecret authenticates /ops callers with a bearer token
// compared in constant time.
func (a *API) requireSharedSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return errorJSON(c, http.StatusUnauthorized, "missing bearer token")
		}
		if !hmac.Equal([]byte(token), []byte(a.secret)) {
			return errorJSON(c, http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}
