package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rivermint/chatforge/policy"
)

const subjectContextKey = "chatforge.subject"

// SubjectMiddleware reads the caller's identity off headers a fronting
// authentication proxy sets once it has verified a JWT/session (spec §1:
// "authentication/JWT validation" is an external collaborator). It never
// parses or validates a credential itself — only trusts what's already
// been resolved upstream.
func SubjectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get("X-Subject-Id")
		if id == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing subject identity")
		}
		var groups []string
		if raw := c.Request().Header.Get("X-Subject-Groups"); raw != "" {
			groups = strings.Split(raw, ",")
		}
		c.Set(subjectContextKey, policy.Subject{ID: id, GroupIDs: groups})
		return next(c)
	}
}

// SubjectFromContext returns the Subject SubjectMiddleware attached, or
// ok=false if none was set (middleware not installed, e.g. in a unit test
// calling a handler directly).
func SubjectFromContext(c echo.Context) (policy.Subject, bool) {
	subj, ok := c.Get(subjectContextKey).(policy.Subject)
	return subj, ok
}
