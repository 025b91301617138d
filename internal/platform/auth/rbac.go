package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

// deny rejects the request with a security OperationOutcome.
func deny(c echo.Context, status int, msg string) error {
	return c.JSON(status, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeSecurity, msg))
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return deny(c, http.StatusForbidden, fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
