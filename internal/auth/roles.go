package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/rmf-intake/internal/domain"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// RequireRole ensures the staff principal has one of the allowed roles. It is
// a no-op when enforcement is off.
func (g *StaffGuard) RequireRole(allowed ...domain.StaffRole) fiber.Handler {
	allowedSet := make(map[domain.StaffRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if !g.required {
			return c.Next()
		}
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("staff token required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
