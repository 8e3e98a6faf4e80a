package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"prospectcrm/internal/transport/http/api"
)

// PermissionStore answers whether a role holds a permission. auth.Enforcer
// is the production implementation.
type PermissionStore interface {
	HasPermission(ctx context.Context, role, permission string) (bool, error)
}

// RequirePermission admits callers whose role holds permission. Denials name
// the missing permission in error.details.
func RequirePermission(permission string, store PermissionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorize(w, r, store, permission) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func authorize(w http.ResponseWriter, r *http.Request, store PermissionStore, permission string) bool {
	ctx := r.Context()
	reqID := GetRequestID(ctx)

	user, ok := GetUser(ctx)
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return false
	}

	allowed, err := store.HasPermission(ctx, user.RoleName, permission)
	switch {
	case err != nil:
		slog.Error("permission check failed", "role", user.RoleName, "permission", permission, "err", err)
		api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", reqID)
		return false
	case !allowed:
		slog.Info("permission denied", "userId", user.UserID, "role", user.RoleName, "permission", permission)
		api.FailWithDetails(w, http.StatusForbidden, "forbidden", "insufficient permissions",
			map[string]string{"permission": permission}, reqID)
		return false
	}
	return true
}
