package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prospectcrm/internal/domain/auth"
)

func TestAuthMiddlewareSetsUser(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: auth.RoleSales, Name: "Rina"}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	called := false
	handler := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		user, ok := GetUser(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		if user.UserID != "u1" || user.RoleName != auth.RoleSales || user.Name != "Rina" {
			t.Fatalf("unexpected user: %+v", user)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); ok {
			t.Fatal("did not expect user in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestAuthMiddlewareRejectsForeignSignature(t *testing.T) {
	token, err := auth.GenerateToken("other-secret", auth.Claims{UserID: "u1", RoleName: auth.RoleAdministrator}, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	handler := Auth("secret")(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type stubPermissions struct {
	allowed map[string]bool
	err     error
}

func (s stubPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.allowed[role+"|"+permission], nil
}

func TestRequirePermission(t *testing.T) {
	store := stubPermissions{allowed: map[string]bool{auth.RoleSalesManager + "|" + auth.PermTasksWrite: true}}
	handler := RequirePermission(auth.PermTasksWrite, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		user   *auth.UserContext
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "sales", user: &auth.UserContext{UserID: "u1", RoleName: auth.RoleSales}, status: http.StatusForbidden},
		{name: "manager", user: &auth.UserContext{UserID: "u2", RoleName: auth.RoleSalesManager}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
		if tc.user != nil {
			req = req.WithContext(WithUser(req.Context(), *tc.user))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
	}

	failing := RequirePermission(auth.PermTasksWrite, stubPermissions{err: errors.New("boom")})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
	req = req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "u1", RoleName: auth.RoleSales}))
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store error, got %d", rec.Code)
	}
}

func TestRequirePermissionWithEnforcer(t *testing.T) {
	enforcer, err := auth.NewEnforcer(auth.RolePermissions)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	handler := RequirePermission(auth.PermProspectReset, enforcer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for role, want := range map[string]int{
		auth.RoleAdministrator: http.StatusNoContent,
		auth.RoleSalesManager:  http.StatusForbidden,
		auth.RoleSales:         http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/customers/1/progress", nil)
		req = req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "u", RoleName: role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}
}
