package shared

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"prospectcrm/internal/domain/progression"
	"prospectcrm/internal/transport/http/api"
	"prospectcrm/internal/transport/http/middleware"
)

// FailDomain maps the domain sentinels to status codes. Anything unknown is
// logged and reported as a 500 with fallbackCode.
func FailDomain(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, progression.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	case errors.Is(err, progression.ErrStageIncomplete):
		api.Fail(w, http.StatusBadRequest, "stage_incomplete", err.Error(), reqID)
	case errors.Is(err, progression.ErrSummaryRequired):
		api.Fail(w, http.StatusConflict, "summary_required", err.Error(), reqID)
	case errors.Is(err, progression.ErrInvalidState):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), reqID)
	case errors.Is(err, progression.ErrConflict):
		api.Fail(w, http.StatusConflict, "conflict", err.Error(), reqID)
	case errors.Is(err, progression.ErrForbidden):
		api.Fail(w, http.StatusForbidden, "forbidden", err.Error(), reqID)
	case errors.Is(err, progression.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, progression.ErrTransientStore):
		slog.Warn("store unavailable", "path", r.URL.Path, "requestId", reqID, "err", err)
		api.Fail(w, http.StatusServiceUnavailable, "store_unavailable", "storage temporarily unavailable, retry", reqID)
	default:
		slog.Error("request failed", "path", r.URL.Path, "requestId", reqID, "err", err)
		api.Fail(w, http.StatusInternalServerError, fallbackCode, "internal error", reqID)
	}
}

// Actor returns the authenticated caller in domain terms.
func Actor(w http.ResponseWriter, r *http.Request) (progression.Actor, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user.UserID == "" {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return progression.Actor{}, false
	}
	return progression.Actor{UserID: user.UserID, Role: user.RoleName}, true
}

// PathID parses a positive integer URL parameter.
func PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		api.Fail(w, http.StatusBadRequest, "invalid_id", name+" must be a positive integer", middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return id, true
}

// QueryID parses an optional positive integer query parameter. Zero means absent.
func QueryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return id, nil
}
