package authhandler

import (
	"errors"
	"net/http"
	"strings"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/transport/http/api"
	"prospectcrm/internal/transport/http/middleware"
	"prospectcrm/internal/transport/http/shared"
)

type Handler struct {
	Service *auth.Service
}

func NewHandler(service *auth.Service) *Handler {
	return &Handler{Service: service}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var payload loginRequest
	if !shared.DecodeAndValidate(w, r, &payload, reqID) {
		return
	}

	result, err := h.Service.Login(r.Context(), strings.TrimSpace(payload.Email), payload.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", reqID)
		return
	}
	if err != nil {
		shared.FailDomain(w, r, err, "login_failed")
		return
	}
	api.Success(w, result, reqID)
}
