package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
)

type userService interface {
	SyncUser(ctx context.Context, params application.SyncUserParams) (domain.User, error)
	GetUser(ctx context.Context, principal application.Principal, id string) (domain.User, error)
}

type UserHandler struct {
	service   userService
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(service userService, logger *slog.Logger) *UserHandler {
	base := defaultLogger(logger)
	return &UserHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *UserHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "UserHandler", operation, attrs...)
}

// Sync mirrors an identity-provider account. Administrators only.
func (h *UserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	userID := pathParam(r, "id")

	var req syncUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Sync", "user_id", userID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode user request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	user, err := h.service.SyncUser(r.Context(), application.SyncUserParams{
		Principal: principal,
		UserID:    userID,
		Role:      req.Role,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

type syncUserRequest struct {
	Role string `json:"role"`
}

type userResponse struct {
	User userDTO `json:"user"`
}

type userDTO struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	OffenseMonth string `json:"offense_month,omitempty"`
	OffenseCount int    `json:"offense_count"`
}

func toUserDTO(user domain.User) userDTO {
	return userDTO{
		ID:           user.ID,
		Role:         string(user.Role),
		OffenseMonth: user.Offense.Month,
		OffenseCount: user.Offense.Count,
	}
}
