package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
)

type subscriptionService interface {
	Create(ctx context.Context, params application.CreateSubscriptionParams) (domain.Subscription, error)
	Renew(ctx context.Context, params application.RenewSubscriptionParams) (domain.Subscription, error)
	Suspend(ctx context.Context, principal application.Principal, id string) (domain.Subscription, error)
	CheckCoverage(ctx context.Context, userID string, mealType domain.MealType, date civil.Date) (application.Coverage, error)
}

type SubscriptionHandler struct {
	service   subscriptionService
	today     func() civil.Date
	responder responder
}

func NewSubscriptionHandler(service subscriptionService, today func() civil.Date, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, today: today, responder: newResponder(logger)}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	params := application.CreateSubscriptionParams{
		Principal:   principal,
		UserID:      strings.TrimSpace(req.UserID),
		StartDate:   parseDate(req.StartDate, h.today(), "start_date", errs),
		EndDate:     parseDate(req.EndDate, civil.Date{}, "end_date", errs),
		MonthlyCost: parseMoney(req.MonthlyCost, "monthly_cost", errs),
	}
	for _, value := range req.MealTypes {
		mt := parseMealType(value, "meal_types", errs)
		if mt != "" {
			params.MealTypes = append(params.MealTypes, mt)
		}
	}
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	sub, err := h.service.Create(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, subscriptionResponse{Subscription: toSubscriptionDTO(sub)})
}

func (h *SubscriptionHandler) Renew(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req renewSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	end := parseDate(req.EndDate, civil.Date{}, "end_date", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	sub, err := h.service.Renew(r.Context(), application.RenewSubscriptionParams{
		Principal:      principal,
		SubscriptionID: pathParam(r, "id"),
		EndDate:        end,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, subscriptionResponse{Subscription: toSubscriptionDTO(sub)})
}

func (h *SubscriptionHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sub, err := h.service.Suspend(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, subscriptionResponse{Subscription: toSubscriptionDTO(sub)})
}

// Coverage answers whether a user's subscription covers one meal. Users may
// only ask about themselves unless they are staff.
func (h *SubscriptionHandler) Coverage(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()

	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		userID = principal.UserID
	}
	if userID != principal.UserID && !principal.IsStaff() {
		h.responder.handleServiceError(r.Context(), w, application.ErrForbidden)
		return
	}

	errs := fieldErrors{}
	mealType := parseMealType(query.Get("meal_type"), "meal_type", errs)
	if mealType == "" && errs.empty() {
		errs.add("meal_type", "is required")
	}
	date := parseDate(query.Get("date"), h.today(), "date", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	coverage, err := h.service.CheckCoverage(r.Context(), userID, mealType, date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	resp := coverageResponse{UserID: userID, MealType: string(mealType), Date: date.String(), Covered: coverage.Covered}
	if coverage.Subscription != nil {
		dto := toSubscriptionDTO(*coverage.Subscription)
		resp.Subscription = &dto
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type createSubscriptionRequest struct {
	UserID      string   `json:"user_id"`
	MealTypes   []string `json:"meal_types"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	MonthlyCost string   `json:"monthly_cost"`
}

type renewSubscriptionRequest struct {
	EndDate string `json:"end_date"`
}

type subscriptionDTO struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	MealTypes   []string `json:"meal_types"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Status      string   `json:"status"`
	MonthlyCost string   `json:"monthly_cost"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toSubscriptionDTO(sub domain.Subscription) subscriptionDTO {
	meals := make([]string, 0, len(sub.MealTypes))
	for _, mt := range sub.MealTypes {
		meals = append(meals, string(mt))
	}
	return subscriptionDTO{
		ID:          sub.ID,
		UserID:      sub.UserID,
		MealTypes:   meals,
		StartDate:   sub.StartDate.String(),
		EndDate:     sub.EndDate.String(),
		Status:      string(sub.Status),
		MonthlyCost: sub.MonthlyCost.String(),
		CreatedAt:   formatTime(sub.CreatedAt),
		UpdatedAt:   formatTime(sub.UpdatedAt),
	}
}

type subscriptionResponse struct {
	Subscription subscriptionDTO `json:"subscription"`
}

type coverageResponse struct {
	UserID       string           `json:"user_id"`
	MealType     string           `json:"meal_type"`
	Date         string           `json:"date"`
	Covered      bool             `json:"covered"`
	Subscription *subscriptionDTO `json:"subscription,omitempty"`
}
