package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/mealtime"
)

type mealService interface {
	AllSlots(ctx context.Context) ([]domain.MealSlot, error)
	UpsertSlot(ctx context.Context, params application.UpsertSlotParams) (domain.MealSlot, error)
	CurrentOrUpcoming(ctx context.Context) (mealtime.Window, error)
	ComputeDeadline(ctx context.Context, mealType domain.MealType, date civil.Date) (mealtime.Deadline, error)
}

// MealHandler serves the meal schedule.
type MealHandler struct {
	service   mealService
	today     func() civil.Date
	responder responder
	logger    *slog.Logger
}

func NewMealHandler(service mealService, today func() civil.Date, logger *slog.Logger) *MealHandler {
	base := defaultLogger(logger)
	return &MealHandler{service: service, today: today, responder: newResponder(base), logger: base}
}

func (h *MealHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "MealHandler", operation, attrs...)
}

func (h *MealHandler) List(w http.ResponseWriter, r *http.Request) {
	slots, err := h.service.AllSlots(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSlotsResponse{Slots: toSlotDTOs(slots)})
}

func (h *MealHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	mealType := pathParam(r, "mealType")

	var req slotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Upsert", "meal_type", mealType)
	slot, err := h.service.UpsertSlot(r.Context(), application.UpsertSlotParams{
		Principal: principal,
		Input:     req.toInput(mealType),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "meal slot update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meal slot updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(slot)})
}

func (h *MealHandler) Current(w http.ResponseWriter, r *http.Request) {
	window, err := h.service.CurrentOrUpcoming(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toWindowDTO(window))
}

func (h *MealHandler) Deadline(w http.ResponseWriter, r *http.Request) {
	errs := fieldErrors{}
	mealType := parseMealType(pathParam(r, "mealType"), "meal_type", errs)
	date := parseDate(r.URL.Query().Get("date"), h.today(), "date", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	deadline, err := h.service.ComputeDeadline(r.Context(), mealType, date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deadlineDTO{
		MealType:      string(deadline.MealType),
		Date:          deadline.Date.String(),
		MealStart:     formatTime(deadline.MealStart),
		Deadline:      formatTime(deadline.Deadline),
		CanConfirmNow: deadline.CanConfirmNow,
	})
}

type slotRequest struct {
	StartTime             string `json:"start_time"`
	EndTime               string `json:"end_time"`
	Cost                  string `json:"cost"`
	DeadlineOffsetMinutes int    `json:"deadline_offset_minutes"`
	Active                *bool  `json:"active"`
}

func (r slotRequest) toInput(mealType string) application.SlotInput {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return application.SlotInput{
		MealType:       mealType,
		Start:          r.StartTime,
		End:            r.EndTime,
		Cost:           r.Cost,
		DeadlineOffset: time.Duration(r.DeadlineOffsetMinutes) * time.Minute,
		Active:         active,
	}
}

type slotDTO struct {
	MealType              string `json:"meal_type"`
	StartTime             string `json:"start_time"`
	EndTime               string `json:"end_time"`
	Cost                  string `json:"cost"`
	DeadlineOffsetMinutes int    `json:"deadline_offset_minutes"`
	Active                bool   `json:"active"`
	UpdatedBy             string `json:"updated_by,omitempty"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

type slotResponse struct {
	Slot slotDTO `json:"slot"`
}

type listSlotsResponse struct {
	Slots []slotDTO `json:"slots"`
}

func toSlotDTO(slot domain.MealSlot) slotDTO {
	return slotDTO{
		MealType:              string(slot.MealType),
		StartTime:             formatClock(slot.Start),
		EndTime:               formatClock(slot.End),
		Cost:                  slot.Cost.String(),
		DeadlineOffsetMinutes: int(slot.DeadlineOffset / time.Minute),
		Active:                slot.Active,
		UpdatedBy:             slot.UpdatedBy,
		UpdatedAt:             formatTime(slot.UpdatedAt),
	}
}

func toSlotDTOs(slots []domain.MealSlot) []slotDTO {
	out := make([]slotDTO, 0, len(slots))
	for _, slot := range slots {
		out = append(out, toSlotDTO(slot))
	}
	return out
}

func slotPtr(slot *domain.MealSlot) *slotDTO {
	if slot == nil {
		return nil
	}
	dto := toSlotDTO(*slot)
	return &dto
}

type windowDTO struct {
	Active       *slotDTO  `json:"active"`
	Overlapping  []slotDTO `json:"overlapping,omitempty"`
	Upcoming     *slotDTO  `json:"upcoming"`
	UpcomingDate string    `json:"upcoming_date,omitempty"`
	LastFinished *slotDTO  `json:"last_finished"`
}

func toWindowDTO(w mealtime.Window) windowDTO {
	dto := windowDTO{
		Active:       slotPtr(w.Active),
		Upcoming:     slotPtr(w.Upcoming),
		LastFinished: slotPtr(w.LastFinished),
	}
	if len(w.Overlapping) > 1 {
		dto.Overlapping = toSlotDTOs(w.Overlapping)
	}
	if w.Upcoming != nil {
		dto.UpcomingDate = w.UpcomingDate.String()
	}
	return dto
}

type deadlineDTO struct {
	MealType      string `json:"meal_type"`
	Date          string `json:"date"`
	MealStart     string `json:"meal_start"`
	Deadline      string `json:"deadline"`
	CanConfirmNow bool   `json:"can_confirm_now"`
}
