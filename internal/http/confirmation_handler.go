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

type confirmationService interface {
	Confirm(ctx context.Context, params application.ConfirmParams) (domain.Confirmation, error)
	BulkConfirm(ctx context.Context, params application.BulkConfirmParams) ([]application.BulkConfirmResult, error)
	Cancel(ctx context.Context, principal application.Principal, id string) (application.CancelResult, error)
	RecordAttendance(ctx context.Context, params application.RecordAttendanceParams) (domain.Confirmation, error)
	FreezeMeal(ctx context.Context, principal application.Principal, mealType domain.MealType, date civil.Date, reason string) (int, error)
	Get(ctx context.Context, principal application.Principal, id string) (domain.Confirmation, error)
	List(ctx context.Context, params application.ListConfirmationsParams) ([]domain.Confirmation, error)
	DailyReport(ctx context.Context, principal application.Principal, date civil.Date) (application.DailyReport, error)
}

// ConfirmationHandler serves confirmations, staff attendance and reports.
type ConfirmationHandler struct {
	service   confirmationService
	today     func() civil.Date
	responder responder
	logger    *slog.Logger
}

func NewConfirmationHandler(service confirmationService, today func() civil.Date, logger *slog.Logger) *ConfirmationHandler {
	base := defaultLogger(logger)
	return &ConfirmationHandler{service: service, today: today, responder: newResponder(base), logger: base}
}

func (h *ConfirmationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ConfirmationHandler", operation, attrs...)
}

func (h *ConfirmationHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode confirmation request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	date := parseDate(req.Date, civil.Date{}, "date", errs)
	mealType := parseMealType(req.MealType, "meal_type", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	c, err := h.service.Confirm(r.Context(), application.ConfirmParams{
		Principal: principal,
		Date:      date,
		MealType:  mealType,
		Notes:     req.Notes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, confirmationResponse{Confirmation: toConfirmationDTO(c)})
}

func (h *ConfirmationHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req bulkConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	date := parseDate(req.Date, civil.Date{}, "date", errs)
	mealType := parseMealType(req.MealType, "meal_type", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	results, err := h.service.BulkConfirm(r.Context(), application.BulkConfirmParams{
		Principal: principal,
		UserIDs:   req.UserIDs,
		Date:      date,
		MealType:  mealType,
		Notes:     req.Notes,
		WalkIn:    req.WalkIn,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := bulkConfirmResponse{Results: make([]bulkResultDTO, 0, len(results))}
	for _, res := range results {
		dto := bulkResultDTO{UserID: res.UserID, ErrorCode: res.ErrorKind}
		if res.Confirmation != nil {
			c := toConfirmationDTO(*res.Confirmation)
			dto.Confirmation = &c
			resp.Created++
		}
		resp.Results = append(resp.Results, dto)
	}
	h.log(r.Context(), "Bulk", "principal_id", principal.UserID).InfoContext(r.Context(), "bulk confirmation processed",
		"requested", len(req.UserIDs),
		"created", resp.Created,
	)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ConfirmationHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	c, err := h.service.Get(r.Context(), principal, pathParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, confirmationResponse{Confirmation: toConfirmationDTO(c)})
}

func (h *ConfirmationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()

	errs := fieldErrors{}
	params := application.ListConfirmationsParams{
		Principal: principal,
		UserID:    strings.TrimSpace(query.Get("user_id")),
		MealType:  parseMealType(query.Get("meal_type"), "meal_type", errs),
		From:      parseDate(query.Get("from"), civil.Date{}, "from", errs),
		To:        parseDate(query.Get("to"), civil.Date{}, "to", errs),
	}
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	list, err := h.service.List(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	resp := listConfirmationsResponse{Confirmations: make([]confirmationDTO, 0, len(list))}
	for _, c := range list {
		resp.Confirmations = append(resp.Confirmations, toConfirmationDTO(c))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ConfirmationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := pathParam(r, "id")

	result, err := h.service.Cancel(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	resp := cancelResponse{Status: string(result.Status)}
	if result.Fine != nil {
		fine := toFineDTO(*result.Fine)
		resp.Fine = &fine
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ConfirmationHandler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	id := pathParam(r, "id")

	var req attendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	fine := parseMoney(req.FineApplied, "fine_applied", errs)
	method := domain.AttendanceMethod(strings.TrimSpace(req.Method))
	if method != "" && method != domain.MethodManual && method != domain.MethodQRCode {
		errs.add("method", "must be manual or qr_code")
	}
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	c, err := h.service.RecordAttendance(r.Context(), application.RecordAttendanceParams{
		Principal:      principal,
		ConfirmationID: id,
		Attended:       req.Attended,
		Method:         method,
		FineApplied:    fine,
		Override:       req.Override,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, confirmationResponse{Confirmation: toConfirmationDTO(c)})
}

func (h *ConfirmationHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req freezeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	errs := fieldErrors{}
	mealType := parseMealType(req.MealType, "meal_type", errs)
	date := parseDate(req.Date, h.today(), "date", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	n, err := h.service.FreezeMeal(r.Context(), principal, mealType, date, req.Reason)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, freezeResponse{MealType: string(mealType), Date: date.String(), Frozen: n})
}

func (h *ConfirmationHandler) DailyReport(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	errs := fieldErrors{}
	date := parseDate(r.URL.Query().Get("date"), h.today(), "date", errs)
	if !errs.empty() {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: errs})
		return
	}

	report, err := h.service.DailyReport(r.Context(), principal, date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	resp := dailyReportDTO{
		Date:        report.Date.String(),
		GeneratedAt: formatTime(report.GeneratedAt),
		Meals:       make([]mealReportDTO, 0, len(report.Meals)),
	}
	for _, m := range report.Meals {
		resp.Meals = append(resp.Meals, mealReportDTO{
			MealType:    string(m.MealType),
			Date:        m.SourceDate.String(),
			Total:       m.Total,
			Attended:    m.Attended,
			NotAttended: m.NotAttended,
			Pending:     m.Pending,
			TotalFines:  m.TotalFines.String(),
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type confirmRequest struct {
	Date     string `json:"date"`
	MealType string `json:"meal_type"`
	Notes    string `json:"notes"`
}

type bulkConfirmRequest struct {
	UserIDs  []string `json:"user_ids"`
	Date     string   `json:"date"`
	MealType string   `json:"meal_type"`
	Notes    string   `json:"notes"`
	WalkIn   bool     `json:"walk_in"`
}

type attendanceRequest struct {
	Attended    bool   `json:"attended"`
	Method      string `json:"method"`
	FineApplied string `json:"fine_applied"`
	Override    bool   `json:"override"`
}

type freezeRequest struct {
	MealType string `json:"meal_type"`
	Date     string `json:"date"`
	Reason   string `json:"reason"`
}

type attendanceDTO struct {
	Status string `json:"status"`
	At     string `json:"at,omitempty"`
	By     string `json:"by,omitempty"`
	Method string `json:"method,omitempty"`
}

type confirmationDTO struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Date         string        `json:"date"`
	MealType     string        `json:"meal_type"`
	Notes        string        `json:"notes,omitempty"`
	WalkIn       bool          `json:"walk_in"`
	CreatedAt    string        `json:"created_at"`
	Attendance   attendanceDTO `json:"attendance"`
	Cost         string        `json:"cost"`
	Frozen       bool          `json:"frozen"`
	FrozenAt     string        `json:"frozen_at,omitempty"`
	FreezeReason string        `json:"freeze_reason,omitempty"`
	FineApplied  string        `json:"fine_applied"`
}

func toConfirmationDTO(c domain.Confirmation) confirmationDTO {
	return confirmationDTO{
		ID:        c.ID,
		UserID:    c.UserID,
		Date:      c.Date.String(),
		MealType:  string(c.MealType),
		Notes:     c.Notes,
		WalkIn:    c.WalkIn,
		CreatedAt: formatTime(c.CreatedAt),
		Attendance: attendanceDTO{
			Status: string(c.Attendance.Status),
			At:     formatTime(c.Attendance.At),
			By:     c.Attendance.By,
			Method: string(c.Attendance.Method),
		},
		Cost:         c.Cost.String(),
		Frozen:       c.Freeze.Frozen,
		FrozenAt:     formatTime(c.Freeze.At),
		FreezeReason: c.Freeze.Reason,
		FineApplied:  c.FineApplied.String(),
	}
}

type confirmationResponse struct {
	Confirmation confirmationDTO `json:"confirmation"`
}

type listConfirmationsResponse struct {
	Confirmations []confirmationDTO `json:"confirmations"`
}

type bulkResultDTO struct {
	UserID       string           `json:"user_id"`
	Confirmation *confirmationDTO `json:"confirmation,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
}

type bulkConfirmResponse struct {
	Created int             `json:"created"`
	Results []bulkResultDTO `json:"results"`
}

type cancelResponse struct {
	Status string   `json:"status"`
	Fine   *fineDTO `json:"fine,omitempty"`
}

type freezeResponse struct {
	MealType string `json:"meal_type"`
	Date     string `json:"date"`
	Frozen   int    `json:"frozen"`
}

type mealReportDTO struct {
	MealType    string `json:"meal_type"`
	Date        string `json:"date"`
	Total       int    `json:"total"`
	Attended    int    `json:"attended"`
	NotAttended int    `json:"not_attended"`
	Pending     int    `json:"pending"`
	TotalFines  string `json:"total_fines"`
}

type dailyReportDTO struct {
	Date        string          `json:"date"`
	GeneratedAt string          `json:"generated_at"`
	Meals       []mealReportDTO `json:"meals"`
}
