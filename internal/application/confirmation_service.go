package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/mealtime"
	"github.com/example/mess-attendance/internal/persistence"
)

const (
	maxNotesLength = 500

	// ReasonAutomaticFreeze tags freezes applied by the background engine.
	ReasonAutomaticFreeze = "automatic_deadline_freeze"
	// ReasonManualFreeze tags freezes requested by staff.
	ReasonManualFreeze = "manual_freeze"
)

// SlotSource resolves the active schedule.
type SlotSource interface {
	Slot(ctx context.Context, mealType domain.MealType) (domain.MealSlot, error)
	ActiveSlots(ctx context.Context) ([]domain.MealSlot, error)
}

// CoverageChecker answers whether a subscription covers a meal.
type CoverageChecker interface {
	CheckCoverage(ctx context.Context, userID string, mealType domain.MealType, date civil.Date) (Coverage, error)
}

// ConfirmationDeps are the collaborators of ConfirmationService.
type ConfirmationDeps struct {
	Confirmations persistence.ConfirmationRepository
	Fines         persistence.FineRepository
	Users         persistence.UserRepository
	Schedule      SlotSource
	Coverage      CoverageChecker
}

// ConfirmationService owns the meal confirmation lifecycle.
type ConfirmationService struct {
	confirmations persistence.ConfirmationRepository
	fines         persistence.FineRepository
	users         persistence.UserRepository
	schedule      SlotSource
	coverage      CoverageChecker
	rt            Runtime
	engine        *mealtime.Engine
}

// NewConfirmationService constructs the service.
func NewConfirmationService(deps ConfirmationDeps, rt Runtime) *ConfirmationService {
	rt = rt.withDefaults()
	return &ConfirmationService{
		confirmations: deps.Confirmations,
		fines:         deps.Fines,
		users:         deps.Users,
		schedule:      deps.Schedule,
		coverage:      deps.Coverage,
		rt:            rt,
		engine:        rt.engine(),
	}
}

func (s *ConfirmationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "ConfirmationService", operation, attrs...)
}

// Confirm records the principal's intent to eat mealType on date. The cost is
// zero when an active subscription covers the meal.
func (s *ConfirmationService) Confirm(ctx context.Context, params ConfirmParams) (c domain.Confirmation, err error) {
	if s == nil {
		err = fmt.Errorf("ConfirmationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Confirm",
		"principal_id", params.Principal.UserID,
		"meal_type", params.MealType,
		"date", params.Date.String(),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to confirm meal", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meal confirmed", "confirmation_id", c.ID, "cost", c.Cost.String())
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if vErr := validateMealRequest(params.MealType, params.Date, params.Notes); vErr.HasErrors() {
		err = vErr
		return
	}

	today := clock.Today(s.rt.Clock, s.rt.Location)
	if params.Date.Before(today) {
		err = ErrPastDate
		return
	}

	var slot domain.MealSlot
	slot, err = s.schedule.Slot(ctx, params.MealType)
	if err != nil {
		return
	}

	now := s.rt.now()
	deadline := s.engine.ComputeDeadline(slot, params.Date, now)
	if !deadline.CanConfirmNow {
		err = fmt.Errorf("%w: confirmation deadline was %s", ErrDeadlinePassed,
			deadline.Deadline.In(s.rt.Location).Format("2006-01-02 15:04 MST"))
		return
	}

	if err = s.users.UpsertUser(ctx, params.Principal.UserID, params.Principal.Role); err != nil {
		err = mapRepoError("upsert user", err)
		return
	}

	cost, err := s.costFor(ctx, params.Principal.UserID, slot, params.Date)
	if err != nil {
		return
	}

	c = domain.Confirmation{
		ID:         s.rt.IDGenerator(),
		UserID:     params.Principal.UserID,
		Date:       params.Date,
		MealType:   params.MealType,
		Notes:      strings.TrimSpace(params.Notes),
		CreatedAt:  now,
		Attendance: domain.Attendance{Status: domain.AttendanceUnknown},
		Cost:       cost,
	}
	if err = s.confirmations.CreateConfirmation(ctx, c); err != nil {
		err = mapRepoError("create confirmation", err)
		return
	}
	return c, nil
}

// BulkConfirm lets staff confirm a meal for several known users at once. The
// confirmation deadline does not apply. Failures are reported per user.
func (s *ConfirmationService) BulkConfirm(ctx context.Context, params BulkConfirmParams) (results []BulkConfirmResult, err error) {
	logger := s.loggerWith(ctx, "BulkConfirm",
		"principal_id", params.Principal.UserID,
		"meal_type", params.MealType,
		"date", params.Date.String(),
		"users", len(params.UserIDs),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to bulk confirm", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "bulk confirmation processed")
	}()

	if !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}
	vErr := validateMealRequest(params.MealType, params.Date, params.Notes)
	if len(params.UserIDs) == 0 {
		vErr.add("user_ids", "must include at least one user")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}
	if params.Date.Before(clock.Today(s.rt.Clock, s.rt.Location)) {
		err = ErrPastDate
		return
	}

	var slot domain.MealSlot
	slot, err = s.schedule.Slot(ctx, params.MealType)
	if err != nil {
		return
	}

	now := s.rt.now()
	results = make([]BulkConfirmResult, 0, len(params.UserIDs))
	for _, raw := range params.UserIDs {
		userID := strings.TrimSpace(raw)
		result := BulkConfirmResult{UserID: userID}
		c, cErr := s.confirmFor(ctx, userID, slot, params, now)
		if cErr != nil {
			result.ErrorKind = ErrorKind(cErr)
			logger.WarnContext(ctx, "bulk confirmation entry failed", "user_id", userID, "error", cErr)
		} else {
			result.Confirmation = &c
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *ConfirmationService) confirmFor(ctx context.Context, userID string, slot domain.MealSlot, params BulkConfirmParams, now time.Time) (domain.Confirmation, error) {
	if userID == "" {
		vErr := &ValidationError{}
		vErr.add("user_id", "must not be empty")
		return domain.Confirmation{}, vErr
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return domain.Confirmation{}, mapRepoError("get user", err)
	}
	cost, err := s.costFor(ctx, userID, slot, params.Date)
	if err != nil {
		return domain.Confirmation{}, err
	}
	c := domain.Confirmation{
		ID:         s.rt.IDGenerator(),
		UserID:     userID,
		Date:       params.Date,
		MealType:   params.MealType,
		Notes:      strings.TrimSpace(params.Notes),
		WalkIn:     params.WalkIn,
		CreatedAt:  now,
		Attendance: domain.Attendance{Status: domain.AttendanceUnknown},
		Cost:       cost,
	}
	if err := s.confirmations.CreateConfirmation(ctx, c); err != nil {
		return domain.Confirmation{}, mapRepoError("create confirmation", err)
	}
	return c, nil
}

func (s *ConfirmationService) costFor(ctx context.Context, userID string, slot domain.MealSlot, date civil.Date) (domain.Money, error) {
	coverage, err := s.coverage.CheckCoverage(ctx, userID, slot.MealType, date)
	if err != nil {
		return 0, err
	}
	if coverage.Covered {
		return 0, nil
	}
	return slot.Cost, nil
}

// Cancel removes a confirmation. Cancelling after the deadline incurs a late
// cancellation fine of half the meal cost.
func (s *ConfirmationService) Cancel(ctx context.Context, principal Principal, id string) (result CancelResult, err error) {
	logger := s.loggerWith(ctx, "Cancel",
		"principal_id", principal.UserID,
		"confirmation_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel confirmation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "confirmation cancelled", "status", result.Status)
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	var c domain.Confirmation
	c, err = s.confirmations.GetConfirmation(ctx, id)
	if err != nil {
		err = mapRepoError("get confirmation", err)
		return
	}
	if c.UserID != principal.UserID && !principal.IsStaff() {
		err = ErrForbidden
		return
	}
	if c.Attendance.Attended() {
		err = ErrAlreadyAttended
		return
	}
	if c.Date.Before(clock.Today(s.rt.Clock, s.rt.Location)) {
		err = ErrPastMeal
		return
	}
	if c.Freeze.Frozen {
		err = ErrFrozen
		return
	}

	now := s.rt.now()
	var fine *domain.Fine
	slot, slotErr := s.schedule.Slot(ctx, c.MealType)
	switch {
	case slotErr == nil:
		if !s.engine.ComputeDeadline(slot, c.Date, now).CanConfirmNow && slot.Cost > 0 {
			fine = &domain.Fine{
				ID:             s.rt.IDGenerator(),
				UserID:         c.UserID,
				Type:           domain.FineLateCancellation,
				Amount:         slot.Cost.Percent(50),
				Reason:         fmt.Sprintf("late cancellation of %s on %s", c.MealType, c.Date),
				ConfirmationID: c.ID,
				CreatedAt:      now,
			}
		}
	case errors.Is(slotErr, ErrNotFound):
		logger.WarnContext(ctx, "meal slot inactive, cancelling without deadline check")
	default:
		err = slotErr
		return
	}

	if err = s.confirmations.CancelConfirmation(ctx, c.ID, fine); err != nil {
		err = s.mutationError(ctx, "cancel confirmation", c.ID, err)
		return
	}

	result.Status = CancelStatusCancelled
	if fine != nil {
		result.Status = CancelStatusCancelledWithFine
		result.Fine = fine
	}
	return result, nil
}

// mutationError explains why a conditional write touched no row.
func (s *ConfirmationService) mutationError(ctx context.Context, op, id string, err error) error {
	if !errors.Is(err, persistence.ErrConflict) {
		return mapRepoError(op, err)
	}
	current, getErr := s.confirmations.GetConfirmation(ctx, id)
	switch {
	case getErr != nil:
		return mapRepoError(op, getErr)
	case current.Attendance.Attended():
		return ErrAlreadyAttended
	case current.Freeze.Frozen:
		return ErrFrozen
	}
	return &StorageError{Op: op, Err: err}
}

// RecordAttendance sets the attendance state of a confirmation. Without
// Override an attended record is not changed again. A no-show with a fine
// amount also issues a no-show fine.
func (s *ConfirmationService) RecordAttendance(ctx context.Context, params RecordAttendanceParams) (c domain.Confirmation, err error) {
	logger := s.loggerWith(ctx, "RecordAttendance",
		"principal_id", params.Principal.UserID,
		"confirmation_id", params.ConfirmationID,
		"attended", params.Attended,
		"override", params.Override,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record attendance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "attendance recorded", "status", c.Attendance.Status)
	}()

	if !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}

	method := params.Method
	if method == "" {
		method = domain.MethodManual
	}
	vErr := &ValidationError{}
	if method != domain.MethodManual && method != domain.MethodQRCode {
		vErr.add("method", "must be manual or qr_code")
	}
	if params.FineApplied < 0 {
		vErr.add("fine_applied", "must not be negative")
	}
	if params.Attended && params.FineApplied > 0 {
		vErr.add("fine_applied", "only applies to no-shows")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	status := domain.AttendanceNoShow
	if params.Attended {
		status = domain.AttendanceAttended
	}
	now := s.rt.now()
	c, err = s.confirmations.RecordAttendance(ctx, persistence.AttendanceUpdate{
		ConfirmationID: params.ConfirmationID,
		Attendance: domain.Attendance{
			Status: status,
			At:     now,
			By:     params.Principal.UserID,
			Method: method,
		},
		FineApplied: params.FineApplied,
		Override:    params.Override,
	})
	if errors.Is(err, persistence.ErrConflict) {
		err = ErrAlreadyAttended
		return
	}
	if err != nil {
		err = mapRepoError("record attendance", err)
		return
	}

	if !params.Attended && params.FineApplied > 0 {
		fine := domain.Fine{
			ID:             s.rt.IDGenerator(),
			UserID:         c.UserID,
			Type:           domain.FineNoShow,
			Amount:         params.FineApplied,
			Reason:         fmt.Sprintf("no-show for %s on %s", c.MealType, c.Date),
			ConfirmationID: c.ID,
			CreatedAt:      now,
		}
		if err = s.fines.CreateFine(ctx, fine); err != nil {
			err = mapRepoError("create no-show fine", err)
			return
		}
	}
	return c, nil
}

// Freeze marks every unfrozen confirmation for mealType on date as frozen and
// returns how many records changed.
func (s *ConfirmationService) Freeze(ctx context.Context, mealType domain.MealType, date civil.Date, reason, actor string) (int, error) {
	n, err := s.confirmations.FreezeConfirmations(ctx, mealType, date, domain.FreezeMark{
		Frozen: true,
		At:     s.rt.now(),
		Reason: reason,
		By:     actor,
	})
	if err != nil {
		return 0, mapRepoError("freeze confirmations", err)
	}
	if n > 0 {
		s.loggerWith(ctx, "Freeze",
			"meal_type", mealType,
			"date", date.String(),
			"reason", reason,
		).InfoContext(ctx, "confirmations frozen", "count", n)
	}
	return n, nil
}

// FreezeMeal is the staff initiated freeze.
func (s *ConfirmationService) FreezeMeal(ctx context.Context, principal Principal, mealType domain.MealType, date civil.Date, reason string) (int, error) {
	if !principal.IsStaff() {
		return 0, ErrForbidden
	}
	vErr := &ValidationError{}
	if !mealType.Valid() {
		vErr.add("meal_type", "must be one of breakfast, lunch, snacks, dinner")
	}
	if !date.IsValid() {
		vErr.add("date", "must be a valid YYYY-MM-DD date")
	}
	if vErr.HasErrors() {
		return 0, vErr
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonManualFreeze
	}
	return s.Freeze(ctx, mealType, date, reason, principal.UserID)
}

// Get returns one confirmation visible to the principal.
func (s *ConfirmationService) Get(ctx context.Context, principal Principal, id string) (domain.Confirmation, error) {
	c, err := s.confirmations.GetConfirmation(ctx, id)
	if err != nil {
		return domain.Confirmation{}, mapRepoError("get confirmation", err)
	}
	if c.UserID != principal.UserID && !principal.IsStaff() {
		return domain.Confirmation{}, ErrForbidden
	}
	return c, nil
}

// List returns confirmations matching the filter. Non-staff callers only see
// their own records.
func (s *ConfirmationService) List(ctx context.Context, params ListConfirmationsParams) ([]domain.Confirmation, error) {
	if params.Principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	userID := strings.TrimSpace(params.UserID)
	if !params.Principal.IsStaff() {
		if userID != "" && userID != params.Principal.UserID {
			return nil, ErrForbidden
		}
		userID = params.Principal.UserID
	}
	if params.MealType != "" && !params.MealType.Valid() {
		vErr := &ValidationError{}
		vErr.add("meal_type", "must be one of breakfast, lunch, snacks, dinner")
		return nil, vErr
	}
	out, err := s.confirmations.ListConfirmations(ctx, persistence.ConfirmationFilter{
		UserID:   userID,
		MealType: params.MealType,
		From:     params.From,
		To:       params.To,
	})
	if err != nil {
		return nil, mapRepoError("list confirmations", err)
	}
	return out, nil
}

// DailyReport aggregates confirmations per meal type for date. Once the
// current time of day is past the start of the last scheduled meal, the
// breakfast row reports the following day's breakfast.
func (s *ConfirmationService) DailyReport(ctx context.Context, principal Principal, date civil.Date) (report DailyReport, err error) {
	if !principal.IsStaff() {
		return DailyReport{}, ErrForbidden
	}
	if !date.IsValid() {
		vErr := &ValidationError{}
		vErr.add("date", "must be a valid YYYY-MM-DD date")
		return DailyReport{}, vErr
	}

	slots, err := s.schedule.ActiveSlots(ctx)
	if err != nil {
		return DailyReport{}, err
	}
	rollover := false
	if lastStart, ok := mealtime.LastStart(slots); ok {
		tod := clock.TimeOfDay(s.rt.Clock, s.rt.Location)
		rollover = domain.SecondsOfDay(tod) > domain.SecondsOfDay(lastStart)
	}

	report = DailyReport{Date: date, GeneratedAt: s.rt.now()}
	for _, mealType := range domain.MealTypes {
		source := date
		if mealType == domain.Breakfast && rollover {
			source = date.AddDays(1)
		}
		records, listErr := s.confirmations.ListConfirmationsForMeal(ctx, mealType, source)
		if listErr != nil {
			return DailyReport{}, mapRepoError("list confirmations for meal", listErr)
		}
		report.Meals = append(report.Meals, summarize(mealType, source, records))
	}
	return report, nil
}

func summarize(mealType domain.MealType, source civil.Date, records []domain.Confirmation) MealReport {
	row := MealReport{MealType: mealType, SourceDate: source, Total: len(records)}
	for _, c := range records {
		switch c.Attendance.Status {
		case domain.AttendanceAttended:
			row.Attended++
		case domain.AttendanceNoShow:
			row.NotAttended++
		default:
			row.Pending++
		}
		row.TotalFines += c.FineApplied
	}
	return row
}

func validateMealRequest(mealType domain.MealType, date civil.Date, notes string) *ValidationError {
	vErr := &ValidationError{}
	if !mealType.Valid() {
		vErr.add("meal_type", "must be one of breakfast, lunch, snacks, dinner")
	}
	if !date.IsValid() {
		vErr.add("date", "must be a valid YYYY-MM-DD date")
	}
	if utf8.RuneCountInString(notes) > maxNotesLength {
		vErr.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	return vErr
}
