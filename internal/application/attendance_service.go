package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/mealtime"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/qrtoken"
)

// DefaultBookingGrace extends a booking code past the end of its last meal.
const DefaultBookingGrace = 30 * time.Minute

// AttendanceDeps are the collaborators of AttendanceService.
type AttendanceDeps struct {
	Signer        *qrtoken.Signer
	Schedule      SlotSource
	Coverage      CoverageChecker
	Confirmations persistence.ConfirmationRepository
	Bookings      persistence.BookingRepository
	Users         persistence.UserRepository
	BookingGrace  time.Duration
}

// AttendanceService issues QR codes and records attendance from scans.
type AttendanceService struct {
	signer        *qrtoken.Signer
	schedule      SlotSource
	coverage      CoverageChecker
	confirmations persistence.ConfirmationRepository
	bookings      persistence.BookingRepository
	users         persistence.UserRepository
	bookingGrace  time.Duration
	rt            Runtime
	engine        *mealtime.Engine
}

// NewAttendanceService constructs the service.
func NewAttendanceService(deps AttendanceDeps, rt Runtime) *AttendanceService {
	rt = rt.withDefaults()
	grace := deps.BookingGrace
	if grace <= 0 {
		grace = DefaultBookingGrace
	}
	return &AttendanceService{
		signer:        deps.Signer,
		schedule:      deps.Schedule,
		coverage:      deps.Coverage,
		confirmations: deps.Confirmations,
		bookings:      deps.Bookings,
		users:         deps.Users,
		bookingGrace:  grace,
		rt:            rt,
		engine:        rt.engine(),
	}
}

func (s *AttendanceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "AttendanceService", operation, attrs...)
}

// IssueProfileQR returns the principal's rotating profile code. The code is
// bound to the current rotation window and should be refreshed once the next
// window opens.
func (s *AttendanceService) IssueProfileQR(ctx context.Context, principal Principal) (IssuedQR, error) {
	if principal.UserID == "" {
		return IssuedQR{}, ErrUnauthorized
	}
	if err := s.users.UpsertUser(ctx, principal.UserID, principal.Role); err != nil {
		return IssuedQR{}, mapRepoError("upsert user", err)
	}

	now := s.rt.now()
	window := s.signer.Window(now)
	code, err := s.signer.Issue(qrtoken.Payload{
		Subject: principal.UserID,
		Kind:    qrtoken.KindProfile,
		Window:  window,
	}, time.Time{})
	if err != nil {
		return IssuedQR{}, err
	}
	start := s.signer.WindowStart(window)
	return IssuedQR{
		Code:         code,
		Kind:         qrtoken.KindProfile,
		ExpiresAt:    start.Add(s.signer.WindowTTL()),
		RefreshAfter: s.signer.WindowStart(window + 1),
	}, nil
}

// IssueBookingQR returns a code for a booking that stays valid until the end
// of its last booked meal plus a grace period.
func (s *AttendanceService) IssueBookingQR(ctx context.Context, principal Principal, bookingID string) (issued IssuedQR, err error) {
	logger := s.loggerWith(ctx, "IssueBookingQR", "principal_id", principal.UserID, "booking_id", bookingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to issue booking code", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	var booking domain.Booking
	booking, err = s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		err = mapRepoError("get booking", err)
		return
	}
	if booking.HostUserID != principal.UserID && !principal.IsStaff() {
		err = ErrForbidden
		return
	}

	var slots []domain.MealSlot
	slots, err = s.schedule.ActiveSlots(ctx)
	if err != nil {
		return
	}
	expiresAt := s.bookingExpiry(booking, slots)
	now := s.rt.now()
	if !expiresAt.After(now) {
		vErr := &ValidationError{}
		vErr.add("booking_id", "booking has already been served")
		err = vErr
		return
	}

	var code string
	code, err = s.signer.Issue(qrtoken.Payload{
		Subject: booking.ID,
		Kind:    qrtoken.KindBooking,
		Window:  s.signer.Window(now),
	}, expiresAt)
	if err != nil {
		return
	}
	return IssuedQR{Code: code, Kind: qrtoken.KindBooking, ExpiresAt: expiresAt, RefreshAfter: expiresAt}, nil
}

func (s *AttendanceService) bookingExpiry(booking domain.Booking, slots []domain.MealSlot) time.Time {
	var latest time.Time
	for _, slot := range slots {
		if _, ok := booking.Meal(slot.MealType); !ok {
			continue
		}
		end := s.engine.At(booking.Date, slot.End)
		if end.After(latest) {
			latest = end
		}
	}
	if latest.IsZero() {
		latest = s.engine.At(booking.Date.AddDays(1), civil.Time{})
	}
	return latest.Add(s.bookingGrace)
}

// Scan verifies a code presented at the counter and records attendance for
// the meal currently being served.
func (s *AttendanceService) Scan(ctx context.Context, principal Principal, code string) (result ScanResult, err error) {
	logger := s.loggerWith(ctx, "Scan", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "scan rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "scan recorded",
			"kind", result.Kind,
			"meal_type", result.MealType,
			"user_id", result.UserID,
			"booking_id", result.BookingID,
			"walk_in", result.WalkIn,
		)
	}()

	if !principal.CanScan() {
		err = ErrForbidden
		return
	}

	now := s.rt.now()
	claims, verifyErr := s.signer.Verify(code, now)
	if verifyErr != nil {
		logger.DebugContext(ctx, "code verification failed", "reason", verifyErr)
		err = ErrInvalidQR
		return
	}

	var slots []domain.MealSlot
	slots, err = s.schedule.ActiveSlots(ctx)
	if err != nil {
		return
	}
	window, resolveErr := s.engine.Resolve(slots, now)
	if resolveErr != nil || window.Active == nil {
		err = ErrNoActiveMealWindow
		return
	}

	result = ScanResult{
		Kind:      claims.Kind,
		MealType:  window.Active.MealType,
		Date:      civil.DateOf(now.In(s.rt.Location)),
		ScannedAt: now,
	}
	switch claims.Kind {
	case qrtoken.KindProfile:
		result.UserID = claims.Subject
		err = s.scanProfile(ctx, principal, &result)
	case qrtoken.KindBooking:
		result.BookingID = claims.Subject
		err = s.scanBooking(ctx, principal, &result)
	default:
		err = ErrInvalidQR
	}
	return
}

func (s *AttendanceService) scanProfile(ctx context.Context, principal Principal, result *ScanResult) error {
	attendance := domain.Attendance{
		Status: domain.AttendanceAttended,
		At:     result.ScannedAt,
		By:     principal.UserID,
		Method: domain.MethodQRCode,
	}

	coverage, err := s.coverage.CheckCoverage(ctx, result.UserID, result.MealType, result.Date)
	if err != nil {
		return err
	}
	if !coverage.Covered {
		return ErrNoActiveSubscription
	}

	existing, err := s.confirmations.FindConfirmation(ctx, result.UserID, result.Date, result.MealType)
	switch {
	case err == nil:
		if existing.Attendance.Attended() {
			return ErrAlreadyAttended
		}
		updated, err := s.confirmations.RecordAttendance(ctx, persistence.AttendanceUpdate{
			ConfirmationID: existing.ID,
			Attendance:     attendance,
			FineApplied:    existing.FineApplied,
		})
		if errors.Is(err, persistence.ErrConflict) {
			return ErrAlreadyAttended
		}
		if err != nil {
			return mapRepoError("record attendance", err)
		}
		result.ConfirmationID = updated.ID
		return nil
	case !errors.Is(err, persistence.ErrNotFound):
		return mapRepoError("find confirmation", err)
	}

	walkIn := domain.Confirmation{
		ID:         s.rt.IDGenerator(),
		UserID:     result.UserID,
		Date:       result.Date,
		MealType:   result.MealType,
		Notes:      domain.WalkInNote,
		WalkIn:     true,
		CreatedAt:  result.ScannedAt,
		Attendance: attendance,
	}
	err = s.confirmations.CreateConfirmation(ctx, walkIn)
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyAttended
	}
	if err != nil {
		return mapRepoError("create walk-in confirmation", err)
	}
	result.ConfirmationID = walkIn.ID
	result.WalkIn = true
	return nil
}

func (s *AttendanceService) scanBooking(ctx context.Context, principal Principal, result *ScanResult) error {
	booking, err := s.bookings.GetBooking(ctx, result.BookingID)
	if err != nil {
		return mapRepoError("get booking", err)
	}
	if booking.Date != result.Date {
		return ErrMealNotBooked
	}
	meal, ok := booking.Meal(result.MealType)
	if !ok {
		return ErrMealNotBooked
	}
	if meal.Attended {
		return ErrAlreadyAttended
	}
	result.UserID = booking.HostUserID

	err = s.bookings.MarkBookingMealAttended(ctx, persistence.BookingAttendance{
		BookingID: booking.ID,
		MealType:  result.MealType,
		ScannedBy: principal.UserID,
	}, result.ScannedAt)
	switch {
	case errors.Is(err, persistence.ErrConflict):
		return ErrAlreadyAttended
	case errors.Is(err, persistence.ErrNotFound):
		return ErrMealNotBooked
	case err != nil:
		return mapRepoError("mark booking meal attended", err)
	}
	return nil
}
