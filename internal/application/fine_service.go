package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
)

// DefaultOffenseThreshold is the number of free offenses per month.
const DefaultOffenseThreshold = 3

// FineDeps are the collaborators of FineService.
type FineDeps struct {
	Fines         persistence.FineRepository
	Confirmations persistence.ConfirmationRepository
	Users         persistence.UserRepository
	Ledger        persistence.AssessmentLedger
	Schedule      SlotSource
	Threshold     int
}

// FineService assesses offense fines after each meal and settles fines.
type FineService struct {
	fines         persistence.FineRepository
	confirmations persistence.ConfirmationRepository
	users         persistence.UserRepository
	ledger        persistence.AssessmentLedger
	schedule      SlotSource
	threshold     int
	rt            Runtime
}

// NewFineService constructs the service.
func NewFineService(deps FineDeps, rt Runtime) *FineService {
	threshold := deps.Threshold
	if threshold <= 0 {
		threshold = DefaultOffenseThreshold
	}
	return &FineService{
		fines:         deps.Fines,
		confirmations: deps.Confirmations,
		users:         deps.Users,
		ledger:        deps.Ledger,
		schedule:      deps.Schedule,
		threshold:     threshold,
		rt:            rt.withDefaults(),
	}
}

func (s *FineService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.rt.Logger, "FineService", operation, attrs...)
}

// Threshold returns the number of offenses tolerated each month.
func (s *FineService) Threshold() int { return s.threshold }

// AssessMeal counts offenses for every student record of mealType on date and
// fines students past the monthly threshold. Each (meal type, date) pair is
// assessed at most once; later calls report Skipped. Per record failures are
// logged and counted without aborting the run.
func (s *FineService) AssessMeal(ctx context.Context, mealType domain.MealType, date civil.Date) (result AssessmentResult, err error) {
	result = AssessmentResult{MealType: mealType, Date: date}
	logger := s.loggerWith(ctx, "AssessMeal", "meal_type", mealType, "date", date.String())
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "fine assessment failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "fine assessment finished",
			"skipped", result.Skipped,
			"evaluated", result.Evaluated,
			"violations", result.Violations,
			"fines_issued", result.FinesIssued,
			"failures", result.Failures,
		)
	}()

	now := s.rt.now()
	var cost domain.Money
	slot, slotErr := s.schedule.Slot(ctx, mealType)
	switch {
	case slotErr == nil:
		cost = slot.Cost
	case errors.Is(slotErr, ErrNotFound):
		logger.WarnContext(ctx, "meal slot inactive, offenses counted without fines")
	default:
		err = slotErr
		return
	}

	records, err := s.confirmations.ListConfirmationsForMeal(ctx, mealType, date)
	if err != nil {
		err = mapRepoError("list confirmations for meal", err)
		return
	}

	// The claim is taken only once the inputs are loaded so a failed read
	// leaves the run open for a retry.
	claimed, err := s.ledger.ClaimAssessment(ctx, mealType, date, now)
	if err != nil {
		err = mapRepoError("claim assessment", err)
		return
	}
	if !claimed {
		result.Skipped = true
		return
	}

	monthKey := clock.MonthKey(now, s.rt.Location)
	for _, c := range records {
		result.Evaluated++
		issued, violation, assessErr := s.assessRecord(ctx, c, monthKey, cost)
		if violation {
			result.Violations++
		}
		if issued {
			result.FinesIssued++
		}
		if assessErr != nil {
			result.Failures++
			logger.WarnContext(ctx, "record assessment failed",
				"confirmation_id", c.ID,
				"user_id", c.UserID,
				"error", assessErr,
			)
		}
	}
	return result, nil
}

func (s *FineService) assessRecord(ctx context.Context, c domain.Confirmation, monthKey string, cost domain.Money) (issued, violation bool, err error) {
	user, err := s.users.GetUser(ctx, c.UserID)
	if err != nil {
		return false, false, err
	}
	if user.Role != domain.RoleStudent {
		return false, false, nil
	}
	if c.Attendance.Attended() && !c.WalkIn {
		return false, false, nil
	}

	count, err := s.users.IncrementOffense(ctx, c.UserID, monthKey)
	if err != nil {
		return false, true, err
	}
	if count <= s.threshold || cost <= 0 {
		return false, true, nil
	}

	fine := domain.Fine{
		ID:             s.rt.IDGenerator(),
		UserID:         c.UserID,
		Type:           domain.FineMultipleOffense,
		Amount:         cost,
		Reason:         fmt.Sprintf("offense %d in %s exceeds the monthly limit of %d", count, monthKey, s.threshold),
		ConfirmationID: c.ID,
		CreatedAt:      s.rt.now(),
	}
	if err := s.fines.CreateFine(ctx, fine); err != nil {
		return false, true, err
	}
	if err := s.confirmations.SetFineApplied(ctx, c.ID, c.FineApplied+cost); err != nil {
		return true, true, err
	}
	return true, true, nil
}

// ListForUser returns a user's fines in creation order.
func (s *FineService) ListForUser(ctx context.Context, principal Principal, userID string) ([]domain.Fine, error) {
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = principal.UserID
	}
	if userID != principal.UserID && !principal.IsStaff() {
		return nil, ErrForbidden
	}
	fines, err := s.fines.ListFinesByUser(ctx, userID)
	if err != nil {
		return nil, mapRepoError("list fines", err)
	}
	return fines, nil
}

// Pay records settlement of a fine by its owner or by staff.
func (s *FineService) Pay(ctx context.Context, params PayFineParams) (fine domain.Fine, err error) {
	logger := s.loggerWith(ctx, "Pay", "principal_id", params.Principal.UserID, "fine_id", params.FineID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to pay fine", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "fine paid", "amount", fine.Amount.String())
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	fine, err = s.fines.GetFine(ctx, params.FineID)
	if err != nil {
		err = mapRepoError("get fine", err)
		return
	}
	if fine.UserID != params.Principal.UserID && !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}
	if err = settledError(fine); err != nil {
		return
	}

	fine, err = s.fines.MarkFinePaid(ctx, params.FineID, domain.Payment{
		Paid:      true,
		Reference: strings.TrimSpace(params.Reference),
		At:        s.rt.now(),
	})
	if err != nil {
		err = s.settleError(ctx, "mark fine paid", params.FineID, err)
	}
	return
}

// Waive forgives a fine. Only staff may waive and a reason is required.
func (s *FineService) Waive(ctx context.Context, params WaiveFineParams) (fine domain.Fine, err error) {
	logger := s.loggerWith(ctx, "Waive", "principal_id", params.Principal.UserID, "fine_id", params.FineID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to waive fine", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "fine waived", "amount", fine.Amount.String())
	}()

	if !params.Principal.IsStaff() {
		err = ErrForbidden
		return
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		vErr := &ValidationError{}
		vErr.add("reason", "must not be empty")
		err = vErr
		return
	}
	fine, err = s.fines.MarkFineWaived(ctx, params.FineID, domain.Waiver{
		Waived: true,
		By:     params.Principal.UserID,
		Reason: reason,
		At:     s.rt.now(),
	})
	if err != nil {
		err = s.settleError(ctx, "mark fine waived", params.FineID, err)
	}
	return
}

func (s *FineService) settleError(ctx context.Context, op, id string, err error) error {
	if !errors.Is(err, persistence.ErrConflict) {
		return mapRepoError(op, err)
	}
	current, getErr := s.fines.GetFine(ctx, id)
	if getErr != nil {
		return mapRepoError(op, getErr)
	}
	if settled := settledError(current); settled != nil {
		return settled
	}
	return &StorageError{Op: op, Err: err}
}

func settledError(fine domain.Fine) error {
	switch {
	case fine.Payment.Paid:
		return ErrAlreadyPaid
	case fine.Waiver.Waived:
		return ErrAlreadyWaived
	}
	return nil
}
