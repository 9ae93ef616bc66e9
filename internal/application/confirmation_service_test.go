package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/testfixtures"
)

func TestConfirmationServiceConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	today := testfixtures.ReferenceDate()

	t.Run("uncovered confirmation snapshots the meal cost", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())

		c, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: domain.Lunch, Notes: " veg "})
		if err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		if c.Cost != 4000 {
			t.Fatalf("expected cost 4000, got %d", c.Cost)
		}
		if c.Notes != "veg" {
			t.Fatalf("expected trimmed notes, got %q", c.Notes)
		}
		if c.Attendance.Status != domain.AttendanceUnknown || c.Freeze.Frozen || c.WalkIn {
			t.Fatalf("expected pending unfrozen record, got %+v", c)
		}
	})

	t.Run("stored cost survives a later price change", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())

		before, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: domain.Lunch})
		if err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		if _, err := e.Schedule.UpsertSlot(ctx, application.UpsertSlotParams{
			Principal: admin,
			Input: application.SlotInput{
				MealType:       string(domain.Lunch),
				Start:          "12:00",
				End:            "14:00",
				Cost:           "60.00",
				DeadlineOffset: 4 * time.Hour,
				Active:         true,
			},
		}); err != nil {
			t.Fatalf("UpsertSlot returned error: %v", err)
		}

		stored, err := e.Store.GetConfirmation(ctx, before.ID)
		if err != nil {
			t.Fatalf("GetConfirmation returned error: %v", err)
		}
		if stored.Cost != 4000 {
			t.Fatalf("expected stored cost to stay 4000, got %d", stored.Cost)
		}
		after, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: other, Date: today, MealType: domain.Lunch})
		if err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		if after.Cost != 6000 {
			t.Fatalf("expected new confirmations at the new price 6000, got %d", after.Cost)
		}
	})

		t.Run("covered confirmation costs nothing", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		e.subscribe(t, student.UserID, testfixtures.WithSubscriptionMeals(domain.Lunch))

		c, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: domain.Lunch})
		if err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		if c.Cost != 0 {
			t.Fatalf("expected covered cost 0, got %d", c.Cost)
		}
	})

	t.Run("second confirmation for the same meal is rejected", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		params := application.ConfirmParams{Principal: student, Date: today, MealType: domain.Dinner}
		if _, err := e.Confirmations.Confirm(ctx, params); err != nil {
			t.Fatalf("first Confirm returned error: %v", err)
		}
		if _, err := e.Confirmations.Confirm(ctx, params); !errors.Is(err, application.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("past dates are rejected", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		_, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today.AddDays(-1), MealType: domain.Lunch})
		if !errors.Is(err, application.ErrPastDate) {
			t.Fatalf("expected ErrPastDate, got %v", err)
		}
	})

	t.Run("deadline is inclusive", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.At(today, 8, 0))
		if _, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: domain.Lunch}); err != nil {
			t.Fatalf("expected confirmation exactly at the deadline, got %v", err)
		}

		e.clock.Advance(time.Second)
		_, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: other, Date: today, MealType: domain.Lunch})
		if !errors.Is(err, application.ErrDeadlinePassed) {
			t.Fatalf("expected ErrDeadlinePassed, got %v", err)
		}
	})

	t.Run("inactive meal is not found", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		if _, err := e.Schedule.SetSlotActive(ctx, admin, domain.Snacks, false); err != nil {
			t.Fatalf("SetSlotActive returned error: %v", err)
		}
		_, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: domain.Snacks})
		if !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid input reports field errors", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		_, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Principal: student, Date: today, MealType: "brunch"})
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["meal_type"] == "" {
			t.Fatalf("expected meal_type validation error, got %v", err)
		}
	})

	t.Run("anonymous callers are unauthorized", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		_, err := e.Confirmations.Confirm(ctx, application.ConfirmParams{Date: today, MealType: domain.Lunch})
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestConfirmationServiceBulkConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, testfixtures.At(testfixtures.ReferenceDate(), 12, 30))
	e.subscribe(t, other.UserID)

	results, err := e.Confirmations.BulkConfirm(ctx, application.BulkConfirmParams{
		Principal: staff,
		UserIDs:   []string{student.UserID, other.UserID, "ghost"},
		Date:      testfixtures.ReferenceDate(),
		MealType:  domain.Lunch,
		WalkIn:    true,
	})
	if err != nil {
		t.Fatalf("BulkConfirm returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Confirmation == nil || results[0].Confirmation.Cost != 4000 || !results[0].Confirmation.WalkIn {
		t.Fatalf("expected uncovered walk-in for first user, got %+v", results[0])
	}
	if results[1].Confirmation == nil || results[1].Confirmation.Cost != 0 {
		t.Fatalf("expected covered confirmation for second user, got %+v", results[1])
	}
	if results[2].ErrorKind != "not_found" {
		t.Fatalf("expected not_found for unknown user, got %q", results[2].ErrorKind)
	}

	if _, err := e.Confirmations.BulkConfirm(ctx, application.BulkConfirmParams{Principal: student, UserIDs: []string{other.UserID}, Date: testfixtures.ReferenceDate(), MealType: domain.Lunch}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for students, got %v", err)
	}
}

func TestConfirmationServiceCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	today := testfixtures.ReferenceDate()

	t.Run("cancelling before the deadline is free", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID)

		result, err := e.Confirmations.Cancel(ctx, student, id)
		if err != nil {
			t.Fatalf("Cancel returned error: %v", err)
		}
		if result.Status != application.CancelStatusCancelled || result.Fine != nil {
			t.Fatalf("expected plain cancellation, got %+v", result)
		}
		if _, err := e.Store.GetConfirmation(ctx, id); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected record to be deleted, got %v", err)
		}
	})

	t.Run("late cancellation fines half the meal cost", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.At(today, 9, 0))
		id := e.confirmation(t, student.UserID)

		result, err := e.Confirmations.Cancel(ctx, student, id)
		if err != nil {
			t.Fatalf("Cancel returned error: %v", err)
		}
		if result.Status != application.CancelStatusCancelledWithFine || result.Fine == nil {
			t.Fatalf("expected cancellation with fine, got %+v", result)
		}
		if result.Fine.Amount != 2000 || result.Fine.Type != domain.FineLateCancellation {
			t.Fatalf("expected late cancellation fine of 2000, got %+v", result.Fine)
		}
		if _, err := e.Store.GetConfirmation(ctx, id); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected record to be deleted, got %v", err)
		}
		fines, err := e.Store.ListFinesByUser(ctx, student.UserID)
		if err != nil || len(fines) != 1 {
			t.Fatalf("expected one stored fine, got %v (err=%v)", fines, err)
		}
	})

	t.Run("frozen records cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.At(today, 9, 0))
		id := e.confirmation(t, student.UserID, testfixtures.WithFrozen(application.ReasonAutomaticFreeze))
		if _, err := e.Confirmations.Cancel(ctx, student, id); !errors.Is(err, application.ErrFrozen) {
			t.Fatalf("expected ErrFrozen, got %v", err)
		}
	})

	t.Run("attended records cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID, testfixtures.WithAttendance(domain.AttendanceAttended, staff.UserID))
		if _, err := e.Confirmations.Cancel(ctx, student, id); !errors.Is(err, application.ErrAlreadyAttended) {
			t.Fatalf("expected ErrAlreadyAttended, got %v", err)
		}
	})

	t.Run("past meals cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID, testfixtures.WithMeal(domain.Lunch, today.AddDays(-1)))
		if _, err := e.Confirmations.Cancel(ctx, student, id); !errors.Is(err, application.ErrPastMeal) {
			t.Fatalf("expected ErrPastMeal, got %v", err)
		}
	})

	t.Run("other students may not cancel", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID)
		if _, err := e.Confirmations.Cancel(ctx, other, id); !errors.Is(err, application.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if _, err := e.Confirmations.Cancel(ctx, staff, id); err != nil {
			t.Fatalf("expected staff cancellation to succeed, got %v", err)
		}
	})
}

func TestConfirmationServiceRecordAttendance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("attended records are not overwritten without override", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID)

		c, err := e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: staff, ConfirmationID: id, Attended: true})
		if err != nil {
			t.Fatalf("RecordAttendance returned error: %v", err)
		}
		if !c.Attendance.Attended() || c.Attendance.By != staff.UserID || c.Attendance.Method != domain.MethodManual {
			t.Fatalf("unexpected attendance %+v", c.Attendance)
		}

		_, err = e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: staff, ConfirmationID: id, Attended: false})
		if !errors.Is(err, application.ErrAlreadyAttended) {
			t.Fatalf("expected ErrAlreadyAttended, got %v", err)
		}

		c, err = e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: hod, ConfirmationID: id, Attended: false, Override: true})
		if err != nil {
			t.Fatalf("override returned error: %v", err)
		}
		if c.Attendance.Status != domain.AttendanceNoShow {
			t.Fatalf("expected override to record no-show, got %s", c.Attendance.Status)
		}
	})

	t.Run("no-show with an amount issues a fine", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID)

		c, err := e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: staff, ConfirmationID: id, FineApplied: 1500})
		if err != nil {
			t.Fatalf("RecordAttendance returned error: %v", err)
		}
		if c.FineApplied != 1500 {
			t.Fatalf("expected fine applied 1500, got %d", c.FineApplied)
		}
		fines, _ := e.Store.ListFinesByUser(ctx, student.UserID)
		if len(fines) != 1 || fines[0].Type != domain.FineNoShow || fines[0].ConfirmationID != id {
			t.Fatalf("expected one linked no-show fine, got %+v", fines)
		}
	})

	t.Run("students may not record attendance", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		id := e.confirmation(t, student.UserID)
		if _, err := e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: student, ConfirmationID: id, Attended: true}); !errors.Is(err, application.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("unknown confirmation is not found", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		if _, err := e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: staff, ConfirmationID: "missing", Attended: true}); !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConfirmationServiceFreezeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, testfixtures.At(testfixtures.ReferenceDate(), 9, 0))
	e.confirmation(t, student.UserID)
	e.confirmation(t, other.UserID)

	n, err := e.Confirmations.Freeze(ctx, domain.Lunch, testfixtures.ReferenceDate(), application.ReasonAutomaticFreeze, "system")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 frozen records, got %d (err=%v)", n, err)
	}
	n, err = e.Confirmations.Freeze(ctx, domain.Lunch, testfixtures.ReferenceDate(), application.ReasonAutomaticFreeze, "system")
	if err != nil || n != 0 {
		t.Fatalf("expected second freeze to change nothing, got %d (err=%v)", n, err)
	}

	list, err := e.Confirmations.List(ctx, application.ListConfirmationsParams{Principal: student})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected the student's own record, got %v (err=%v)", list, err)
	}
	if !list[0].Freeze.Frozen || list[0].Freeze.Reason != application.ReasonAutomaticFreeze {
		t.Fatalf("expected frozen record, got %+v", list[0].Freeze)
	}

	if _, err := e.Confirmations.FreezeMeal(ctx, student, domain.Lunch, testfixtures.ReferenceDate(), ""); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for manual freeze by a student, got %v", err)
	}
}

func TestConfirmationServiceList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, testfixtures.ReferenceTime())
	e.confirmation(t, student.UserID)
	e.confirmation(t, other.UserID)

	if _, err := e.Confirmations.List(ctx, application.ListConfirmationsParams{Principal: student, UserID: other.UserID}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	all, err := e.Confirmations.List(ctx, application.ListConfirmationsParams{Principal: staff})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected staff to see both records, got %d (err=%v)", len(all), err)
	}
}

func TestConfirmationServiceDailyReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	today := testfixtures.ReferenceDate()

	seed := func(t *testing.T, e *env) {
		t.Helper()
		e.confirmation(t, student.UserID, testfixtures.WithMeal(domain.Breakfast, today))
		e.confirmation(t, student.UserID, testfixtures.WithMeal(domain.Breakfast, today.AddDays(1)))
		e.confirmation(t, other.UserID, testfixtures.WithMeal(domain.Breakfast, today.AddDays(1)))
		e.confirmation(t, student.UserID, testfixtures.WithMeal(domain.Lunch, today), testfixtures.WithAttendance(domain.AttendanceAttended, staff.UserID))
		id := e.confirmation(t, other.UserID, testfixtures.WithMeal(domain.Lunch, today))
		if _, err := e.Confirmations.RecordAttendance(ctx, application.RecordAttendanceParams{Principal: staff, ConfirmationID: id, FineApplied: 500}); err != nil {
			t.Fatalf("RecordAttendance returned error: %v", err)
		}
	}

	t.Run("before the last meal starts breakfast reports today", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.At(today, 19, 0))
		seed(t, e)

		report, err := e.Confirmations.DailyReport(ctx, staff, today)
		if err != nil {
			t.Fatalf("DailyReport returned error: %v", err)
		}
		if len(report.Meals) != 4 {
			t.Fatalf("expected four meal rows, got %d", len(report.Meals))
		}
		breakfast := report.Meals[0]
		if breakfast.SourceDate != today || breakfast.Total != 1 {
			t.Fatalf("expected today's single breakfast, got %+v", breakfast)
		}
		lunch := report.Meals[1]
		if lunch.Total != 2 || lunch.Attended != 1 || lunch.NotAttended != 1 || lunch.Pending != 0 || lunch.TotalFines != 500 {
			t.Fatalf("unexpected lunch row %+v", lunch)
		}
	})

	t.Run("after the last meal starts breakfast rolls over to tomorrow", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.At(today, 19, 31))
		seed(t, e)

		report, err := e.Confirmations.DailyReport(ctx, staff, today)
		if err != nil {
			t.Fatalf("DailyReport returned error: %v", err)
		}
		breakfast := report.Meals[0]
		if breakfast.SourceDate != today.AddDays(1) || breakfast.Total != 2 || breakfast.Pending != 2 {
			t.Fatalf("expected tomorrow's breakfast, got %+v", breakfast)
		}
		if report.Meals[1].SourceDate != today {
			t.Fatalf("expected lunch to stay on the requested date")
		}
	})

	t.Run("students cannot read reports", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, testfixtures.ReferenceTime())
		if _, err := e.Confirmations.DailyReport(ctx, student, today); !errors.Is(err, application.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}
