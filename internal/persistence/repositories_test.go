package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/testfixtures"
)

// forEachStore runs fn against every store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store persistence.Store)) {
	t.Helper()
	for _, h := range testfixtures.Harnesses() {
		h := h
		t.Run(h.Name, func(t *testing.T) {
			t.Parallel()
			fn(t, h.Open(t))
		})
	}
}

func TestMealSlotRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		lunch := testfixtures.NewSlot(domain.Lunch, "12:00", "14:00", testfixtures.WithSlotCost(4550), testfixtures.WithSlotOffset(270*time.Minute))
		testfixtures.SeedSlots(t, store, lunch)

		got, err := store.GetMealSlot(ctx, domain.Lunch)
		if err != nil {
			t.Fatalf("GetMealSlot failed: %v", err)
		}
		if got.Start != lunch.Start || got.End != lunch.End || got.Cost != 4550 || got.DeadlineOffset != 270*time.Minute || !got.Active {
			t.Fatalf("unexpected slot %#v", got)
		}

		lunch.Active = false
		lunch.Cost = 5000
		if err := store.UpsertMealSlot(ctx, lunch); err != nil {
			t.Fatalf("UpsertMealSlot update failed: %v", err)
		}
		slots, err := store.ListMealSlots(ctx)
		if err != nil || len(slots) != 1 || slots[0].Active || slots[0].Cost != 5000 {
			t.Fatalf("expected single updated slot, got %#v (err=%v)", slots, err)
		}

		if _, err := store.GetMealSlot(ctx, domain.Dinner); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		bad := testfixtures.NewSlot(domain.Dinner, "21:00", "20:00")
		if err := store.UpsertMealSlot(ctx, bad); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for inverted window, got %v", err)
		}
	})
}

func TestConfirmationRepository(t *testing.T) {
	t.Parallel()

	t.Run("enforces one record per user, date and meal", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")

			c := testfixtures.NewConfirmation("u1")
			if err := store.CreateConfirmation(ctx, c); err != nil {
				t.Fatalf("CreateConfirmation failed: %v", err)
			}
			dup := testfixtures.NewConfirmation("u1")
			if err := store.CreateConfirmation(ctx, dup); !errors.Is(err, persistence.ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			found, err := store.FindConfirmation(ctx, "u1", c.Date, c.MealType)
			if err != nil || found.ID != c.ID {
				t.Fatalf("expected to find %s, got %#v (err=%v)", c.ID, found, err)
			}
			if found.Cost != c.Cost || found.Attendance.Status != domain.AttendanceUnknown || !found.CreatedAt.Equal(c.CreatedAt) {
				t.Fatalf("unexpected round trip %#v", found)
			}
		})
	})

	t.Run("rejects records for unknown users", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			err := store.CreateConfirmation(context.Background(), testfixtures.NewConfirmation("ghost"))
			if !errors.Is(err, persistence.ErrConstraintViolation) {
				t.Fatalf("expected ErrConstraintViolation, got %v", err)
			}
		})
	})

	t.Run("parallel creates for the same triple admit exactly one", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")

			const workers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				dupes     int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.CreateConfirmation(ctx, testfixtures.NewConfirmation("u1"))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, persistence.ErrDuplicate):
						dupes++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			if succeeded != 1 || dupes != workers-1 {
				t.Fatalf("expected 1 success and %d duplicates, got %d and %d", workers-1, succeeded, dupes)
			}
		})
	})

	t.Run("attendance is conditional unless overridden", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")
			c := testfixtures.NewConfirmation("u1")
			if err := store.CreateConfirmation(ctx, c); err != nil {
				t.Fatalf("CreateConfirmation failed: %v", err)
			}

			at := testfixtures.ReferenceTime().Add(6 * time.Hour)
			attended := domain.Attendance{Status: domain.AttendanceAttended, At: at, By: "staff", Method: domain.MethodQRCode}
			updated, err := store.RecordAttendance(ctx, persistence.AttendanceUpdate{ConfirmationID: c.ID, Attendance: attended})
			if err != nil {
				t.Fatalf("RecordAttendance failed: %v", err)
			}
			if !updated.Attendance.Attended() || !updated.Attendance.At.Equal(at) || updated.Attendance.Method != domain.MethodQRCode {
				t.Fatalf("unexpected attendance %#v", updated.Attendance)
			}

			noShow := domain.Attendance{Status: domain.AttendanceNoShow, At: at, By: "hod", Method: domain.MethodManual}
			if _, err := store.RecordAttendance(ctx, persistence.AttendanceUpdate{ConfirmationID: c.ID, Attendance: noShow}); !errors.Is(err, persistence.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
			updated, err = store.RecordAttendance(ctx, persistence.AttendanceUpdate{ConfirmationID: c.ID, Attendance: noShow, FineApplied: 700, Override: true})
			if err != nil {
				t.Fatalf("override failed: %v", err)
			}
			if updated.Attendance.Status != domain.AttendanceNoShow || updated.FineApplied != 700 {
				t.Fatalf("unexpected override result %#v", updated)
			}

			if _, err := store.RecordAttendance(ctx, persistence.AttendanceUpdate{ConfirmationID: "missing", Attendance: attended}); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("freeze is one-way and blocks deletion", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1", "u2")
			first := testfixtures.NewConfirmation("u1")
			second := testfixtures.NewConfirmation("u2")
			other := testfixtures.NewConfirmation("u1", testfixtures.WithMeal(domain.Dinner, testfixtures.ReferenceDate()))
			for _, c := range []domain.Confirmation{first, second, other} {
				if err := store.CreateConfirmation(ctx, c); err != nil {
					t.Fatalf("CreateConfirmation failed: %v", err)
				}
			}

			mark := domain.FreezeMark{Frozen: true, At: testfixtures.ReferenceTime(), Reason: "automatic_deadline_freeze", By: "system"}
			n, err := store.FreezeConfirmations(ctx, domain.Lunch, testfixtures.ReferenceDate(), mark)
			if err != nil || n != 2 {
				t.Fatalf("expected 2 frozen, got %d (err=%v)", n, err)
			}
			if n, _ := store.FreezeConfirmations(ctx, domain.Lunch, testfixtures.ReferenceDate(), mark); n != 0 {
				t.Fatalf("expected repeated freeze to change nothing, got %d", n)
			}

			frozen, _ := store.GetConfirmation(ctx, first.ID)
			if !frozen.Freeze.Frozen || frozen.Freeze.Reason != mark.Reason || frozen.Freeze.By != "system" {
				t.Fatalf("unexpected freeze mark %#v", frozen.Freeze)
			}
			if err := store.DeleteConfirmation(ctx, first.ID); !errors.Is(err, persistence.ErrConflict) {
				t.Fatalf("expected ErrConflict deleting a frozen record, got %v", err)
			}
			if err := store.DeleteConfirmation(ctx, other.ID); err != nil {
				t.Fatalf("expected unfrozen dinner to be deletable, got %v", err)
			}
			if err := store.DeleteConfirmation(ctx, other.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after deletion, got %v", err)
			}
		})
	})

	t.Run("cancellation and its fine are written together", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")
			lunch := testfixtures.NewConfirmation("u1", testfixtures.WithMeal(domain.Lunch, testfixtures.ReferenceDate()))
			dinner := testfixtures.NewConfirmation("u1", testfixtures.WithMeal(domain.Dinner, testfixtures.ReferenceDate()))
			for _, c := range []domain.Confirmation{lunch, dinner} {
				if err := store.CreateConfirmation(ctx, c); err != nil {
					t.Fatalf("CreateConfirmation failed: %v", err)
				}
			}
			existing := testfixtures.NewFine("u1", 2000)
			if err := store.CreateFine(ctx, existing); err != nil {
				t.Fatalf("CreateFine failed: %v", err)
			}

			clash := existing
			clash.ConfirmationID = lunch.ID
			if err := store.CancelConfirmation(ctx, lunch.ID, &clash); !errors.Is(err, persistence.ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate for a clashing fine, got %v", err)
			}
			if _, err := store.GetConfirmation(ctx, lunch.ID); err != nil {
				t.Fatalf("expected the confirmation to survive a rejected fine, got %v", err)
			}

			fine := testfixtures.NewFine("u1", 2000)
			fine.ConfirmationID = dinner.ID
			if err := store.CancelConfirmation(ctx, dinner.ID, &fine); err != nil {
				t.Fatalf("CancelConfirmation failed: %v", err)
			}
			if _, err := store.GetConfirmation(ctx, dinner.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected dinner to be removed, got %v", err)
			}
			fines, err := store.ListFinesByUser(ctx, "u1")
			if err != nil || len(fines) != 2 {
				t.Fatalf("expected two fines, got %d (err=%v)", len(fines), err)
			}
		})
	})

		t.Run("lists by filter in date, meal and user order", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			day := testfixtures.ReferenceDate()
			testfixtures.SeedUsers(t, store, domain.RoleStudent, "a", "b")
			for _, c := range []domain.Confirmation{
				testfixtures.NewConfirmation("b", testfixtures.WithMeal(domain.Lunch, day.AddDays(1))),
				testfixtures.NewConfirmation("a", testfixtures.WithMeal(domain.Lunch, day.AddDays(1))),
				testfixtures.NewConfirmation("a", testfixtures.WithMeal(domain.Dinner, day)),
				testfixtures.NewConfirmation("a", testfixtures.WithMeal(domain.Lunch, day.AddDays(5))),
			} {
				if err := store.CreateConfirmation(ctx, c); err != nil {
					t.Fatalf("CreateConfirmation failed: %v", err)
				}
			}

			list, err := store.ListConfirmations(ctx, persistence.ConfirmationFilter{From: day, To: day.AddDays(1)})
			if err != nil {
				t.Fatalf("ListConfirmations failed: %v", err)
			}
			if len(list) != 3 || list[0].MealType != domain.Dinner || list[1].UserID != "a" || list[2].UserID != "b" {
				t.Fatalf("unexpected ordering %#v", list)
			}

			mine, _ := store.ListConfirmations(ctx, persistence.ConfirmationFilter{UserID: "a", MealType: domain.Lunch})
			if len(mine) != 2 {
				t.Fatalf("expected two lunches for a, got %d", len(mine))
			}

			meal, _ := store.ListConfirmationsForMeal(ctx, domain.Lunch, day.AddDays(1))
			if len(meal) != 2 {
				t.Fatalf("expected two lunch records, got %d", len(meal))
			}
		})
	})
}

func TestSubscriptionRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")

		sub := testfixtures.NewSubscription("u1", testfixtures.WithSubscriptionMeals(domain.Lunch, domain.Dinner))
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription failed: %v", err)
		}
		if err := store.CreateSubscription(ctx, testfixtures.NewSubscription("u1")); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate for second active subscription, got %v", err)
		}

		active, err := store.FindActiveSubscription(ctx, "u1")
		if err != nil {
			t.Fatalf("FindActiveSubscription failed: %v", err)
		}
		if active.ID != sub.ID || len(active.MealTypes) != 2 || active.MealTypes[1] != domain.Dinner || active.EndDate != sub.EndDate {
			t.Fatalf("unexpected subscription %#v", active)
		}

		n, err := store.ExpireSubscriptions(ctx, sub.EndDate, testfixtures.ReferenceTime())
		if err != nil || n != 0 {
			t.Fatalf("expected nothing to expire on the end date, got %d (err=%v)", n, err)
		}
		n, err = store.ExpireSubscriptions(ctx, sub.EndDate.AddDays(1), testfixtures.ReferenceTime())
		if err != nil || n != 1 {
			t.Fatalf("expected one expiry, got %d (err=%v)", n, err)
		}
		if _, err := store.FindActiveSubscription(ctx, "u1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected no active subscription, got %v", err)
		}

		replacement := testfixtures.NewSubscription("u1")
		if err := store.CreateSubscription(ctx, replacement); err != nil {
			t.Fatalf("expected new active subscription after expiry, got %v", err)
		}
		expired, _ := store.GetSubscription(ctx, sub.ID)
		expired.Status = domain.SubscriptionActive
		if err := store.UpdateSubscription(ctx, expired); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate reactivating alongside another active subscription, got %v", err)
		}
	})
}

func TestFineRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")

		fine := testfixtures.NewFine("u1", 2000)
		if err := store.CreateFine(ctx, fine); err != nil {
			t.Fatalf("CreateFine failed: %v", err)
		}
		if err := store.CreateFine(ctx, testfixtures.NewFine("u1", 0)); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation for a zero fine, got %v", err)
		}

		paid, err := store.MarkFinePaid(ctx, fine.ID, domain.Payment{Paid: true, Reference: "ref-1", At: testfixtures.ReferenceTime()})
		if err != nil {
			t.Fatalf("MarkFinePaid failed: %v", err)
		}
		if !paid.Payment.Paid || paid.Payment.Reference != "ref-1" {
			t.Fatalf("unexpected payment %#v", paid.Payment)
		}
		if _, err := store.MarkFineWaived(ctx, fine.ID, domain.Waiver{Waived: true, By: "hod", Reason: "late"}); !errors.Is(err, persistence.ErrConflict) {
			t.Fatalf("expected ErrConflict waiving a paid fine, got %v", err)
		}
		if _, err := store.MarkFinePaid(ctx, "missing", domain.Payment{Paid: true}); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		fines, err := store.ListFinesByUser(ctx, "u1")
		if err != nil || len(fines) != 1 || fines[0].ID != fine.ID {
			t.Fatalf("expected the single fine, got %#v (err=%v)", fines, err)
		}
	})
}

func TestUserRepositoryOffenseCounter(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		testfixtures.SeedUsers(t, store, domain.RoleStudent, "u1")

		for want := 1; want <= 3; want++ {
			got, err := store.IncrementOffense(ctx, "u1", "2025-03")
			if err != nil || got != want {
				t.Fatalf("expected count %d, got %d (err=%v)", want, got, err)
			}
		}
		got, err := store.IncrementOffense(ctx, "u1", "2025-04")
		if err != nil || got != 1 {
			t.Fatalf("expected a new month to restart at 1, got %d (err=%v)", got, err)
		}
		user, err := store.GetUser(ctx, "u1")
		if err != nil || user.Offense.Month != "2025-04" || user.Offense.Count != 1 {
			t.Fatalf("unexpected counter %#v (err=%v)", user.Offense, err)
		}

		if _, err := store.IncrementOffense(ctx, "ghost", "2025-03"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := store.UpsertUser(ctx, "u1", domain.RoleEmployee); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
		user, _ = store.GetUser(ctx, "u1")
		if user.Role != domain.RoleEmployee || user.Offense.Count != 1 {
			t.Fatalf("expected role change to keep the counter, got %#v", user)
		}
	})
}

func TestBookingRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		testfixtures.SeedUsers(t, store, domain.RoleEmployee, "host")

		booking := testfixtures.NewBooking("host", testfixtures.ReferenceDate(), domain.Lunch, domain.Dinner)
		if err := store.CreateBooking(ctx, booking); err != nil {
			t.Fatalf("CreateBooking failed: %v", err)
		}

		mark := persistence.BookingAttendance{BookingID: booking.ID, MealType: domain.Lunch, ScannedBy: "staff"}
		if err := store.MarkBookingMealAttended(ctx, mark, testfixtures.ReferenceTime()); err != nil {
			t.Fatalf("MarkBookingMealAttended failed: %v", err)
		}
		if err := store.MarkBookingMealAttended(ctx, mark, testfixtures.ReferenceTime()); !errors.Is(err, persistence.ErrConflict) {
			t.Fatalf("expected ErrConflict on second scan, got %v", err)
		}
		mark.MealType = domain.Breakfast
		if err := store.MarkBookingMealAttended(ctx, mark, testfixtures.ReferenceTime()); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for an unbooked meal, got %v", err)
		}

		got, err := store.GetBooking(ctx, booking.ID)
		if err != nil {
			t.Fatalf("GetBooking failed: %v", err)
		}
		lunch, ok := got.Meal(domain.Lunch)
		if !ok || !lunch.Attended || lunch.ScannedBy != "staff" {
			t.Fatalf("unexpected lunch sub-record %#v", lunch)
		}
		if dinner, _ := got.Meal(domain.Dinner); dinner.Attended {
			t.Fatalf("expected dinner to remain unserved")
		}
	})
}

func TestAssessmentLedger(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		day := testfixtures.ReferenceDate()

		claimed, err := store.ClaimAssessment(ctx, domain.Lunch, day, testfixtures.ReferenceTime())
		if err != nil || !claimed {
			t.Fatalf("expected first claim to succeed, got %v (err=%v)", claimed, err)
		}
		claimed, err = store.ClaimAssessment(ctx, domain.Lunch, day, testfixtures.ReferenceTime())
		if err != nil || claimed {
			t.Fatalf("expected second claim to be refused, got %v (err=%v)", claimed, err)
		}
		claimed, _ = store.ClaimAssessment(ctx, domain.Dinner, day, testfixtures.ReferenceTime())
		if !claimed {
			t.Fatalf("expected a different meal to be claimable")
		}
	})
}
