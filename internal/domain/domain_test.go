package domain

import (
	"testing"

	"cloud.google.com/go/civil"
)

func TestParseMealType(t *testing.T) {
	t.Run("accepts mixed case and whitespace", func(t *testing.T) {
		got, err := ParseMealType("  Lunch ")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != Lunch {
			t.Fatalf("expected lunch, got %q", got)
		}
	})

	t.Run("rejects unknown meal types", func(t *testing.T) {
		if _, err := ParseMealType("brunch"); err == nil {
			t.Fatalf("expected error for unknown meal type")
		}
	})
}

func TestRoleIsStaff(t *testing.T) {
	cases := map[Role]bool{
		RoleStudent:   false,
		RoleEmployee:  false,
		RoleMessStaff: true,
		RoleHOD:       true,
		RoleAdmin:     true,
	}
	for role, want := range cases {
		if got := role.IsStaff(); got != want {
			t.Fatalf("expected IsStaff(%s)=%v, got %v", role, want, got)
		}
	}
}

func TestMoney(t *testing.T) {
	t.Run("half of an odd amount rounds up", func(t *testing.T) {
		if got := Money(4001).Percent(50); got != 2001 {
			t.Fatalf("expected 2001, got %d", got)
		}
	})

	t.Run("renders two decimals", func(t *testing.T) {
		if got := Money(4050).String(); got != "40.50" {
			t.Fatalf("expected 40.50, got %s", got)
		}
		if got := Money(-5).String(); got != "-0.05" {
			t.Fatalf("expected -0.05, got %s", got)
		}
	})

	t.Run("parses decimal strings", func(t *testing.T) {
		for input, want := range map[string]Money{"40": 4000, "40.5": 4050, "0.07": 7} {
			got, err := ParseMoney(input)
			if err != nil {
				t.Fatalf("expected %q to parse, got %v", input, err)
			}
			if got != want {
				t.Fatalf("expected %d for %q, got %d", want, input, got)
			}
		}
	})

	t.Run("rejects malformed amounts", func(t *testing.T) {
		for _, input := range []string{"", "-1", "1.234", "abc", "1."} {
			if _, err := ParseMoney(input); err == nil {
				t.Fatalf("expected %q to be rejected", input)
			}
		}
	})
}

func TestSubscriptionCovers(t *testing.T) {
	sub := Subscription{
		MealTypes: []MealType{Lunch, Dinner},
		StartDate: civil.Date{Year: 2025, Month: 6, Day: 1},
		EndDate:   civil.Date{Year: 2025, Month: 6, Day: 30},
		Status:    SubscriptionActive,
	}

	if !sub.Covers(Lunch, civil.Date{Year: 2025, Month: 6, Day: 30}) {
		t.Fatalf("expected end date to be covered")
	}
	if sub.Covers(Breakfast, civil.Date{Year: 2025, Month: 6, Day: 10}) {
		t.Fatalf("expected breakfast to be uncovered")
	}
	if sub.Covers(Lunch, civil.Date{Year: 2025, Month: 7, Day: 1}) {
		t.Fatalf("expected date after range to be uncovered")
	}

	sub.Status = SubscriptionSuspended
	if sub.Covers(Lunch, civil.Date{Year: 2025, Month: 6, Day: 10}) {
		t.Fatalf("expected suspended subscription to cover nothing")
	}
}

func TestMealSlotValidWindow(t *testing.T) {
	slot := MealSlot{Start: civil.Time{Hour: 12}, End: civil.Time{Hour: 14}}
	if !slot.ValidWindow() {
		t.Fatalf("expected 12:00-14:00 to be valid")
	}
	slot.End = civil.Time{Hour: 12}
	if slot.ValidWindow() {
		t.Fatalf("expected empty window to be invalid")
	}
}
