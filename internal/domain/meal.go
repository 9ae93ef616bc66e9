// Package domain holds the value types shared by the mess attendance core:
// meal slots, confirmations, subscriptions, fines and bookings.
package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// MealType identifies one of the fixed daily services.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Snacks    MealType = "snacks"
	Dinner    MealType = "dinner"
)

// MealTypes lists every meal type in service order.
var MealTypes = []MealType{Breakfast, Lunch, Snacks, Dinner}

// Valid reports whether m is a known meal type.
func (m MealType) Valid() bool {
	switch m {
	case Breakfast, Lunch, Snacks, Dinner:
		return true
	}
	return false
}

// ParseMealType normalises user supplied text into a MealType.
func ParseMealType(value string) (MealType, error) {
	m := MealType(strings.ToLower(strings.TrimSpace(value)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown meal type %q", value)
	}
	return m, nil
}

// MealSlot is one scheduled service window of the mess day.
type MealSlot struct {
	MealType       MealType
	Start          civil.Time
	End            civil.Time
	Cost           Money
	DeadlineOffset time.Duration
	Active         bool
	UpdatedBy      string
	UpdatedAt      time.Time
}

// ValidWindow reports whether the slot's start precedes its end on the same day.
func (s MealSlot) ValidWindow() bool {
	return SecondsOfDay(s.Start) < SecondsOfDay(s.End)
}

// SecondsOfDay converts a civil time to nanosecond-free seconds since midnight.
func SecondsOfDay(t civil.Time) int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}
