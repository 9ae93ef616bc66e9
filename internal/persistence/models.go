package persistence

import (
	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
)

// ConfirmationFilter narrows confirmation queries. Zero values are unbounded;
// From and To are inclusive and only applied when valid.
type ConfirmationFilter struct {
	UserID   string
	MealType domain.MealType
	From     civil.Date
	To       civil.Date
}

// AttendanceUpdate is a conditional attendance write. Without Override the
// update only applies while the record is not already attended.
type AttendanceUpdate struct {
	ConfirmationID string
	Attendance     domain.Attendance
	FineApplied    domain.Money
	Override       bool
}

// BookingAttendance marks one meal of a booking as served.
type BookingAttendance struct {
	BookingID string
	MealType  domain.MealType
	ScannedBy string
}
