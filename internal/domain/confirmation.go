package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// AttendanceStatus is the explicit attendance state of a confirmation.
type AttendanceStatus string

const (
	AttendanceUnknown  AttendanceStatus = "unknown"
	AttendanceAttended AttendanceStatus = "attended"
	AttendanceNoShow   AttendanceStatus = "no_show"
)

// AttendanceMethod records how attendance was captured.
type AttendanceMethod string

const (
	MethodQRCode AttendanceMethod = "qr_code"
	MethodManual AttendanceMethod = "manual"
)

// Attendance captures who recorded the attendance state and when. At, By and
// Method are empty while Status is AttendanceUnknown.
type Attendance struct {
	Status AttendanceStatus
	At     time.Time
	By     string
	Method AttendanceMethod
}

// Attended reports whether the diner was recorded as present.
func (a Attendance) Attended() bool {
	return a.Status == AttendanceAttended
}

// FreezeMark records the one-way lock applied after the confirmation deadline.
type FreezeMark struct {
	Frozen bool
	At     time.Time
	Reason string
	By     string
}

// WalkInNote tags confirmations created directly at the counter by a QR scan.
const WalkInNote = "walk-in via QR scan"

// Confirmation is the per (user, date, meal type) record.
type Confirmation struct {
	ID          string
	UserID      string
	Date        civil.Date
	MealType    MealType
	Notes       string
	WalkIn      bool
	CreatedAt   time.Time
	Attendance  Attendance
	Cost        Money
	Freeze      FreezeMark
	FineApplied Money
}
