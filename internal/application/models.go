package application

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/qrtoken"
)

// SlotInput carries administrative edits to a meal slot. Times use HH:MM or
// HH:MM:SS and Cost is a decimal amount.
type SlotInput struct {
	MealType       string
	Start          string
	End            string
	Cost           string
	DeadlineOffset time.Duration
	Active         bool
}

// UpsertSlotParams wraps a slot edit with the acting principal.
type UpsertSlotParams struct {
	Principal Principal
	Input     SlotInput
}

// ConfirmParams requests a meal confirmation for the principal.
type ConfirmParams struct {
	Principal Principal
	Date      civil.Date
	MealType  domain.MealType
	Notes     string
}

// BulkConfirmParams requests staff confirmations for several users. WalkIn
// marks the records as created at the counter.
type BulkConfirmParams struct {
	Principal Principal
	UserIDs   []string
	Date      civil.Date
	MealType  domain.MealType
	Notes     string
	WalkIn    bool
}

// BulkConfirmResult is the per user outcome of a bulk confirmation.
type BulkConfirmResult struct {
	UserID       string
	Confirmation *domain.Confirmation
	ErrorKind    string
}

// CancelStatus distinguishes a plain cancellation from one that incurred a fine.
type CancelStatus string

const (
	CancelStatusCancelled         CancelStatus = "cancelled"
	CancelStatusCancelledWithFine CancelStatus = "cancelled_with_fine"
)

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	Status CancelStatus
	Fine   *domain.Fine
}

// RecordAttendanceParams is a staff attendance write.
type RecordAttendanceParams struct {
	Principal      Principal
	ConfirmationID string
	Attended       bool
	Method         domain.AttendanceMethod
	FineApplied    domain.Money
	Override       bool
}

// ListConfirmationsParams filters confirmations. Staff may leave UserID empty
// to list every user.
type ListConfirmationsParams struct {
	Principal Principal
	UserID    string
	MealType  domain.MealType
	From      civil.Date
	To        civil.Date
}

// MealReport aggregates one meal type for the daily report.
type MealReport struct {
	MealType    domain.MealType
	SourceDate  civil.Date
	Total       int
	Attended    int
	NotAttended int
	Pending     int
	TotalFines  domain.Money
}

// DailyReport is the per meal summary for a day.
type DailyReport struct {
	Date        civil.Date
	GeneratedAt time.Time
	Meals       []MealReport
}

// Coverage is the result of a subscription lookup.
type Coverage struct {
	Covered      bool
	Subscription *domain.Subscription
}

// CreateSubscriptionParams registers a subscription purchase.
type CreateSubscriptionParams struct {
	Principal   Principal
	UserID      string
	MealTypes   []domain.MealType
	StartDate   civil.Date
	EndDate     civil.Date
	MonthlyCost domain.Money
}

// RenewSubscriptionParams extends a subscription's end date.
type RenewSubscriptionParams struct {
	Principal      Principal
	SubscriptionID string
	EndDate        civil.Date
}

// IssuedQR is a code ready to be rendered as a QR image.
type IssuedQR struct {
	Code         string
	Kind         qrtoken.Kind
	ExpiresAt    time.Time
	RefreshAfter time.Time
}

// ScanResult describes what a successful scan recorded.
type ScanResult struct {
	Kind           qrtoken.Kind
	UserID         string
	BookingID      string
	MealType       domain.MealType
	Date           civil.Date
	ConfirmationID string
	WalkIn         bool
	ScannedAt      time.Time
}

// AssessmentResult summarises one fine assessment run.
type AssessmentResult struct {
	MealType    domain.MealType
	Date        civil.Date
	Skipped     bool
	Evaluated   int
	Violations  int
	FinesIssued int
	Failures    int
}

// PayFineParams settles a fine.
type PayFineParams struct {
	Principal Principal
	FineID    string
	Reference string
}

// WaiveFineParams forgives a fine.
type WaiveFineParams struct {
	Principal Principal
	FineID    string
	Reason    string
}

// SyncUserParams mirrors an identity-provider account locally.
type SyncUserParams struct {
	Principal Principal
	UserID    string
	Role      string
}
