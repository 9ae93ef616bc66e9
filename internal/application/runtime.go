package application

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/mess-attendance/internal/clock"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/mealtime"
)

// Principal is the authenticated caller supplied by the identity gateway.
type Principal struct {
	UserID string
	Role   domain.Role
}

// IsStaff reports whether the principal may act on other users' records.
func (p Principal) IsStaff() bool { return p.Role.IsStaff() }

// IsAdmin reports whether the principal administers the mess.
func (p Principal) IsAdmin() bool { return p.Role == domain.RoleAdmin }

// CanScan reports whether the principal may record QR attendance.
func (p Principal) CanScan() bool { return p.Role == domain.RoleMessStaff }

// Runtime bundles the collaborators every service shares.
type Runtime struct {
	Clock       clock.Clock
	Location    *time.Location
	IDGenerator func() string
	Logger      *slog.Logger
}

func (r Runtime) withDefaults() Runtime {
	if r.Clock == nil {
		r.Clock = clock.System{}
	}
	if r.Location == nil {
		r.Location = clock.LoadLocation(clock.DefaultZone)
	}
	if r.IDGenerator == nil {
		r.IDGenerator = uuid.NewString
	}
	r.Logger = defaultLogger(r.Logger)
	return r
}

func (r Runtime) now() time.Time { return r.Clock.Now() }

func (r Runtime) engine() *mealtime.Engine { return mealtime.NewEngine(r.Location) }
