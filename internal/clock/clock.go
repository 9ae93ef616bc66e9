// Package clock is the single time authority for the service. Every
// component reads "now" through a Clock and interprets calendar dates in the
// mess's configured location.
package clock

import (
	"time"

	"cloud.google.com/go/civil"
)

// DefaultZone is the mess's operating timezone.
const DefaultZone = "Asia/Kolkata"

// IST is used when the tz database is unavailable on the host.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time { return time.Now() }

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// LoadLocation resolves name, falling back to IST when name is empty or the
// zone cannot be loaded.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return IST
	}
	return loc
}

// Today returns the calendar date of now in loc.
func Today(c Clock, loc *time.Location) civil.Date {
	return civil.DateOf(c.Now().In(loc))
}

// TimeOfDay returns the wall-clock time of now in loc.
func TimeOfDay(c Clock, loc *time.Location) civil.Time {
	return civil.TimeOf(c.Now().In(loc))
}

// MonthKey formats t as YYYY-MM in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}
