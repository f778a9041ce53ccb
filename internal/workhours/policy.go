// Package workhours gates student request creation to office hours.
package workhours

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the office timezone.
const DefaultTimezone = "Europe/Istanbul"

// Reason explains why an instant falls outside working hours.
type Reason string

const (
	ReasonWeekend  Reason = "weekend"
	ReasonTooEarly Reason = "too_early"
	ReasonTooLate  Reason = "too_late"
	ReasonError    Reason = "error"
)

// Result is the outcome of a working-hours check.
type Result struct {
	IsAllowed        bool      `json:"isAllowed"`
	Reason           Reason    `json:"reason,omitempty"`
	CurrentLocalTime time.Time `json:"currentLocalTime"`
}

// Policy is the weekday window [Open, Close) in Location, expressed as offsets from local midnight.
type Policy struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
	err      error
}

// NewPolicy builds the 08:30-17:30 weekday policy for tz. A timezone that cannot be
// loaded yields a policy that rejects every instant.
func NewPolicy(tz string) Policy {
	if tz == "" {
		tz = DefaultTimezone
	}
	p := Policy{Open: 8*time.Hour + 30*time.Minute, Close: 17*time.Hour + 30*time.Minute}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.err = fmt.Errorf("workhours: load location %q: %w", tz, err)
		return p
	}
	p.Location = loc
	return p
}

// Err reports a failure to set up the policy.
func (p Policy) Err() error {
	if p.err != nil {
		return p.err
	}
	if p.Location == nil {
		return fmt.Errorf("workhours: no location")
	}
	return nil
}

// Check classifies instant against the window.
func (p Policy) Check(instant time.Time) Result {
	if p.Err() != nil || p.Close <= p.Open {
		return Result{Reason: ReasonError, CurrentLocalTime: instant}
	}
	local := instant.In(p.Location)
	res := Result{CurrentLocalTime: local}
	if isWeekend(local.Weekday()) {
		res.Reason = ReasonWeekend
		return res
	}
	sinceMidnight := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())
	switch {
	case sinceMidnight < p.Open:
		res.Reason = ReasonTooEarly
	case sinceMidnight >= p.Close:
		res.Reason = ReasonTooLate
	default:
		res.IsAllowed = true
	}
	return res
}

// IsWithinWorkingHours checks instant against the standard window in tz.
func IsWithinWorkingHours(instant time.Time, tz string) Result {
	return NewPolicy(tz).Check(instant)
}

// NextWorkingTime returns the next opening at or after instant: the same day when
// instant is a weekday morning before opening, otherwise the next weekday.
func (p Policy) NextWorkingTime(instant time.Time) time.Time {
	if p.Err() != nil {
		return instant
	}
	local := instant.In(p.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	if !isWeekend(local.Weekday()) && local.Before(p.openOn(day)) {
		return p.openOn(day)
	}
	day = day.AddDate(0, 0, 1)
	for isWeekend(day.Weekday()) {
		day = day.AddDate(0, 0, 1)
	}
	return p.openOn(day)
}

// Window renders the window for clients.
func (p Policy) Window() map[string]any {
	tz := DefaultTimezone
	if p.Location != nil {
		tz = p.Location.String()
	}
	return map[string]any{
		"start":    clock(p.Open),
		"end":      clock(p.Close),
		"days":     "Monday-Friday",
		"timezone": tz,
	}
}

func (p Policy) openOn(day time.Time) time.Time {
	h := int(p.Open / time.Hour)
	m := int((p.Open % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, p.Location)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}
