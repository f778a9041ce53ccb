// Package cooldown enforces the minimum gap between a student's requests to the
// same department.
package cooldown

import (
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// Window is the minimum interval between two requests of one student to one department.
const Window = 24 * time.Hour

const windowHours = int64(Window / time.Hour)

// Availability describes whether a student may submit to a department now.
type Availability struct {
	Department        shared.Department `json:"department"`
	Available         bool              `json:"available"`
	HoursRemaining    int64             `json:"hoursRemaining"`
	LastRequestTime   *time.Time        `json:"lastRequestTime"`
	NextAvailableTime *time.Time        `json:"nextAvailableTime"`
}

// Evaluate computes availability from the last request time. Elapsed time is
// truncated to whole hours, so 23h59m counts as 23.
func Evaluate(last, now time.Time) Availability {
	elapsed := int64(now.Sub(last) / time.Hour)
	if elapsed < 0 {
		elapsed = 0
	}
	lastCopy := last
	next := last.Add(Window)
	a := Availability{
		Available:         elapsed >= windowHours,
		LastRequestTime:   &lastCopy,
		NextAvailableTime: &next,
	}
	if !a.Available {
		a.HoursRemaining = windowHours - elapsed
	}
	return a
}

// Fields renders the rejection detail sent to clients.
func (a Availability) Fields() map[string]any {
	fields := map[string]any{
		"department":     string(a.Department),
		"departmentName": a.Department.DisplayName(),
		"hoursRemaining": a.HoursRemaining,
	}
	if a.LastRequestTime != nil {
		fields["lastRequestTime"] = a.LastRequestTime.UTC().Format(time.RFC3339)
	}
	if a.NextAvailableTime != nil {
		fields["nextAvailableTime"] = a.NextAvailableTime.UTC().Format(time.RFC3339)
	}
	return fields
}

// Admission is what the gate learned about an admitted creation request.
type Admission struct {
	StudentID     int64
	Department    shared.Department
	RequestTypeID int64
}
