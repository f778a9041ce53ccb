package shared

import "errors"

// Error kinds shared by the authorization core, the admission gates and the HTTP edge.
var (
	// ErrUnauthenticated indicates that no actor could be resolved for the call.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden indicates a resolved actor lacking the grant, ownership or department.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state conflict such as a duplicate assignment or a role still in use.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited indicates an active cooldown or throttle window.
	ErrRateLimited = errors.New("rate limited")
	// ErrScheduleRestricted indicates a call outside working hours.
	ErrScheduleRestricted = errors.New("outside working hours")
	// ErrInvalid indicates malformed input.
	ErrInvalid = errors.New("invalid input")
	// ErrInternal indicates a storage or unexpected failure.
	ErrInternal = errors.New("internal error")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Rejection is a refused operation carrying a client-facing message and the structured
// detail a client needs to explain the refusal without a follow-up call.
type Rejection struct {
	Kind    error
	Message string
	Fields  map[string]any
}

// Reject builds a Rejection of the given kind.
func Reject(kind error, message string, fields map[string]any) *Rejection {
	return &Rejection{Kind: kind, Message: message, Fields: fields}
}

func (r *Rejection) Error() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Kind != nil {
		return r.Kind.Error()
	}
	return "rejected"
}

// Unwrap exposes the kind so errors.Is works against the sentinels above.
func (r *Rejection) Unwrap() error {
	return r.Kind
}

// RejectionFrom extracts the Rejection from an error chain.
func RejectionFrom(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
