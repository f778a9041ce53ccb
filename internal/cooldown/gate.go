package cooldown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

const maxPeekBytes = 1 << 20

// RequestTypeResolver maps a request type onto the department that handles it.
// Unknown types return an error wrapping shared.ErrNotFound.
type RequestTypeResolver interface {
	ResolveDepartment(ctx context.Context, typeID int64) (shared.Department, error)
}

type admissionKey struct{}

// AdmissionFromContext returns the admission stored by Gate.
func AdmissionFromContext(ctx context.Context) (Admission, bool) {
	a, ok := ctx.Value(admissionKey{}).(Admission)
	return a, ok
}

// ContextWithAdmission stores an admission in ctx.
func ContextWithAdmission(ctx context.Context, a Admission) context.Context {
	return context.WithValue(ctx, admissionKey{}, a)
}

// Gate rejects creation requests while the target student's cooldown for the
// resolved department is active.
type Gate struct {
	Service  *Service
	Resolver RequestTypeResolver
	Logger   *slog.Logger
	// OnReject observes rejections by reason, e.g. for metrics.
	OnReject func(reason string)
}

type admissionPeek struct {
	RequestTypeID int64 `json:"request_type_id"`
	StudentID     int64 `json:"student_id"`
}

// Middleware peeks at the JSON body, restores it for the handler and admits or rejects.
func (g Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := shared.ActorFromContext(r.Context())
		if actor == nil {
			httpx.RespondError(w, shared.Reject(shared.ErrUnauthenticated, "Authentication required", nil))
			return
		}

		peek, err := peekBody(r)
		if err != nil {
			g.reject(w, "invalid", err)
			return
		}
		if peek.RequestTypeID <= 0 {
			g.reject(w, "invalid", shared.Reject(shared.ErrInvalid, "request_type_id is required", nil))
			return
		}

		studentID := peek.StudentID
		if actor.IsStudent() {
			studentID = actor.ID
		} else if studentID <= 0 {
			g.reject(w, "invalid", shared.Reject(shared.ErrInvalid, "student_id is required", nil))
			return
		}

		department, err := g.Resolver.ResolveDepartment(r.Context(), peek.RequestTypeID)
		if err != nil {
			if httpx.Status(err) == http.StatusInternalServerError {
				g.logError("resolve request type", err)
			}
			g.reject(w, "request_type", err)
			return
		}

		availability, err := g.Service.CheckAvailability(r.Context(), studentID, department)
		if err != nil {
			g.logError("check availability", err)
			g.reject(w, "error", err)
			return
		}
		if !availability.Available {
			g.reject(w, "cooldown", shared.Reject(shared.ErrRateLimited,
				fmt.Sprintf("You can submit another request to %s in %d hour(s)", department.DisplayName(), availability.HoursRemaining),
				availability.Fields()))
			return
		}

		ctx := ContextWithAdmission(r.Context(), Admission{
			StudentID:     studentID,
			Department:    department,
			RequestTypeID: peek.RequestTypeID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g Gate) reject(w http.ResponseWriter, reason string, err error) {
	if g.OnReject != nil {
		g.OnReject(reason)
	}
	httpx.RespondError(w, err)
}

func (g Gate) logError(msg string, err error) {
	if g.Logger != nil {
		g.Logger.Error("cooldown gate: "+msg, slog.Any("error", err))
	}
}

// PeekRequestTypeID reads request_type_id from the JSON body and restores the body
// for later handlers.
func PeekRequestTypeID(r *http.Request) (int64, error) {
	peek, err := peekBody(r)
	if err != nil {
		return 0, err
	}
	if peek.RequestTypeID <= 0 {
		return 0, shared.Reject(shared.ErrInvalid, "request_type_id is required", nil)
	}
	return peek.RequestTypeID, nil
}

func peekBody(r *http.Request) (admissionPeek, error) {
	var peek admissionPeek
	if r.Body == nil {
		return peek, fmt.Errorf("%w: empty body", httpx.ErrValidation)
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	if err != nil {
		return peek, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err := json.Unmarshal(raw, &peek); err != nil {
		return peek, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return peek, nil
}
