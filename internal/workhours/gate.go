package workhours

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

var reasonMessages = map[Reason]string{
	ReasonWeekend:  "Requests can only be submitted on weekdays",
	ReasonTooEarly: "Requests can be submitted from 08:30",
	ReasonTooLate:  "Requests can be submitted until 17:30",
	ReasonError:    "Unable to verify working hours",
}

// Gate rejects student request creation outside working hours. Admins bypass it.
type Gate struct {
	Policy Policy
	Logger *slog.Logger
	Now    func() time.Time
	// OnReject observes rejections by reason, e.g. for metrics.
	OnReject func(reason string)
}

// Middleware applies the gate.
func (g Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := shared.ActorFromContext(r.Context())
		if actor.IsAdmin() {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		if g.Now != nil {
			now = g.Now()
		}
		res := g.Policy.Check(now)
		if res.IsAllowed {
			next.ServeHTTP(w, r)
			return
		}
		if res.Reason == ReasonError && g.Logger != nil {
			g.Logger.Error("working hours check failed", slog.Any("error", g.Policy.Err()))
		}
		if g.OnReject != nil {
			g.OnReject(string(res.Reason))
		}

		fields := map[string]any{
			"reason":       string(res.Reason),
			"currentTime":  res.CurrentLocalTime.Format(time.RFC3339),
			"workingHours": g.Policy.Window(),
		}
		if res.Reason != ReasonError {
			fields["nextAvailableTime"] = g.Policy.NextWorkingTime(now).Format(time.RFC3339)
		}
		httpx.RespondError(w, shared.Reject(shared.ErrScheduleRestricted, reasonMessages[res.Reason], fields))
	})
}
