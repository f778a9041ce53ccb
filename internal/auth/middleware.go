package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

// ActorResolver loads the actor bound to a session subject.
type ActorResolver interface {
	ResolveActor(ctx context.Context, kind shared.ActorKind, id int64) (*shared.Actor, error)
}

// SessionMiddleware loads the session and resolves its actor into the request
// context. Sessions whose actor no longer exists or is inactive are destroyed
// and the request continues unauthenticated.
func SessionMiddleware(sessions *shared.SessionManager, resolver ActorResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				httpx.RespondError(w, shared.ErrInternal)
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)

			if kind, id, ok := sess.Subject(); ok {
				actor, err := resolver.ResolveActor(ctx, kind, id)
				if err != nil {
					logger.Error("resolve actor", slog.Any("error", err))
					httpx.RespondError(w, shared.ErrInternal)
					return
				}
				if actor == nil {
					sessions.Destroy(sess)
					if err := sessions.Commit(ctx, w, sess); err != nil {
						logger.Warn("destroy stale session", slog.Any("error", err))
					}
				} else {
					ctx = shared.ContextWithActor(ctx, actor)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireActor rejects unauthenticated requests with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.RespondError(w, shared.Reject(shared.ErrUnauthenticated, "Authentication required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
