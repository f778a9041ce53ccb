package shared

import "context"

type sessionContextKey struct{}

type actorContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ActorKind distinguishes students from administrative staff.
type ActorKind string

const (
	ActorStudent ActorKind = "student"
	ActorAdmin   ActorKind = "admin"
)

// Actor is the resolved identity behind a request.
type Actor struct {
	ID           int64      `json:"id"`
	Kind         ActorKind  `json:"kind"`
	Username     string     `json:"username"`
	Department   Department `json:"department,omitempty"`
	IsSuperAdmin bool       `json:"is_super_admin"`
}

// IsAdmin reports whether the actor is an administrative user.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Kind == ActorAdmin
}

// IsStudent reports whether the actor is a student.
func (a *Actor) IsStudent() bool {
	return a != nil && a.Kind == ActorStudent
}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the resolved actor or nil when the request is unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
