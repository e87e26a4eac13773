package app

import (
	"context"
	"strings"

	"github.com/hylla/tryck/internal/domain"
)

// Actor carries normalized caller identity for attribution and role checks.
// Authentication happens outside this core; the user id is taken as given.
type Actor struct {
	UserID string
	Role   domain.Role
}

// actorContextKey stores context keys for actor values.
type actorContextKey struct{}

// WithActor attaches a normalized actor to context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, normalizeActor(actor))
}

// ActorFromContext returns the normalized actor when present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	raw := ctx.Value(actorContextKey{})
	actor, ok := raw.(Actor)
	if !ok {
		return Actor{}, false
	}
	actor = normalizeActor(actor)
	if actor.UserID == "" {
		return Actor{}, false
	}
	return actor, true
}

// normalizeActor trims and canonicalizes actor fields.
func normalizeActor(actor Actor) Actor {
	actor.UserID = strings.TrimSpace(actor.UserID)
	actor.Role = domain.NormalizeRole(actor.Role)
	if !domain.IsValidRole(actor.Role) {
		actor.Role = domain.RoleViewer
	}
	return actor
}
