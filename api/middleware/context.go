package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
	ctxEmail  contextKey = "email"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the caller seeded by Auth. ok is false when the
// request carried no valid identity.
func ActorFromContext(ctx context.Context) (orders.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return orders.Actor{}, false
	}
	role := enums.ActorRole(RoleFromContext(ctx))
	if !role.IsValid() {
		return orders.Actor{}, false
	}
	return orders.Actor{UserID: userID, Role: role, Email: EmailFromContext(ctx)}, true
}

// WithActor injects an authenticated caller into the context. Used by tests
// and by Auth.
func WithActor(ctx context.Context, actor orders.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	if actor.Email != "" {
		ctx = context.WithValue(ctx, ctxEmail, actor.Email)
	}
	return ctx
}
