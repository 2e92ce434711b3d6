package middleware

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Auth admits callers holding a valid access token and puts the actor on the
// request context. System tokens are for workers and are refused here.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	keys, keysErr := pkgAuth.NewKeys(cfg)

	authenticate := func(r *http.Request) (orders.Actor, error) {
		if keysErr != nil {
			return orders.Actor{}, pkgerrors.Wrap(pkgerrors.CodeInternal, keysErr, "jwt keys unavailable")
		}
		raw := pkgAuth.BearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
		}
		id, err := keys.Verify(raw)
		switch {
		case err != nil:
			return orders.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
		case id.Role == enums.ActorRoleSystem:
			return orders.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "system role cannot call the api")
		}
		return orders.Actor{UserID: id.UserID, Role: id.Role, Email: id.Email}, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := authenticate(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithUserID(ctx, actor.UserID.String())
				ctx = logg.WithActorRole(ctx, string(actor.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
