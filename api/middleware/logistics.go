package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// LogisticsToken guards the broker pull endpoints with the shared bearer
// token, sent with or without the Bearer scheme. An empty configured token
// rejects every call.
func LogisticsToken(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented := pkgAuth.BearerToken(header)
			if presented == "" {
				presented = strings.TrimSpace(header)
			}
			if token == "" || presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid logistics token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
