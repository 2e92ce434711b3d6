package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, enums.ActorRoleCustomer)

	var captured struct {
		ok    bool
		user  uuid.UUID
		role  enums.ActorRole
		email string
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		captured.ok = ok
		captured.user = actor.UserID
		captured.role = actor.Role
		captured.email = actor.Email
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !captured.ok || captured.user != userID || captured.role != enums.ActorRoleCustomer {
		t.Fatalf("unexpected actor %+v", captured)
	}
	if captured.email != "buyer@example.com" {
		t.Fatalf("unexpected email %q", captured.email)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.ActorRoleAdmin, enums.ActorRoleSuperadmin)(okHandler())

	tests := []struct {
		role enums.ActorRole
		want int
	}{
		{enums.ActorRoleCustomer, http.StatusForbidden},
		{enums.ActorRoleAdmin, http.StatusOK},
		{enums.ActorRoleSuperadmin, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), orders.Actor{UserID: uuid.New(), Role: tt.role}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.role, tt.want, resp.Code)
		}
	}
}

func TestLogisticsToken(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"match", "tok", "Bearer tok", http.StatusOK},
		{"raw token", "tok", "tok", http.StatusOK},
		{"mismatch", "tok", "Bearer other", http.StatusUnauthorized},
		{"missing", "tok", "", http.StatusUnauthorized},
		{"unconfigured", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/logistics/orders", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp := httptest.NewRecorder()
		LogisticsToken(tt.configured, nil)(okHandler()).ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	keys, err := auth.NewKeys(cfg)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	token, err := keys.Issue(time.Now(), auth.Identity{
		UserID: userID,
		Role:   role,
		Email:  "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
