package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	internalpayments "github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubInitiator struct {
	actor orders.Actor
	input internalpayments.InitiateInput
	err   error
}

func (s *stubInitiator) Initiate(_ context.Context, actor orders.Actor, input internalpayments.InitiateInput) (*internalpayments.InitiateResult, error) {
	s.actor, s.input = actor, input
	if s.err != nil {
		return nil, s.err
	}
	return &internalpayments.InitiateResult{
		PaymentID:   uuid.New(),
		SessionID:   "cs_test_1",
		RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_1",
	}, nil
}

func withOrderParam(req *http.Request, orderID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestInitiateReturnsRedirect(t *testing.T) {
	svc := &stubInitiator{}
	userID := uuid.New()
	orderID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), orders.Actor{UserID: userID, Role: enums.ActorRoleCustomer}))
	req = withOrderParam(req, orderID.String())

	rec := httptest.NewRecorder()
	Initiate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.actor.UserID != userID || svc.input.OrderID != orderID {
		t.Fatalf("unexpected call %+v %+v", svc.actor, svc.input)
	}
	var envelope struct {
		Data internalpayments.InitiateResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.SessionID != "cs_test_1" || !strings.HasPrefix(envelope.Data.RedirectURL, "https://") {
		t.Fatalf("unexpected result %+v", envelope.Data)
	}
}

func TestInitiateRequiresActor(t *testing.T) {
	req := withOrderParam(httptest.NewRequest(http.MethodPost, "/", nil), uuid.NewString())
	rec := httptest.NewRecorder()
	Initiate(&stubInitiator{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestGuestInitiate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		want    int
		wantHit bool
	}{
		{"matching email", `{"contact_email":"guest@example.com"}`, nil, http.StatusCreated, true},
		{"missing email", `{}`, nil, http.StatusBadRequest, false},
		{"email mismatch", `{"contact_email":"other@example.com"}`, pkgerrors.New(pkgerrors.CodeForbidden, "contact email does not match order"), http.StatusForbidden, true},
		{"already paid", `{"contact_email":"guest@example.com"}`, pkgerrors.New(pkgerrors.CodeConflict, "order already paid"), http.StatusConflict, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubInitiator{err: tt.err}
			orderID := uuid.New()
			req := withOrderParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)), orderID.String())
			rec := httptest.NewRecorder()
			GuestInitiate(svc, nil).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			hit := svc.input.OrderID == orderID
			if hit != tt.wantHit {
				t.Fatalf("service hit=%v, want %v", hit, tt.wantHit)
			}
			if hit && svc.actor.UserID != uuid.Nil {
				t.Fatal("guest initiate must not carry a user identity")
			}
		})
	}
}
