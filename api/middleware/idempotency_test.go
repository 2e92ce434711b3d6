package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// memoryStore mimics the Redis commands with a mutex-guarded map.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key], _ = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.data[key]; taken {
		return false, nil
	}
	m.data[key], _ = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
		delete(m.ttls, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idem:" + scope + ":" + id
}

func routedRequest(method, target, pattern, body, key string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestLookupRoute(t *testing.T) {
	cases := []struct {
		method, pattern string
		ttl             time.Duration
		optional        bool
		matched         bool
	}{
		{http.MethodPost, "/api/v1/checkout", paymentReplayTTL, false, true},
		{http.MethodPost, "/api/v1/guest/checkout", paymentReplayTTL, true, true},
		{http.MethodPost, "/api/v1/orders/{orderId}/cancel", paymentReplayTTL, false, true},
		{http.MethodPost, "/api/v1/orders/3f6c/payment", paymentReplayTTL, false, true},
		{http.MethodPost, "/api/v1/guest/orders/{orderId}/shipment", standardReplayTTL, true, true},
		{http.MethodPost, "/api/v1/cart/items", standardReplayTTL, false, true},
		{http.MethodPatch, "/api/admin/v1/orders/{orderId}/status", standardReplayTTL, false, true},
		{http.MethodGet, "/api/v1/orders/{orderId}/payment", 0, false, false},
		{http.MethodPost, "/api/v1/orders/a/b/payment", 0, false, false},
		{http.MethodPost, "/api/v1/webhooks/stripe", 0, false, false},
	}
	for _, tc := range cases {
		route, ok := lookupRoute(tc.method, tc.pattern)
		require.Equal(t, tc.matched, ok, "%s %s", tc.method, tc.pattern)
		if ok {
			require.Equal(t, tc.ttl, route.ttl, tc.pattern)
			require.Equal(t, tc.optional, route.optional, tc.pattern)
		}
	}
}

func TestIdempotencyRequiresKeyOnStrictRoutes(t *testing.T) {
	called := false
	h := Idempotency(newMemoryStore(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{}`, ""))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
	require.False(t, called)
}

func TestIdempotencyOptionalRouteWithoutKeyStoresNothing(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, routedRequest(http.MethodPost, "/api/v1/guest/checkout", "/api/v1/guest/checkout", `{}`, ""))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	require.Equal(t, 2, calls)
	require.Empty(t, store.data)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"cart_id":"c1"}`, string(body), "handler sees the buffered body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":"o1"}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{"cart_id":"c1"}`, "abc"))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get(replayedHeader))

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{"cart_id":"c1"}`, "abc"))
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	require.Equal(t, "true", replay.Header().Get(replayedHeader))
	require.Equal(t, `{"order":"o1"}`, replay.Body.String())
	require.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		require.Equal(t, paymentReplayTTL, ttl, key)
	}
}

func TestIdempotencyRejectsReusedKeyWithNewBody(t *testing.T) {
	h := Idempotency(newMemoryStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{"a":1}`, "xyz"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{"a":2}`, "xyz"))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newMemoryStore()
	var duplicate *httptest.ResponseRecorder
	var outer http.Handler
	outer = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if duplicate == nil {
			duplicate = httptest.NewRecorder()
			outer.ServeHTTP(duplicate, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{}`, "same"))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", `{}`, "same"))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	require.Equal(t, http.StatusConflict, duplicate.Code)
}

func TestIdempotencyFreesKeyAfterServerError(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusCreated} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, routedRequest(http.MethodPost, "/api/v1/orders/o1/payment", "/api/v1/orders/{orderId}/payment", `{}`, "retry"))
		require.Equal(t, want, rec.Code)
	}
	require.Equal(t, 2, calls)
}

func TestIdempotencyKeysAreScopedPerPath(t *testing.T) {
	calls := 0
	h := Idempotency(newMemoryStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	h.ServeHTTP(httptest.NewRecorder(), routedRequest(http.MethodPost, "/api/v1/orders/o1/cancel", "/api/v1/orders/{orderId}/cancel", `{}`, "k"))
	h.ServeHTTP(httptest.NewRecorder(), routedRequest(http.MethodPost, "/api/v1/orders/o2/cancel", "/api/v1/orders/{orderId}/cancel", `{}`, "k"))
	require.Equal(t, 2, calls)
}
