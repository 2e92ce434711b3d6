package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	standardReplayTTL = 24 * time.Hour
	paymentReplayTTL  = 7 * 24 * time.Hour
)

// IdempotencyStore is the Redis surface the middleware needs.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// idempotentRoute matches a chi route pattern with path.Match, so "*"
// stands for one path parameter.
type idempotentRoute struct {
	method  string
	pattern string
	ttl     time.Duration
	// optional routes run normally when the header is absent. Guests get
	// this leniency; signed-in clients must send a key.
	optional bool
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, pattern: "/api/v1/cart/items", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/orders/*/shipment", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/guest/orders/*/shipment", ttl: standardReplayTTL, optional: true},
	{method: http.MethodPatch, pattern: "/api/admin/v1/orders/*/status", ttl: standardReplayTTL},

	{method: http.MethodPost, pattern: "/api/v1/checkout", ttl: paymentReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/guest/checkout", ttl: paymentReplayTTL, optional: true},
	{method: http.MethodPost, pattern: "/api/v1/orders/*/cancel", ttl: paymentReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/orders/*/payment", ttl: paymentReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/guest/orders/*/payment", ttl: paymentReplayTTL, optional: true},
	{method: http.MethodPost, pattern: "/api/admin/v1/orders/*/cancel", ttl: paymentReplayTTL},
}

func lookupRoute(method, pattern string) (idempotentRoute, bool) {
	if pattern == "" {
		return idempotentRoute{}, false
	}
	for _, route := range idempotentRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.pattern, pattern); ok {
			return route, true
		}
	}
	return idempotentRoute{}, false
}

// replayRecord is what Redis holds under a key. InFlight marks a reservation
// whose handler has not finished yet.
type replayRecord struct {
	Fingerprint string `json:"fingerprint"`
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

var (
	errKeyInFlight = pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is already in progress")
	errKeyReused   = pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
)

// Idempotency replays the stored response of a retried mutating request. The
// key is reserved with SET NX before the handler runs, so concurrent retries
// cannot both execute. A 5xx outcome frees the key for another attempt.
func Idempotency(store IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := lookupRoute(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if route.optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(requestScope(r), clientKey)

			if prior, err := loadRecord(ctx, store, key); err != nil || prior != nil {
				answerFromRecord(ctx, w, logg, prior, fingerprint, err)
				return
			}

			reserved, err := reserve(ctx, store, key, fingerprint, route.ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !reserved {
				// Lost the race to a concurrent request; report what it left.
				prior, err := loadRecord(ctx, store, key)
				if err == nil && prior == nil {
					err = errKeyInFlight
				}
				answerFromRecord(ctx, w, logg, prior, fingerprint, err)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil {
					logFailure(ctx, logg, "release idempotency key", err)
				}
				return
			}

			done := replayRecord{
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}
			if err := save(ctx, store, key, done, route.ttl); err != nil {
				logFailure(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

// answerFromRecord writes either err, a conflict, or the replayed response.
func answerFromRecord(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, rec *replayRecord, fingerprint string, err error) {
	switch {
	case err != nil:
		responses.WriteError(ctx, logg, w, err)
	case rec.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, errKeyReused)
	case rec.InFlight:
		responses.WriteError(ctx, logg, w, errKeyInFlight)
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

// loadRecord returns nil, nil when nothing is stored under key.
func loadRecord(ctx context.Context, store IdempotencyStore, key string) (*replayRecord, error) {
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil) || (err == nil && raw == ""):
		return nil, nil
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
	}
	var rec replayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &rec, nil
}

func reserve(ctx context.Context, store IdempotencyStore, key, fingerprint string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(replayRecord{Fingerprint: fingerprint, InFlight: true})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation")
	}
	won, err := store.SetNX(ctx, key, string(raw), ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	return won, nil
}

func save(ctx context.Context, store IdempotencyStore, key string, rec replayRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(raw), ttl)
}

// requestScope ties a key to the caller and the exact target, so two users
// or two orders never share a replay.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routePattern prefers the matched chi pattern. Middleware mounted on a
// subrouter only sees a partial "/*" pattern, so the raw path is used there.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "*") {
			return p
		}
	}
	return r.URL.Path
}

func logFailure(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
