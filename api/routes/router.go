package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	logisticscontrollers "github.com/angelmondragon/storefront-backend/api/controllers/logistics"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/payments"
	shipmentcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/shipments"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const guestCheckoutPolicy = "guest_checkout"

// Store is the redis surface the HTTP layer needs: idempotency records, the
// guest rate limiter and readiness.
type Store interface {
	middleware.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Store     Store
	Carts     cart.Service
	Orders    orders.Service
	Payments  payments.Service
	Shipments shipments.Service
	Stripe    *stripe.Client
	Webhooks  *metrics.WebhookMetrics
	Gatherer  prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	guestPolicy := middleware.NewRateLimitPolicy(
		guestCheckoutPolicy,
		cfg.GuestRateLimit.Window,
		cfg.GuestRateLimit.IPLimit,
		cfg.GuestRateLimit.EmailLimit,
	)
	idempotent := middleware.Idempotency(deps.Store, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Store,
		}, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Payments, deps.Stripe, deps.Webhooks, logg))
		r.Post("/logistics", webhookcontrollers.LogisticsTracking(deps.Shipments, deps.Webhooks, logg))
	})

	r.Route("/api/v1/logistics", func(r chi.Router) {
		r.Use(middleware.LogisticsToken(cfg.Logistics.Token, logg))
		r.Get("/orders", logisticscontrollers.Feed(deps.Shipments, logg))
		r.Post("/orders/{orderId}/tracking_number", logisticscontrollers.TrackingNumber(deps.Shipments, logg))
	})

	r.Route("/api/v1/guest", func(r chi.Router) {
		r.Use(idempotent)
		r.With(middleware.RateLimit(guestPolicy, deps.Store, logg)).Post("/checkout", ordercontrollers.GuestCheckout(deps.Orders, logg))
		r.Post("/orders/{orderId}/payment", paymentcontrollers.GuestInitiate(deps.Payments, logg))
		r.Post("/orders/{orderId}/shipment", shipmentcontrollers.GuestCreate(deps.Shipments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(idempotent)

		r.Route("/cart", func(r chi.Router) {
			r.Post("/", cartcontrollers.CartCreate(deps.Carts, logg))
			r.Get("/", cartcontrollers.CartFetch(deps.Carts, logg))
			r.Delete("/", cartcontrollers.CartClear(deps.Carts, logg))
			r.Post("/items", cartcontrollers.CartAddItem(deps.Carts, logg))
			r.Post("/items/{productId}/increase", cartcontrollers.CartIncreaseItem(deps.Carts, logg))
			r.Post("/items/{productId}/decrease", cartcontrollers.CartDecreaseItem(deps.Carts, logg))
			r.Delete("/items/{productId}", cartcontrollers.CartRemoveItem(deps.Carts, logg))
		})

		r.Post("/checkout", ordercontrollers.Checkout(deps.Orders, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.Post("/{orderId}/payment", paymentcontrollers.Initiate(deps.Payments, logg))
			r.Post("/{orderId}/shipment", shipmentcontrollers.Create(deps.Shipments, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleSuperadmin))
		r.Use(idempotent)

		r.Get("/orders", ordercontrollers.List(deps.Orders, logg))
		r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
		r.Patch("/orders/{orderId}/status", ordercontrollers.AdminSetStatus(deps.Orders, logg))
		r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
	})

	return r
}
