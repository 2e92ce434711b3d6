package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	internalwebhooks "github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const maxWebhookBody = 1 << 20

type paymentReconciler interface {
	HandleWebhook(ctx context.Context, event internalwebhooks.Event) (*payments.WebhookResult, error)
}

type stripeVerifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeWebhook verifies and reconciles Stripe checkout events. Redeliveries
// are acknowledged without being applied again.
func StripeWebhook(svc paymentReconciler, client stripeVerifier, counters *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	provider := string(enums.ProviderStripe)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			counters.Observe(provider, metrics.WebhookRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := client.VerifyEvent(payload, sigHeader)
		if err != nil {
			counters.Observe(provider, metrics.WebhookRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "verify signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"webhook_event_id":   event.ID,
				"webhook_event_type": string(event.Type),
			})
		}

		result, err := svc.HandleWebhook(ctx, payments.FromStripeEvent(event, payload))
		if err != nil {
			counters.Observe(provider, metrics.WebhookFailed)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome := webhookOutcome(result.Duplicate, result.Applied)
		counters.Observe(provider, outcome)
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", outcome), "stripe event processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": outcome})
	}
}

func webhookOutcome(duplicate, applied bool) string {
	switch {
	case duplicate:
		return metrics.WebhookDuplicate
	case applied:
		return metrics.WebhookApplied
	default:
		return metrics.WebhookIgnored
	}
}
