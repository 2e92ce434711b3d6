package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type trackingReconciler interface {
	HandleTrackingEvent(ctx context.Context, event shipments.TrackingEvent) (*shipments.TrackingResult, error)
}

type brokerAck struct {
	Status string `json:"status"`
}

// LogisticsTracking applies parcel tracking updates pushed by the logistics
// broker. The broker expects a bare {"status": ...} body, not the API envelope.
func LogisticsTracking(svc trackingReconciler, counters *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	provider := string(enums.ProviderLogistics)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipment service unavailable"))
			return
		}

		var event shipments.TrackingEvent
		if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&event); err != nil {
			counters.Observe(provider, metrics.WebhookRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tracking payload"))
			return
		}

		result, err := svc.HandleTrackingEvent(ctx, event)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeIntegrity) {
				counters.Observe(provider, metrics.WebhookRejected)
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "package_id", event.PackageID), "tracking control digest mismatch")
				}
				responses.WriteRaw(w, http.StatusUnauthorized, brokerAck{Status: "ERROR"})
				return
			}
			counters.Observe(provider, metrics.WebhookFailed)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		counters.Observe(provider, webhookOutcome(result.Duplicate, result.Applied))
		responses.WriteRaw(w, http.StatusOK, brokerAck{Status: "OK"})
	}
}
