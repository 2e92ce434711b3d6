package logistics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 500
)

// Service is the slice of the shipment service the broker endpoints use.
type Service interface {
	PaidShipmentsFeed(ctx context.Context, since time.Time, limit int) ([]shipments.FeedOrder, error)
	AssignTracking(ctx context.Context, orderID uuid.UUID, input shipments.TrackingNumberInput) (*models.Shipment, error)
}

type ack struct {
	Status string `json:"status"`
}

// Feed lists paid orders awaiting dispatch in the broker's schema. The
// datetime query parameter is required.
func Feed(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipment service unavailable"))
			return
		}
		if strings.TrimSpace(r.URL.Query().Get("datetime")) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "datetime is required").
				WithDetails(map[string]string{"datetime": "is required"}))
			return
		}
		since, err := validators.ParseQueryTime(r, "datetime", time.Time{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultFeedLimit, 1, maxFeedLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		feed, err := svc.PaidShipmentsFeed(r.Context(), since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if feed == nil {
			feed = []shipments.FeedOrder{}
		}
		responses.WriteRaw(w, http.StatusOK, feed)
	}
}

// TrackingNumber stores the label number the broker assigned to an order's
// shipment.
func TrackingNumber(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipment service unavailable"))
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload shipments.TrackingNumberInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.AssignTracking(r.Context(), orderID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(logg.WithOrderID(r.Context(), orderID.String()), map[string]any{
				"shipment_id":     shipment.ID.String(),
				"tracking_number": payload.Number,
			}), "tracking number assigned")
		}
		responses.WriteRaw(w, http.StatusOK, ack{Status: "OK"})
	}
}
