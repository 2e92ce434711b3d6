package shipments

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	shipmentdto "github.com/angelmondragon/storefront-backend/api/controllers/shipments/dto"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	internalshipments "github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type shipmentCreator interface {
	CreateShipment(ctx context.Context, actor orders.Actor, input internalshipments.CreateShipmentInput) (*models.Shipment, error)
}

// Create books the shipment for one of the caller's paid orders.
func Create(svc shipmentCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipment service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload shipmentdto.CreateShipmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.CreateShipment(r.Context(), actor, toInput(payload, orderID, ""))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewShipment(shipment))
	}
}

// GuestCreate books the shipment for a guest order.
func GuestCreate(svc shipmentCreator, logg *logger.Logger) http.HandlerFunc {
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

		var payload shipmentdto.GuestCreateShipmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.CreateShipment(r.Context(), orders.Actor{}, toInput(payload.CreateShipmentRequest, orderID, payload.ContactEmail))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewShipment(shipment))
	}
}

func toInput(payload shipmentdto.CreateShipmentRequest, orderID uuid.UUID, contactEmail string) internalshipments.CreateShipmentInput {
	return internalshipments.CreateShipmentInput{
		OrderID:      orderID,
		ContactEmail: contactEmail,
		Courier:      payload.Courier,
		PickupPoint:  payload.PickupPoint,
		Destination:  payload.Destination,
		Comment:      payload.Comment,
	}
}
