package cart

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	cartdto "github.com/angelmondragon/storefront-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// CartCreate creates the caller's cart. A second call is a conflict.
func CartCreate(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withUser(svc, logg, http.StatusCreated, func(ctx context.Context, _ *http.Request, userID uuid.UUID) (*models.Cart, error) {
		return svc.CreateCart(ctx, userID)
	})
}

// CartFetch returns the caller's cart with the derived total.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withUser(svc, logg, http.StatusOK, func(ctx context.Context, _ *http.Request, userID uuid.UUID) (*models.Cart, error) {
		return svc.GetCart(ctx, userID)
	})
}

// CartAddItem adds a product line or bumps an existing one.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withUser(svc, logg, http.StatusOK, func(ctx context.Context, r *http.Request, userID uuid.UUID) (*models.Cart, error) {
		var payload cartdto.AddItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.AddItem(ctx, userID, cartsvc.AddItemInput{
			ProductID: payload.ProductID,
			Quantity:  payload.Quantity,
		})
	})
}

func CartIncreaseItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withProduct(svc, logg, func(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
		return svc.IncreaseItem(ctx, userID, productID)
	})
}

// CartDecreaseItem decrements a line; reaching zero removes it.
func CartDecreaseItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withProduct(svc, logg, func(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
		return svc.DecreaseItem(ctx, userID, productID)
	})
}

func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withProduct(svc, logg, func(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
		return svc.RemoveItem(ctx, userID, productID)
	})
}

// CartClear empties the cart but keeps it.
func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withUser(svc, logg, http.StatusOK, func(ctx context.Context, _ *http.Request, userID uuid.UUID) (*models.Cart, error) {
		return svc.Clear(ctx, userID)
	})
}

type cartAction func(ctx context.Context, r *http.Request, userID uuid.UUID) (*models.Cart, error)

func withUser(svc cartsvc.Service, logg *logger.Logger, status int, action cartAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		record, err := action(r.Context(), r, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, status, newCart(record))
	}
}

func withProduct(svc cartsvc.Service, logg *logger.Logger, fn func(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error)) http.HandlerFunc {
	return withUser(svc, logg, http.StatusOK, func(ctx context.Context, r *http.Request, userID uuid.UUID) (*models.Cart, error) {
		productID, err := validators.URLParamUUID(r, "productId")
		if err != nil {
			return nil, err
		}
		return fn(ctx, userID, productID)
	})
}
