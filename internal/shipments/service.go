package shipments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/couriers"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderLifecycle interface {
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, bool, error)
}

// Service books shipments and reconciles broker tracking updates.
type Service interface {
	CreateShipment(ctx context.Context, actor orders.Actor, input CreateShipmentInput) (*models.Shipment, error)
	AssignTracking(ctx context.Context, orderID uuid.UUID, input TrackingNumberInput) (*models.Shipment, error)
	HandleTrackingEvent(ctx context.Context, event TrackingEvent) (*TrackingResult, error)
	PaidShipmentsFeed(ctx context.Context, since time.Time, limit int) ([]FeedOrder, error)
}

// ServiceParams wires the shipment service.
type ServiceParams struct {
	Repo        Repository
	Orders      orders.Repository
	Lifecycle   orderLifecycle
	Webhooks    *webhooks.Repository
	Tx          txRunner
	Outbox      outbox.Emitter
	Notifier    notifications.Notifier
	Logger      *logger.Logger
	WebhookSalt string
}

type service struct {
	repo      Repository
	orders    orders.Repository
	lifecycle orderLifecycle
	webhooks  *webhooks.Repository
	tx        txRunner
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	logg      *logger.Logger
	salt      string
	now       func() time.Time
}

// NewService validates dependencies and builds the shipment service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("shipments repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Lifecycle == nil:
		return nil, fmt.Errorf("order lifecycle required")
	case params.Webhooks == nil:
		return nil, fmt.Errorf("webhook repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case strings.TrimSpace(params.WebhookSalt) == "":
		return nil, fmt.Errorf("logistics webhook salt required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	return &service{
		repo:      params.Repo,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		webhooks:  params.Webhooks,
		tx:        params.Tx,
		outbox:    params.Outbox,
		notifier:  notifier,
		logg:      params.Logger,
		salt:      params.WebhookSalt,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateShipment books the single shipment of an order and folds the courier
// rate into the order total.
func (s *service) CreateShipment(ctx context.Context, actor orders.Actor, input CreateShipmentInput) (*models.Shipment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Courier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid courier").
			WithDetails(map[string]any{"courier": input.Courier})
	}
	rate, err := couriers.Rate(input.Courier)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "courier has no rate")
	}
	deliveryType := couriers.DeliveryTypeFor(input.Courier)
	if deliveryType == enums.DeliveryTypePaczkomat &&
		(input.PickupPoint == nil || strings.TrimSpace(input.PickupPoint.Code) == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup point code required for paczkomat delivery")
	}

	var shipment *models.Shipment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if err := authorize(actor, order, input.ContactEmail); err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed").
				WithDetails(map[string]any{"status": order.Status})
		}
		if order.Shipment != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has a shipment")
		}

		dest := input.Destination
		if dest == nil {
			dest = order.ShippingAddress
		}
		if dest == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipping destination required")
		}
		recipient := *dest
		if strings.TrimSpace(recipient.Email) == "" {
			recipient.Email = order.ContactEmail
		}
		if missing := recipient.Missing(); len(missing) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipping destination is incomplete").
				WithDetails(map[string]any{"missing": missing})
		}

		row := &models.Shipment{
			OrderID:      order.ID,
			Courier:      input.Courier,
			DeliveryType: deliveryType,
			FullName:     strings.TrimSpace(recipient.FullName),
			Email:        strings.TrimSpace(recipient.Email),
			Phone:        strings.TrimSpace(recipient.Phone),
			Street:       strings.TrimSpace(recipient.Street),
			City:         strings.TrimSpace(recipient.City),
			PostalCode:   strings.TrimSpace(recipient.PostalCode),
			Country:      recipient.CountryCode(),
			Company:      optional(recipient.Company),
			NIP:          optional(recipient.NIP),
			Comment:      optional(input.Comment),
			Status:       enums.ShipmentStatusPending,
		}
		if deliveryType == enums.DeliveryTypePaczkomat {
			row.PickupPointCode = optional(input.PickupPoint.Code)
			row.PickupPointName = optional(input.PickupPoint.Name)
			row.PickupPointAddress = optional(input.PickupPoint.Address)
		}
		if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has a shipment")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}
		if err := s.orders.WithTx(tx).AddShippingCost(ctx, order.ID, rate); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply shipping cost")
		}

		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentCreated,
			AggregateType: enums.AggregateShipment,
			AggregateID:   row.ID,
			Actor:         actorRef(actor),
			Data: payloads.ShipmentCreatedEvent{
				OrderID:      order.ID,
				ShipmentID:   row.ID,
				Courier:      row.Courier,
				ShippingCost: rate,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
		}
		shipment = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

func authorize(actor orders.Actor, order *models.Order, contactEmail string) error {
	if actor.CanAccess(order) {
		return nil
	}
	if order.UserID == nil && contactEmail != "" &&
		strings.EqualFold(strings.TrimSpace(contactEmail), order.ContactEmail) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
}

func actorRef(actor orders.Actor) *outbox.ActorRef {
	ref := &outbox.ActorRef{Role: actor.Role}
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		ref.UserID = &id
	}
	return ref
}

// AssignTracking stores the broker's tracking number and tells the customer
// the parcel is on its way.
func (s *service) AssignTracking(ctx context.Context, orderID uuid.UUID, input TrackingNumberInput) (*models.Shipment, error) {
	number := strings.TrimSpace(input.Number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		shipment *models.Shipment
		order    *models.Order
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Shipment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		shipment = order.Shipment
		if err := s.repo.WithTx(tx).Update(ctx, shipment.ID, map[string]any{"tracking_number": number}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tracking number")
		}
		shipment.TrackingNumber = &number
		return nil
	})
	if err != nil {
		return nil, err
	}

	if service := strings.TrimSpace(input.CourierService); service != "" && service != shipment.Courier.String() {
		s.logg.Info(s.logg.WithField(ctx, "courier_service", service), "broker reported a different courier service")
	}
	s.notifier.Notify(ctx, notifications.ShipmentDispatched(order, number, shipment.Courier))
	return shipment, nil
}

// HandleTrackingEvent verifies the control digest and applies the parcel
// state. Redeliveries of the same (package, state, datetime) are no-ops.
func (s *service) HandleTrackingEvent(ctx context.Context, event TrackingEvent) (*TrackingResult, error) {
	if !VerifyControl(event, s.salt) {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "control digest mismatch")
	}
	state := enums.NormalizeTrackingState(event.Tracking.State)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"package_id":     event.PackageID,
		"tracking_state": string(state),
	})

	orderID, err := uuid.Parse(strings.TrimSpace(event.PartnerOrderID))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "partner_order_id", event.PartnerOrderID), "tracking event for unknown order")
		return &TrackingResult{}, nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	payload, err := trackingPayload(event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode tracking event")
	}

	result := &TrackingResult{}
	var completed *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		hooks := s.webhooks.WithTx(tx)
		row, inserted, err := hooks.Record(ctx, webhooks.Event{
			Provider:  enums.ProviderLogistics,
			EventID:   event.eventID(),
			EventType: string(state),
			Payload:   payload,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record tracking event")
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		shipment, err := s.repo.WithTx(tx).FindByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logg.Warn(ctx, "tracking event for order without shipment")
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		result.Shipment = shipment

		applied, order, err := s.applyState(ctx, tx, shipment, state)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		result.Applied = true
		completed = order
		if err := hooks.MarkProcessed(ctx, row.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark tracking event processed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.logg.Info(ctx, "duplicate tracking event ignored")
		return result, nil
	}
	if completed != nil {
		s.notifier.Notify(ctx, notifications.OrderCompleted(completed))
	}
	return result, nil
}

// applyState returns the order when this event completed it.
func (s *service) applyState(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, state enums.TrackingState) (bool, *models.Order, error) {
	repo := s.repo.WithTx(tx)
	now := s.now()

	switch {
	case state == enums.TrackingStateDelivered:
		updates := map[string]any{"status": enums.ShipmentStatusSuccess}
		if shipment.DeliveredAt == nil {
			updates["delivered_at"] = now
			shipment.DeliveredAt = &now
		}
		if err := repo.Update(ctx, shipment.ID, updates); err != nil {
			return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}
		shipment.Status = enums.ShipmentStatusSuccess

		order, applied, err := s.lifecycle.TransitionTx(ctx, tx, shipment.OrderID, enums.OrderStatusCompleted)
		if err != nil {
			return false, nil, err
		}
		if !applied {
			s.logg.Info(s.logg.WithField(ctx, "order_status", order.Status), "delivery did not change order status")
			return true, nil, nil
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Role: enums.ActorRoleSystem},
			Data: payloads.OrderCompletedEvent{
				OrderID:     order.ID,
				ShipmentID:  shipment.ID,
				CompletedAt: *order.CompletedAt,
			},
		})
		if err != nil {
			return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
		}
		return true, order, nil

	case state.IsInTransit():
		updates := map[string]any{"status": enums.ShipmentStatusPending}
		if shipment.ShippedAt == nil {
			updates["shipped_at"] = now
			shipment.ShippedAt = &now
		}
		if err := repo.Update(ctx, shipment.ID, updates); err != nil {
			return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}
		shipment.Status = enums.ShipmentStatusPending
		return true, nil, nil

	case state.IsFailure():
		if err := repo.Update(ctx, shipment.ID, map[string]any{"status": enums.ShipmentStatusFailed}); err != nil {
			return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}
		shipment.Status = enums.ShipmentStatusFailed
		order, err := s.orders.WithTx(tx).FindByID(ctx, shipment.OrderID)
		if err == nil && order.Status == enums.OrderStatusCompleted {
			s.logg.Warn(ctx, "parcel failure reported after order completion")
		}
		return true, nil, nil

	default:
		s.logg.Info(ctx, "tracking state not handled")
		return false, nil, nil
	}
}

// PaidShipmentsFeed lists shipments of paid orders placed after since, in the
// broker's order schema.
func (s *service) PaidShipmentsFeed(ctx context.Context, since time.Time, limit int) ([]FeedOrder, error) {
	rows, err := s.repo.ListPaid(ctx, since.UTC(), pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list paid shipments")
	}
	feed := make([]FeedOrder, 0, len(rows))
	for _, row := range rows {
		if row.Order == nil {
			continue
		}
		feed = append(feed, toFeedOrder(row))
	}
	return feed, nil
}
