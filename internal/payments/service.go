package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

const shippingLineName = "Shipping"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type checkoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req pkgstripe.CheckoutRequest) (pkgstripe.CheckoutSession, error)
}

type orderLifecycle interface {
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, bool, error)
	CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, allowed []enums.OrderStatus) (*models.Order, error)
}

// Service opens provider checkouts and reconciles provider webhooks.
type Service interface {
	Initiate(ctx context.Context, actor orders.Actor, input InitiateInput) (*InitiateResult, error)
	HandleWebhook(ctx context.Context, event webhooks.Event) (*WebhookResult, error)
}

// InitiateInput identifies the order to pay. ContactEmail authorizes guest
// orders, which have no owner.
type InitiateInput struct {
	OrderID      uuid.UUID
	ContactEmail string
}

// InitiateResult is returned to the client, which redirects to RedirectURL.
type InitiateResult struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
}

// WebhookResult describes what a delivery did. Duplicate deliveries return the
// stored event and apply nothing.
type WebhookResult struct {
	Event     *models.WebhookEvent
	Duplicate bool
	Applied   bool
}

// ServiceParams wires the payment service.
type ServiceParams struct {
	Repo      Repository
	Orders    orders.Repository
	Lifecycle orderLifecycle
	Webhooks  *webhooks.Repository
	Provider  checkoutProvider
	Tx        txRunner
	Outbox    outbox.Emitter
	Notifier  notifications.Notifier
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	orders    orders.Repository
	lifecycle orderLifecycle
	webhooks  *webhooks.Repository
	provider  checkoutProvider
	tx        txRunner
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	logg      *logger.Logger
}

// NewService validates dependencies and builds the payment service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Lifecycle == nil:
		return nil, fmt.Errorf("order lifecycle required")
	case params.Webhooks == nil:
		return nil, fmt.Errorf("webhook repository required")
	case params.Provider == nil:
		return nil, fmt.Errorf("checkout provider required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
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
		provider:  params.Provider,
		tx:        params.Tx,
		outbox:    params.Outbox,
		notifier:  notifier,
		logg:      params.Logger,
	}, nil
}

// Initiate opens a checkout session for a pending order and records the
// pending payment keyed by the session id.
func (s *service) Initiate(ctx context.Context, actor orders.Actor, input InitiateInput) (*InitiateResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if err := authorizePayer(actor, order, input.ContactEmail); err != nil {
		return nil, err
	}
	if order.Payment != nil && order.Payment.Status == enums.PaymentStatusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}

	session, err := s.provider.CreateCheckoutSession(ctx, checkoutRequest(order))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open checkout session")
	}

	var payment *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByOrder(ctx, order.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			payment = &models.Payment{
				OrderID:           order.ID,
				Provider:          enums.ProviderStripe,
				ProviderPaymentID: session.ID,
				Status:            enums.PaymentStatusPending,
				Amount:            order.TotalAmount,
				Currency:          order.Currency,
			}
			if err := repo.Create(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
			}
			return nil
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}

		rekeyed, err := repo.Rekey(ctx, existing.ID, session.ID, order.TotalAmount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
		if !rekeyed {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
		}
		existing.ProviderPaymentID = session.ID
		existing.Status = enums.PaymentStatusPending
		existing.Amount = order.TotalAmount
		payment = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		PaymentID:   payment.ID,
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

func authorizePayer(actor orders.Actor, order *models.Order, contactEmail string) error {
	if order.UserID == nil {
		if !strings.EqualFold(strings.TrimSpace(contactEmail), order.ContactEmail) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "contact email does not match order")
		}
		return nil
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !order.IsOwnedBy(actor.UserID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return nil
}

func checkoutRequest(order *models.Order) pkgstripe.CheckoutRequest {
	lines := make([]pkgstripe.CheckoutLine, 0, len(order.Items)+1)
	for _, item := range order.Items {
		lines = append(lines, pkgstripe.CheckoutLine{
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  int64(item.Quantity),
		})
	}
	if order.ShippingCost.IsPositive() {
		lines = append(lines, pkgstripe.CheckoutLine{
			Name:      shippingLineName,
			UnitPrice: order.ShippingCost,
			Quantity:  1,
		})
	}
	return pkgstripe.CheckoutRequest{
		OrderID:       order.ID,
		Currency:      order.Currency,
		CustomerEmail: order.ContactEmail,
		Lines:         lines,
	}
}

type webhookOutcome struct {
	handled   bool
	applied   bool
	paid      *models.Order
	cancelled *models.Order
}

// HandleWebhook records the delivery and applies its effects at most once,
// all in one transaction.
func (s *service) HandleWebhook(ctx context.Context, event webhooks.Event) (*WebhookResult, error) {
	if err := event.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook event")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":   event.Provider,
		"event_id":   event.EventID,
		"event_type": event.EventType,
	})

	result := &WebhookResult{}
	var outcome webhookOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		hooks := s.webhooks.WithTx(tx)
		row, inserted, err := hooks.Record(ctx, event)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		result.Event = row
		if !inserted {
			result.Duplicate = true
			return nil
		}

		outcome, err = s.apply(ctx, tx, event)
		if err != nil {
			return err
		}
		if !outcome.handled {
			return nil
		}
		if err := hooks.MarkProcessed(ctx, row.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook processed")
		}
		row.Processed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.logg.Info(ctx, "duplicate webhook delivery ignored")
		return result, nil
	}
	result.Applied = outcome.applied
	if outcome.paid != nil {
		s.notifier.Notify(ctx, notifications.PaymentConfirmation(outcome.paid))
	}
	if outcome.cancelled != nil {
		s.notifier.Notify(ctx, notifications.OrderCancelled(outcome.cancelled))
	}
	return result, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, event webhooks.Event) (webhookOutcome, error) {
	switch stripe.EventType(event.EventType) {
	case stripe.EventTypeCheckoutSessionCompleted:
		session, err := decodeCheckoutSession(event.Payload)
		if err != nil {
			return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout session payload")
		}
		if session.unpaid() {
			s.logg.Info(ctx, "checkout completed with payment still pending")
			return webhookOutcome{}, nil
		}
		return s.applySucceeded(ctx, tx, session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeCheckoutSession(event.Payload)
		if err != nil {
			return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout session payload")
		}
		return s.applySucceeded(ctx, tx, session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		session, err := decodeCheckoutSession(event.Payload)
		if err != nil {
			return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout session payload")
		}
		return s.applyFailed(ctx, tx, session)
	default:
		s.logg.Info(ctx, "webhook event type not handled")
		return webhookOutcome{}, nil
	}
}

func (s *service) applySucceeded(ctx context.Context, tx *gorm.DB, session checkoutSession) (webhookOutcome, error) {
	payment, err := s.findPayment(ctx, tx, session, false)
	if err != nil || payment == nil {
		return webhookOutcome{}, err
	}
	ctx = s.logg.WithOrderID(ctx, payment.OrderID.String())

	won, err := s.repo.WithTx(tx).TransitionStatus(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusSuccess, session.paymentMethod())
	if err != nil {
		return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
	}
	if !won {
		s.logg.Info(ctx, "payment already settled")
		return webhookOutcome{handled: true}, nil
	}

	order, applied, err := s.lifecycle.TransitionTx(ctx, tx, payment.OrderID, enums.OrderStatusPaid)
	if err != nil {
		return webhookOutcome{}, err
	}
	if !applied {
		s.logg.Warn(s.logg.WithField(ctx, "order_status", order.Status),
			"payment captured for order that is no longer pending")
		return webhookOutcome{handled: true}, nil
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{Role: enums.ActorRoleSystem},
		Data: payloads.OrderPaidEvent{
			OrderID:           order.ID,
			PaymentID:         payment.ID,
			ProviderPaymentID: payment.ProviderPaymentID,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
			PaidAt:            *order.PaidAt,
		},
	})
	if err != nil {
		return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
	}
	return webhookOutcome{handled: true, applied: true, paid: order}, nil
}

func (s *service) applyFailed(ctx context.Context, tx *gorm.DB, session checkoutSession) (webhookOutcome, error) {
	payment, err := s.findPayment(ctx, tx, session, true)
	if err != nil || payment == nil {
		return webhookOutcome{}, err
	}
	ctx = s.logg.WithOrderID(ctx, payment.OrderID.String())

	won, err := s.repo.WithTx(tx).TransitionStatus(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusFailed, session.paymentMethod())
	if err != nil {
		return webhookOutcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
	}
	if !won {
		s.logg.Info(ctx, "payment already settled")
		return webhookOutcome{handled: true}, nil
	}

	order, err := s.lifecycle.CancelTx(ctx, tx, payment.OrderID, orders.CancelReasonPaymentFailed,
		[]enums.OrderStatus{enums.OrderStatusPending})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Info(ctx, "order not cancellable after payment failure")
			return webhookOutcome{handled: true, applied: true}, nil
		}
		return webhookOutcome{}, err
	}
	return webhookOutcome{handled: true, applied: true, cancelled: order}, nil
}

// findPayment resolves the payment by session id, falling back to the order
// id carried in the session. With sameSession set the fallback only accepts a
// payment not yet keyed to another session, so a superseded session cannot
// settle the live one. A nil payment means the event is acknowledged without
// effect.
func (s *service) findPayment(ctx context.Context, tx *gorm.DB, session checkoutSession, sameSession bool) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByProviderPaymentID(ctx, session.ID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	orderID, ok := session.orderID()
	if ok {
		payment, err = repo.FindByOrder(ctx, orderID)
		if err == nil {
			if sameSession && payment.ProviderPaymentID != "" && payment.ProviderPaymentID != session.ID {
				s.logg.Info(s.logg.WithFields(ctx, map[string]any{
					"session_id":      session.ID,
					"live_session_id": payment.ProviderPaymentID,
				}), "event for superseded checkout session ignored")
				return nil, nil
			}
			return payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
	}
	s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID), "no payment matches checkout session")
	return nil, nil
}
