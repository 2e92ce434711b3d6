package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Notification is a customer-facing message handed to the mailer.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Kind      enums.NotificationKind `json:"kind"`
	OrderID   uuid.UUID              `json:"order_id"`
	Recipient string                 `json:"recipient"`
	Data      map[string]any         `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sender delivers a notification synchronously.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier accepts notifications after commit; implementations must not block
// the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

type lineSummary struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func newNotification(kind enums.NotificationKind, order *models.Order, data map[string]any) Notification {
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = order.Status
	data["total_amount"] = order.TotalAmount
	data["currency"] = order.Currency
	return Notification{
		ID:        uuid.New(),
		Kind:      kind,
		OrderID:   order.ID,
		Recipient: order.ContactEmail,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// OrderConfirmation summarizes a freshly placed order.
func OrderConfirmation(order *models.Order) Notification {
	lines := make([]lineSummary, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, lineSummary{Name: item.Name, Quantity: item.Quantity, Price: item.Price})
	}
	return newNotification(enums.NotificationOrderConfirmation, order, map[string]any{
		"items": lines,
	})
}

// PaymentConfirmation is sent once the order is paid.
func PaymentConfirmation(order *models.Order) Notification {
	data := map[string]any{}
	if order.PaidAt != nil {
		data["paid_at"] = order.PaidAt.UTC()
	}
	return newNotification(enums.NotificationPaymentConfirmation, order, data)
}

// ShipmentDispatched carries the tracking number assigned by the courier.
func ShipmentDispatched(order *models.Order, trackingNumber string, courier enums.Courier) Notification {
	return newNotification(enums.NotificationShipmentDispatched, order, map[string]any{
		"tracking_number": trackingNumber,
		"courier":         courier,
	})
}

// OrderCancelled explains why the order was cancelled.
func OrderCancelled(order *models.Order) Notification {
	reason := ""
	if order.CancelReason != nil {
		reason = *order.CancelReason
	}
	return newNotification(enums.NotificationOrderCancelled, order, map[string]any{
		"reason": reason,
	})
}

// OrderCompleted is sent after delivery is confirmed.
func OrderCompleted(order *models.Order) Notification {
	return newNotification(enums.NotificationOrderCompleted, order, nil)
}
