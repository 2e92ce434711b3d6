package orders

import (
	orderdto "github.com/angelmondragon/storefront-backend/api/controllers/orders/dto"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// NewOrder maps the aggregate onto its API view. Payment and shipment are
// included when loaded.
func NewOrder(order *models.Order) orderdto.Order {
	items := make([]orderdto.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderdto.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}

	out := orderdto.Order{
		ID:              order.ID,
		UserID:          order.UserID,
		ContactEmail:    order.ContactEmail,
		Status:          order.Status,
		Currency:        order.Currency,
		ItemsTotal:      order.ItemsTotal(),
		ShippingCost:    order.ShippingCost,
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		CancelReason:    order.CancelReason,
		Items:           items,
		PaidAt:          order.PaidAt,
		CancelledAt:     order.CancelledAt,
		CompletedAt:     order.CompletedAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if p := order.Payment; p != nil {
		out.Payment = &orderdto.Payment{
			ID:            p.ID,
			Provider:      p.Provider,
			Status:        p.Status,
			PaymentMethod: p.PaymentMethod,
			Amount:        p.Amount,
		}
	}
	if s := order.Shipment; s != nil {
		out.Shipment = &orderdto.Shipment{
			ID:             s.ID,
			Courier:        s.Courier,
			DeliveryType:   s.DeliveryType,
			Status:         s.Status,
			TrackingNumber: s.TrackingNumber,
			ShippedAt:      s.ShippedAt,
			DeliveredAt:    s.DeliveredAt,
		}
	}
	return out
}

func newOrderList(orders []models.Order, next string) orderdto.OrderList {
	list := orderdto.OrderList{Orders: make([]orderdto.Order, 0, len(orders)), NextCursor: next}
	for i := range orders {
		list.Orders = append(list.Orders, NewOrder(&orders[i]))
	}
	return list
}
