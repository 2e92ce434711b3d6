package cart

import (
	cartdto "github.com/angelmondragon/storefront-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

func newCart(record *models.Cart) cartdto.Cart {
	items := make([]cartdto.CartItem, 0, len(record.Items))
	for _, item := range record.Items {
		line := cartdto.CartItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			PriceAtTime: item.PriceAtTime,
			LineTotal:   item.LineTotal(),
		}
		if item.Product != nil {
			line.Name = item.Product.Name
		}
		items = append(items, line)
	}

	return cartdto.Cart{
		ID:        record.ID,
		UserID:    record.UserID,
		Items:     items,
		Total:     record.Total(),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
