// Package inventory moves product stock with single-statement conditional
// updates that always run inside the caller's transaction.
package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Ledger debits and credits product stock.
type Ledger interface {
	Debit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Credit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// StockShortage is attached to INSUFFICIENT_STOCK errors.
type StockShortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

type ledger struct{}

// NewLedger returns the SQL-backed ledger.
func NewLedger() Ledger {
	return ledger{}
}

func (ledger) Debit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validate(tx, productID, qty); err != nil {
		return err
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?`,
		qty, tx.NowFunc(), productID, qty,
	)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "debit stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var product models.Product
	if err := tx.WithContext(ctx).Select("id", "stock").First(&product, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": productID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(StockShortage{ProductID: productID, Requested: qty, Available: product.Stock})
}

func (ledger) Credit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validate(tx, productID, qty); err != nil {
		return err
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
		qty, tx.NowFunc(), productID,
	)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "credit stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID})
	}
	return nil
}

func validate(tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock change")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
