package shipments

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for shipments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, shipment *models.Shipment) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPaid(ctx context.Context, since time.Time, limit int) ([]models.Shipment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Shipment{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPaid returns shipments of paid orders created after since, oldest first,
// with the order and its line items loaded.
func (r *repository) ListPaid(ctx context.Context, since time.Time, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = shipments.order_id").
		Where("orders.status = ? AND orders.created_at > ?", enums.OrderStatusPaid, since).
		Order("orders.created_at ASC").
		Order("shipments.id ASC").
		Limit(limit).
		Preload("Order").
		Preload("Order.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
