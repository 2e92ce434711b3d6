package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const cartUserConstraint = "carts_user_id_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Service exposes the cart aggregate. Every mutation returns the cart as
// persisted after the change.
type Service interface {
	CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	GetCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error)
	IncreaseItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error)
	DecreaseItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
}

// AddItemInput is the payload of an add-to-cart call.
type AddItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type service struct {
	repo     CartRepository
	tx       txRunner
	products productLoader
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, products productLoader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		products: products,
	}, nil
}

// CreateCart creates the user's only cart. A second call never overwrites.
func (s *service) CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cart, err := s.repo.Create(ctx, &models.Cart{UserID: userID})
	if err != nil {
		if db.IsUniqueViolation(err, cartUserConstraint) || db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	cart.Items = []models.CartItem{}
	return cart, nil
}

// GetCart returns the cart with its items; Total is derived from the snapshots.
func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.loadCart(ctx, s.repo, userID)
}

// AddItem snapshots the live price into a new line, or increments the
// existing line for the product. The cart is created on first use.
func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	product, err := s.loadProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": product.ID})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.ensureCart(ctx, repo, userID)
		if err != nil {
			return err
		}

		item, err := repo.FindItem(ctx, cart.ID, product.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := checkStock(product, input.Quantity); err != nil {
				return err
			}
			line := &models.CartItem{
				CartID:      cart.ID,
				ProductID:   product.ID,
				Quantity:    input.Quantity,
				PriceAtTime: product.Price,
			}
			if err := repo.CreateItem(ctx, line); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
			}
			return nil
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}

		next := item.Quantity + input.Quantity
		if err := checkStock(product, next); err != nil {
			return err
		}
		if err := repo.UpdateItemQuantity(ctx, item.ID, next); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadCart(ctx, s.repo, userID)
}

// IncreaseItem adds one unit to an existing line, refusing to exceed stock.
func (s *service) IncreaseItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
	product, err := s.loadProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.mutateItem(ctx, userID, productID, func(repo CartRepository, item *models.CartItem) error {
		next := item.Quantity + 1
		if err := checkStock(product, next); err != nil {
			return err
		}
		if err := repo.UpdateItemQuantity(ctx, item.ID, next); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		return nil
	})
}

// DecreaseItem removes one unit; the line is deleted when it would reach zero.
func (s *service) DecreaseItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
	return s.mutateItem(ctx, userID, productID, func(repo CartRepository, item *models.CartItem) error {
		if item.Quantity > 1 {
			if err := repo.UpdateItemQuantity(ctx, item.ID, item.Quantity-1); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
			return nil
		}
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}
		return nil
	})
}

// RemoveItem deletes the line for the product regardless of quantity.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
	return s.mutateItem(ctx, userID, productID, func(repo CartRepository, item *models.CartItem) error {
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}
		return nil
	})
}

// Clear empties the cart and keeps it for later use.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cart, err := s.loadCart(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ClearItems(ctx, cart.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	cart.Items = []models.CartItem{}
	return cart, nil
}

func (s *service) mutateItem(ctx context.Context, userID, productID uuid.UUID, fn func(repo CartRepository, item *models.CartItem) error) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadCart(ctx, repo, userID)
		if err != nil {
			return err
		}
		item, err := repo.FindItem(ctx, cart.ID, productID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found").
					WithDetails(map[string]any{"product_id": productID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
		return fn(repo, item)
	})
	if err != nil {
		return nil, err
	}
	return s.loadCart(ctx, s.repo, userID)
}

func (s *service) ensureCart(ctx context.Context, repo CartRepository, userID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	cart, err = repo.Create(ctx, &models.Cart{UserID: userID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return cart, nil
}

func (s *service) loadCart(ctx context.Context, repo CartRepository, userID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return cart, nil
}

func (s *service) loadProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": productID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func checkStock(product *models.Product, quantity int) error {
	if quantity <= product.Stock {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeQuantityExceedsStock, "requested quantity exceeds available stock").
		WithDetails(map[string]any{
			"product_id": product.ID,
			"requested":  quantity,
			"available":  product.Stock,
		})
}
