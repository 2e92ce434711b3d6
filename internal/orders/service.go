package orders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const notEligibleForCancel = "order not found or not eligible for cancellation"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the order lifecycle. Methods suffixed with Tx run inside the
// caller's transaction and never notify; callers notify after commit.
type Service interface {
	CheckoutFromCart(ctx context.Context, actor Actor, input CheckoutInput) (*models.Order, error)
	GuestCheckout(ctx context.Context, input GuestCheckoutInput) (*models.Order, error)
	Cancel(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, allowed []enums.OrderStatus) (*models.Order, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, bool, error)
	SetStatus(ctx context.Context, actor Actor, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error)
	ExpireOrder(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error)
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, actor Actor, filters ListFilters, params pagination.Params) (*OrderList, error)
}

// Deps wires the order service.
type Deps struct {
	Repo     Repository
	Tx       txRunner
	Carts    cart.CartRepository
	Products *product.Repository
	Ledger   inventory.Ledger
	Outbox   outbox.Emitter
	Notifier notifications.Notifier
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	carts    cart.CartRepository
	products *product.Repository
	ledger   inventory.Ledger
	outbox   outbox.Emitter
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

type orderDraft struct {
	userID          *uuid.UUID
	contactEmail    string
	shippingAddress *types.ShippingDestination
	lines           []LineInput
	guest           bool
}

// NewService builds the order service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if deps.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	return &service{
		repo:     deps.Repo,
		tx:       deps.Tx,
		carts:    deps.Carts,
		products: deps.Products,
		ledger:   deps.Ledger,
		outbox:   deps.Outbox,
		notifier: notifier,
		logg:     deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CheckoutFromCart turns the actor's cart into a pending order, debiting stock
// for every line at the live price. Nothing persists unless everything does.
func (s *service) CheckoutFromCart(ctx context.Context, actor Actor, input CheckoutInput) (*models.Order, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	email := strings.TrimSpace(input.ContactEmail)
	if email == "" {
		email = strings.TrimSpace(actor.Email)
	}
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact email is required")
	}
	if input.ShippingAddress != nil {
		if missing := input.ShippingAddress.Missing(); len(missing) > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping destination is incomplete").
				WithDetails(map[string]any{"missing": missing})
		}
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)
		userCart, err := carts.FindByUser(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if len(userCart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		lines := make([]LineInput, 0, len(userCart.Items))
		for _, item := range userCart.Items {
			lines = append(lines, LineInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		userID := actor.UserID
		order, err = s.placeOrder(ctx, tx, actor, orderDraft{
			userID:          &userID,
			contactEmail:    email,
			shippingAddress: input.ShippingAddress,
			lines:           lines,
		})
		if err != nil {
			return err
		}

		if err := carts.ClearItems(ctx, userCart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.OrderConfirmation(order))
	return order, nil
}

// GuestCheckout places an ownerless order for submitted lines. Repeated
// product lines are merged.
func (s *service) GuestCheckout(ctx context.Context, input GuestCheckoutInput) (*models.Order, error) {
	email := strings.TrimSpace(input.ContactEmail)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact email is required")
	}
	dest := input.ShippingAddress
	if strings.TrimSpace(dest.Email) == "" {
		dest.Email = email
	}
	if missing := dest.Missing(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping destination is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	lines, err := mergeLines(input.Items)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.placeOrder(ctx, tx, Actor{Role: enums.ActorRoleCustomer}, orderDraft{
			contactEmail:    email,
			shippingAddress: &dest,
			lines:           lines,
			guest:           true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.OrderConfirmation(order))
	return order, nil
}

func (s *service) placeOrder(ctx context.Context, tx *gorm.DB, actor Actor, draft orderDraft) (*models.Order, error) {
	ids := make([]uuid.UUID, 0, len(draft.lines))
	for _, line := range draft.lines {
		ids = append(ids, line.ProductID)
	}
	catalog, err := s.products.WithTx(tx).FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	var currency enums.Currency
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(draft.lines))
	for i, line := range draft.lines {
		p, ok := catalog[line.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		if !p.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
				WithDetails(map[string]any{"product_id": p.ID})
		}
		if currency == "" {
			currency = p.Currency
		} else if p.Currency != currency {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "products must share one currency")
		}
		items = append(items, models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			WeightG:   p.WeightG,
			Position:  i + 1,
		})
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	// Debit in a stable order so concurrent checkouts lock rows consistently.
	debits := append([]LineInput(nil), draft.lines...)
	sort.Slice(debits, func(i, j int) bool {
		return bytes.Compare(debits[i].ProductID[:], debits[j].ProductID[:]) < 0
	})
	for _, line := range debits {
		if err := s.ledger.Debit(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		UserID:          draft.userID,
		ContactEmail:    draft.contactEmail,
		Status:          enums.OrderStatusPending,
		TotalAmount:     total,
		ShippingCost:    decimal.Zero,
		Currency:        currency,
		ShippingAddress: draft.shippingAddress,
		Items:           items,
	}
	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	itemCount := 0
	for _, item := range items {
		itemCount += item.Quantity
	}
	err = s.emit(ctx, tx, actor, enums.EventOrderCreated, order.ID, payloads.OrderCreatedEvent{
		OrderID:      order.ID,
		UserID:       order.UserID,
		ContactEmail: order.ContactEmail,
		TotalAmount:  order.TotalAmount,
		Currency:     order.Currency,
		ItemCount:    itemCount,
		Guest:        draft.guest,
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel lets the owner cancel a pending order, and admins a pending or paid one.
func (s *service) Cancel(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.loadOrder(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(current) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		reason := CancelReasonCustomer
		if actor.IsPrivileged() {
			reason = CancelReasonAdmin
		}
		order, err = s.cancelTx(ctx, tx, actor, current, reason, cancellableStatuses(actor))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notifications.OrderCancelled(order))
	return order, nil
}

// CancelTx is the in-transaction cancel routine shared with reconcilers.
func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, allowed []enums.OrderStatus) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for cancellation")
	}
	current, err := s.loadOrder(ctx, s.repo.WithTx(tx), orderID)
	if err != nil {
		return nil, err
	}
	return s.cancelTx(ctx, tx, SystemActor(), current, reason, allowed)
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, actor Actor, current *models.Order, reason string, allowed []enums.OrderStatus) (*models.Order, error) {
	if !containsStatus(allowed, current.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, notEligibleForCancel).
			WithDetails(map[string]any{"status": current.Status})
	}

	now := s.now()
	won, err := s.repo.WithTx(tx).MarkCancelled(ctx, current.ID, allowed, reason, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, notEligibleForCancel)
	}

	for _, item := range current.Items {
		if err := s.ledger.Credit(ctx, tx, item.ProductID, item.Quantity); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"order_id":   current.ID.String(),
					"product_id": item.ProductID.String(),
				}), "product removed from catalog, stock not credited")
				continue
			}
			return nil, err
		}
	}

	previous := current.Status
	err = s.emit(ctx, tx, actor, enums.EventOrderCancelled, current.ID, payloads.OrderCancelledEvent{
		OrderID:        current.ID,
		PreviousStatus: previous,
		Reason:         reason,
		CancelledAt:    now,
	})
	if err != nil {
		return nil, err
	}

	current.Status = enums.OrderStatusCancelled
	current.CancelReason = &reason
	current.CancelledAt = &now
	current.UpdatedAt = now
	return current, nil
}

// TransitionTx applies a non-cancel edge of the lifecycle by compare-and-set.
// It reports false without error when the order is not in a source status.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, bool, error) {
	if tx == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for transition")
	}
	if to == enums.OrderStatusCancelled {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, errCancelledTarget, "invalid transition target")
	}
	repo := s.repo.WithTx(tx)
	current, err := s.loadOrder(ctx, repo, orderID)
	if err != nil {
		return nil, false, err
	}
	if !CanTransition(current.Status, to) {
		return current, false, nil
	}

	now := s.now()
	updates := map[string]any{}
	switch to {
	case enums.OrderStatusPaid:
		updates["paid_at"] = now
	case enums.OrderStatusCompleted:
		updates["completed_at"] = now
	}
	won, err := repo.TransitionStatus(ctx, current.ID, []enums.OrderStatus{current.Status}, to, updates)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !won {
		return current, false, nil
	}

	from := current.Status
	err = s.emit(ctx, tx, SystemActor(), enums.EventOrderStatusChanged, current.ID, payloads.OrderStatusChangedEvent{
		OrderID: current.ID,
		From:    from,
		To:      to,
	})
	if err != nil {
		return nil, false, err
	}

	current.Status = to
	current.UpdatedAt = now
	switch to {
	case enums.OrderStatusPaid:
		current.PaidAt = &now
	case enums.OrderStatusCompleted:
		current.CompletedAt = &now
	}
	return current, true, nil
}

// SetStatus is the admin override. Cancelled is routed through Cancel.
func (s *service) SetStatus(ctx context.Context, actor Actor, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	if !actor.IsPrivileged() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if status == enums.OrderStatusCancelled {
		return s.Cancel(ctx, actor, orderID)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.loadOrder(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "status transition not allowed").
				WithDetails(map[string]any{"from": current.Status, "to": status})
		}
		updated, applied, err := s.TransitionTx(ctx, tx, orderID, status)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}
		if status == enums.OrderStatusCompleted {
			shipmentID := uuid.Nil
			if updated.Shipment != nil {
				shipmentID = updated.Shipment.ID
			}
			err = s.emit(ctx, tx, actor, enums.EventOrderCompleted, updated.ID, payloads.OrderCompletedEvent{
				OrderID:     updated.ID,
				ShipmentID:  shipmentID,
				CompletedAt: *updated.CompletedAt,
			})
			if err != nil {
				return err
			}
		}
		order = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if order.Status == enums.OrderStatusCompleted {
		s.notifier.Notify(ctx, notifications.OrderCompleted(order))
	}
	return order, nil
}

// ExpireOrder cancels a pending order created before cutoff. It reports
// whether this call performed the cancellation.
func (s *service) ExpireOrder(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if current.Status != enums.OrderStatusPending || !current.CreatedAt.Before(cutoff) {
			return nil
		}
		order, err = s.cancelTx(ctx, tx, SystemActor(), current, CancelReasonExpired, []enums.OrderStatus{enums.OrderStatusPending})
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Debug(s.logg.WithOrderID(ctx, orderID.String()), "expiry lost cancellation race")
			order = nil
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}

	s.notifier.Notify(ctx, notifications.OrderCancelled(order))
	return true, nil
}

// PendingBefore lists candidates for the expiry sweep.
func (s *service) PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.FindPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired orders")
	}
	return ids, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

// ListForUser returns the actor's orders; privileged actors see every order.
func (s *service) ListForUser(ctx context.Context, actor Actor, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if !actor.IsPrivileged() {
		if actor.UserID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
		}
		userID := actor.UserID
		filters.UserID = &userID
	}
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page, more := pagination.Trim(rows, params.Limit)
	list := &OrderList{Orders: page}
	if more {
		last := page[len(page)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if list.Orders == nil {
		list.Orders = []models.Order{}
	}
	return list, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, orderID uuid.UUID, data any) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor.outboxRef(),
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
	}
	return nil
}

func mergeLines(items []LineInput) ([]LineInput, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]LineInput, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if pos, ok := index[item.ProductID]; ok {
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
