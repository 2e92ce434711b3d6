package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type fakeExpirer struct {
	pending []uuid.UUID
	failing map[uuid.UUID]error
	stale   map[uuid.UUID]bool
	cutoff  time.Time
	expired []uuid.UUID
}

func (f *fakeExpirer) PendingBefore(_ context.Context, cutoff time.Time, _ int) ([]uuid.UUID, error) {
	f.cutoff = cutoff
	return f.pending, nil
}

func (f *fakeExpirer) ExpireOrder(_ context.Context, id uuid.UUID, _ time.Time) (bool, error) {
	if err := f.failing[id]; err != nil {
		return false, err
	}
	if f.stale[id] {
		return false, nil
	}
	f.expired = append(f.expired, id)
	return true, nil
}

type cancelRecorder struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
}

func (r *cancelRecorder) Notify(_ context.Context, n notifications.Notification) {
	if n.Kind != enums.NotificationOrderCancelled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, n.OrderID)
}

func newExpiryJob(t *testing.T, expirer orderExpirer, maxAge time.Duration) *orderExpiryJob {
	t.Helper()
	jobIface, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Orders: expirer,
		MaxAge: maxAge,
	})
	if err != nil {
		t.Fatalf("NewOrderExpiryJob: %v", err)
	}
	return jobIface.(*orderExpiryJob)
}

func TestOrderExpiryJobCollectsErrorsAndContinues(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	expirer := &fakeExpirer{
		pending: []uuid.UUID{a, b, c, d},
		failing: map[uuid.UUID]error{b: errors.New("deadlock"), d: errors.New("timeout")},
		stale:   map[uuid.UUID]bool{c: true},
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job := newExpiryJob(t, expirer, 0)
	job.now = func() time.Time { return now }

	expired, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("expected 2 errors, got %d", n)
	}
	if expired != 1 || len(expirer.expired) != 1 || expirer.expired[0] != a {
		t.Fatalf("expected only %s expired, got %v", a, expirer.expired)
	}
	if !expirer.cutoff.Equal(now.Add(-defaultExpiryAge)) {
		t.Fatalf("unexpected cutoff %s", expirer.cutoff)
	}
}

func TestOrderExpiryJobNoCandidatesIsNoop(t *testing.T) {
	job := newExpiryJob(t, &fakeExpirer{}, time.Hour)
	expired, err := job.Run(context.Background())
	if err != nil || expired != 0 {
		t.Fatalf("expected no-op, got %d %v", expired, err)
	}
}

func TestOrderExpiryJobCancelsStaleOrdersAndRestocks(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "expiry-test", Output: io.Discard})
	notifier := &cancelRecorder{}
	svc, err := orders.NewService(orders.Deps{
		Repo:     orders.NewRepository(conn),
		Tx:       db.NewFromConn(conn),
		Carts:    cart.NewRepository(conn),
		Products: product.NewRepository(conn),
		Ledger:   inventory.NewLedger(),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}

	item := models.Product{Name: "Lamp", Price: decimal.RequireFromString("40.00"), Currency: enums.CurrencyPLN, Stock: 10, WeightG: 900, IsActive: true}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	place := func(qty int) *models.Order {
		order, err := svc.GuestCheckout(ctx, orders.GuestCheckoutInput{
			ContactEmail: "guest@example.com",
			ShippingAddress: types.ShippingDestination{
				FullName: "Ola Lis", Phone: "+48123123123", Street: "Lipowa 2", City: "Poznan", PostalCode: "60-001",
			},
			Items: []orders.LineInput{{ProductID: item.ID, Quantity: qty}},
		})
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		return order
	}
	backdate := func(id uuid.UUID, status enums.OrderStatus) {
		err := conn.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]any{
			"created_at": time.Now().UTC().Add(-2 * time.Hour),
			"status":     status,
		}).Error
		if err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	stale := place(2)
	backdate(stale.ID, enums.OrderStatusPending)
	paid := place(3)
	backdate(paid.ID, enums.OrderStatusPaid)
	fresh := place(1)

	job := newExpiryJob(t, svc, time.Hour)
	expired, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired order, got %d", expired)
	}

	statusOf := func(id uuid.UUID) enums.OrderStatus {
		var row models.Order
		if err := conn.First(&row, "id = ?", id).Error; err != nil {
			t.Fatalf("load order: %v", err)
		}
		return row.Status
	}
	if got := statusOf(stale.ID); got != enums.OrderStatusCancelled {
		t.Fatalf("stale order: expected cancelled, got %s", got)
	}
	if got := statusOf(paid.ID); got != enums.OrderStatusPaid {
		t.Fatalf("paid order: expected paid, got %s", got)
	}
	if got := statusOf(fresh.ID); got != enums.OrderStatusPending {
		t.Fatalf("fresh order: expected pending, got %s", got)
	}
	if len(notifier.cancelled) != 1 || notifier.cancelled[0] != stale.ID {
		t.Fatalf("expected one cancellation notice for %s, got %v", stale.ID, notifier.cancelled)
	}

	var stock models.Product
	if err := conn.First(&stock, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if stock.Stock != 6 {
		t.Fatalf("expected stock 6 after restock, got %d", stock.Stock)
	}

	again, err := job.Run(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep should be a no-op, got %d %v", again, err)
	}
	if len(notifier.cancelled) != 1 {
		t.Fatalf("second sweep sent %d extra notices", len(notifier.cancelled)-1)
	}
}
