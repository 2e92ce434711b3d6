package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu       sync.Mutex
	requests []pkgstripe.CheckoutRequest
	err      error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req pkgstripe.CheckoutRequest) (pkgstripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pkgstripe.CheckoutSession{}, f.err
	}
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("cs_test_%d", len(f.requests))
	return pkgstripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []enums.NotificationKind
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, n.Kind)
}

func (r *recordingNotifier) sent() []enums.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enums.NotificationKind(nil), r.kinds...)
}

type fixture struct {
	conn     *gorm.DB
	svc      Service
	orders   orders.Service
	provider *fakeProvider
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	client := db.NewFromConn(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	orderRepo := orders.NewRepository(conn)

	orderSvc, err := orders.NewService(orders.Deps{
		Repo:     orderRepo,
		Tx:       client,
		Carts:    cart.NewRepository(conn),
		Products: product.NewRepository(conn),
		Ledger:   inventory.NewLedger(),
		Outbox:   emitter,
		Logger:   logg,
	})
	require.NoError(t, err)

	provider := &fakeProvider{}
	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Orders:    orderRepo,
		Lifecycle: orderSvc,
		Webhooks:  webhooks.NewRepository(conn),
		Provider:  provider,
		Tx:        client,
		Outbox:    emitter,
		Notifier:  notifier,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &fixture{conn: conn, svc: svc, orders: orderSvc, provider: provider, notifier: notifier}
}

func (f *fixture) product(t *testing.T, price string, stock int) models.Product {
	t.Helper()
	row := models.Product{
		Name:     "Candle",
		Price:    decimal.RequireFromString(price),
		Currency: enums.CurrencyPLN,
		Stock:    stock,
		WeightG:  300,
		IsActive: true,
	}
	require.NoError(t, f.conn.Create(&row).Error)
	return row
}

func (f *fixture) guestOrder(t *testing.T, productID uuid.UUID, qty int) *models.Order {
	t.Helper()
	order, err := f.orders.GuestCheckout(context.Background(), orders.GuestCheckoutInput{
		ContactEmail: "guest@example.com",
		ShippingAddress: types.ShippingDestination{
			FullName:   "Anna Nowak",
			Phone:      "+48600700800",
			Street:     "Dluga 5",
			City:       "Krakow",
			PostalCode: "30-001",
		},
		Items: []orders.LineInput{{ProductID: productID, Quantity: qty}},
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) initiate(t *testing.T, order *models.Order) *InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), orders.Actor{}, InitiateInput{
		OrderID:      order.ID,
		ContactEmail: order.ContactEmail,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var row models.Order
	require.NoError(t, f.conn.First(&row, "id = ?", id).Error)
	return row
}

func (f *fixture) payment(t *testing.T, orderID uuid.UUID) models.Payment {
	t.Helper()
	var row models.Payment
	require.NoError(t, f.conn.First(&row, "order_id = ?", orderID).Error)
	return row
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var row models.Product
	require.NoError(t, f.conn.First(&row, "id = ?", id).Error)
	return row.Stock
}

func (f *fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func sessionEvent(eventID, eventType, sessionID, paymentStatus string, orderID uuid.UUID) webhooks.Event {
	payload := fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q,"payment_status":%q,"client_reference_id":%q,"metadata":{"order_id":%q},"payment_method_types":["blik"]}}}`,
		eventID, eventType, sessionID, paymentStatus, orderID, orderID)
	return webhooks.Event{
		Provider:  enums.ProviderStripe,
		EventID:   eventID,
		EventType: eventType,
		Payload:   []byte(payload),
	}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, code), "want %s, got %v", code, err)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestInitiateOpensSessionAndRecordsPendingPayment(t *testing.T) {
	f := newFixture(t)
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 2)

	res := f.initiate(t, order)
	assert.Equal(t, "cs_test_1", res.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", res.RedirectURL)

	payment := f.payment(t, order.ID)
	assert.Equal(t, res.PaymentID, payment.ID)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, "cs_test_1", payment.ProviderPaymentID)
	assert.True(t, decimal.RequireFromString("40.00").Equal(payment.Amount))

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, order.ID, req.OrderID)
	assert.Equal(t, "guest@example.com", req.CustomerEmail)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, int64(2), req.Lines[0].Quantity)
}

func TestInitiateAddsShippingLineAndRekeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "12.50", 5)
	order := f.guestOrder(t, candle.ID, 2)

	f.initiate(t, order)
	require.NoError(t, orders.NewRepository(f.conn).AddShippingCost(ctx, order.ID, decimal.RequireFromString("12.50")))

	res := f.initiate(t, order)
	assert.Equal(t, "cs_test_2", res.SessionID)

	require.Len(t, f.provider.requests, 2)
	lines := f.provider.requests[1].Lines
	require.Len(t, lines, 2)
	assert.Equal(t, shippingLineName, lines[1].Name)
	assert.True(t, decimal.RequireFromString("12.50").Equal(lines[1].UnitPrice))

	var count int64
	require.NoError(t, f.conn.Model(&models.Payment{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	payment := f.payment(t, order.ID)
	assert.Equal(t, "cs_test_2", payment.ProviderPaymentID)
	assert.True(t, decimal.RequireFromString("37.50").Equal(payment.Amount))
}

func TestInitiateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "10.00", 5)
	order := f.guestOrder(t, candle.ID, 1)

	_, err := f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{OrderID: order.ID, ContactEmail: "other@example.com"})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{OrderID: uuid.New(), ContactEmail: "guest@example.com"})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{})
	requireCode(t, err, pkgerrors.CodeValidation)

	f.provider.err = errors.New("stripe down")
	_, err = f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{OrderID: order.ID, ContactEmail: "GUEST@example.com "})
	requireCode(t, err, pkgerrors.CodeDependency)
	var count int64
	require.NoError(t, f.conn.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	f.provider.err = nil

	_, err = f.orders.Cancel(ctx, orders.SystemActor(), order.ID)
	require.NoError(t, err)
	_, err = f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{OrderID: order.ID, ContactEmail: "guest@example.com"})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestInitiateRequiresOwnerForAccountOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "10.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	owner := uuid.New()
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("user_id", owner).Error)

	_, err := f.svc.Initiate(ctx, orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}, InitiateInput{OrderID: order.ID})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Initiate(ctx, orders.Actor{}, InitiateInput{OrderID: order.ID, ContactEmail: "guest@example.com"})
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	res, err := f.svc.Initiate(ctx, orders.Actor{UserID: owner, Role: enums.ActorRoleCustomer}, InitiateInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.PaymentID)
}

func TestHandleWebhookCompletedMarksOrderPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	res := f.initiate(t, order)

	event := sessionEvent("evt_paid", "checkout.session.completed", res.SessionID, "paid", order.ID)
	first, err := f.svc.HandleWebhook(ctx, event)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Applied)
	assert.True(t, first.Event.Processed)

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	payment := f.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
	require.NotNil(t, payment.PaymentMethod)
	assert.Equal(t, enums.PaymentMethodBlik, *payment.PaymentMethod)

	second, err := f.svc.HandleWebhook(ctx, event)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Event.ID, second.Event.ID)

	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderPaid))
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderStatusChanged))
	assert.Equal(t, []enums.NotificationKind{enums.NotificationPaymentConfirmation}, f.notifier.sent())
}

func TestHandleWebhookConcurrentRedeliveries(t *testing.T) {
	f := newFixture(t)
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	res := f.initiate(t, order)
	event := sessionEvent("evt_race", "checkout.session.completed", res.SessionID, "paid", order.ID)

	const deliveries = 5
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleWebhook(context.Background(), event)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, f.conn.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventOrderPaid))
	assert.Len(t, f.notifier.sent(), 1)
}

func TestHandleWebhookUnpaidCompletionWaitsForAsyncResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	res := f.initiate(t, order)

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_1", "checkout.session.completed", res.SessionID, "unpaid", order.ID))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.False(t, out.Event.Processed)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, order.ID).Status)

	out, err = f.svc.HandleWebhook(ctx, sessionEvent("evt_2", "checkout.session.async_payment_succeeded", res.SessionID, "paid", order.ID))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, enums.OrderStatusPaid, f.order(t, order.ID).Status)
}

func TestHandleWebhookFailureCancelsOrderAndRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 3)
	require.Equal(t, 2, f.stock(t, candle.ID))
	res := f.initiate(t, order)

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_fail", "checkout.session.async_payment_failed", res.SessionID, "unpaid", order.ID))
	require.NoError(t, err)
	assert.True(t, out.Applied)

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, orders.CancelReasonPaymentFailed, *stored.CancelReason)
	assert.Equal(t, enums.PaymentStatusFailed, f.payment(t, order.ID).Status)
	assert.Equal(t, 5, f.stock(t, candle.ID))
	assert.Equal(t, []enums.NotificationKind{enums.NotificationOrderCancelled}, f.notifier.sent())

	// An expiry for the same session finds the payment already settled.
	out, err = f.svc.HandleWebhook(ctx, sessionEvent("evt_exp", "checkout.session.expired", res.SessionID, "unpaid", order.ID))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, 5, f.stock(t, candle.ID))
}

func TestHandleWebhookPaymentAfterCancellationKeepsOrderCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	res := f.initiate(t, order)

	_, err := f.orders.Cancel(ctx, orders.SystemActor(), order.ID)
	require.NoError(t, err)

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_late", "checkout.session.completed", res.SessionID, "paid", order.ID))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.True(t, out.Event.Processed)
	assert.Equal(t, enums.OrderStatusCancelled, f.order(t, order.ID).Status)
	assert.Equal(t, enums.PaymentStatusSuccess, f.payment(t, order.ID).Status)
	assert.Equal(t, int64(0), f.outboxCount(t, enums.EventOrderPaid))
}

func TestHandleWebhookFallsBackToOrderMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 1)
	f.initiate(t, order)

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_meta", "checkout.session.completed", "cs_unknown", "paid", order.ID))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, enums.OrderStatusPaid, f.order(t, order.ID).Status)
}

func TestHandleWebhookSupersededSessionExpiryLeavesLiveSessionPayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candle := f.product(t, "20.00", 5)
	order := f.guestOrder(t, candle.ID, 2)
	first := f.initiate(t, order)
	second := f.initiate(t, order)
	require.Equal(t, "cs_test_1", first.SessionID)
	require.Equal(t, "cs_test_2", second.SessionID)

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_old_exp", "checkout.session.expired", first.SessionID, "unpaid", order.ID))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, order.ID).Status)
	assert.Equal(t, enums.PaymentStatusPending, f.payment(t, order.ID).Status)
	assert.Equal(t, 3, f.stock(t, candle.ID))

	out, err = f.svc.HandleWebhook(ctx, sessionEvent("evt_old_fail", "checkout.session.async_payment_failed", first.SessionID, "unpaid", order.ID))
	require.NoError(t, err)
	assert.False(t, out.Applied)

	out, err = f.svc.HandleWebhook(ctx, sessionEvent("evt_live_paid", "checkout.session.completed", second.SessionID, "paid", order.ID))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, enums.OrderStatusPaid, f.order(t, order.ID).Status)
	assert.Equal(t, enums.PaymentStatusSuccess, f.payment(t, order.ID).Status)
	assert.Equal(t, 3, f.stock(t, candle.ID))
	assert.Equal(t, []enums.NotificationKind{enums.NotificationPaymentConfirmation}, f.notifier.sent())
}

func TestHandleWebhookIgnoresUnknownTypesAndSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.HandleWebhook(ctx, sessionEvent("evt_x", "invoice.created", "cs_1", "paid", uuid.New()))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.False(t, out.Event.Processed)

	out, err = f.svc.HandleWebhook(ctx, sessionEvent("evt_y", "checkout.session.completed", "cs_missing", "paid", uuid.New()))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.False(t, out.Event.Processed)

	_, err = f.svc.HandleWebhook(ctx, webhooks.Event{Provider: enums.ProviderStripe, EventID: "evt_bad", EventType: "checkout.session.completed", Payload: []byte(`{"data":{}}`)})
	requireCode(t, err, pkgerrors.CodeValidation)
	var count int64
	require.NoError(t, f.conn.Model(&models.WebhookEvent{}).Where("event_id = ?", "evt_bad").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
