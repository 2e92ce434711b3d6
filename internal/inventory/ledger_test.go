package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func seedProduct(t *testing.T, conn *gorm.DB, stock int) models.Product {
	t.Helper()
	product := models.Product{
		Name:     "Mug",
		Price:    decimal.RequireFromString("25.00"),
		Currency: enums.CurrencyPLN,
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

func stockOf(t *testing.T, conn *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, conn.First(&product, "id = ?", id).Error)
	return product.Stock
}

func TestDebitAndCredit(t *testing.T) {
	conn := dbtest.Open(t)
	product := seedProduct(t, conn, 5)
	ledger := NewLedger()
	ctx := context.Background()

	require.NoError(t, ledger.Debit(ctx, conn, product.ID, 3))
	assert.Equal(t, 2, stockOf(t, conn, product.ID))

	require.NoError(t, ledger.Credit(ctx, conn, product.ID, 3))
	assert.Equal(t, 5, stockOf(t, conn, product.ID))
}

func TestDebitInsufficientStock(t *testing.T) {
	conn := dbtest.Open(t)
	product := seedProduct(t, conn, 1)

	err := NewLedger().Debit(context.Background(), conn, product.ID, 2)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	shortage, ok := typed.Details().(StockShortage)
	require.True(t, ok)
	assert.Equal(t, 1, shortage.Available)
	assert.Equal(t, 2, shortage.Requested)
	assert.Equal(t, 1, stockOf(t, conn, product.ID))
}

func TestDebitUnknownProduct(t *testing.T) {
	conn := dbtest.Open(t)
	err := NewLedger().Debit(context.Background(), conn, uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	err = NewLedger().Credit(context.Background(), conn, uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRejectsNonPositiveQuantityAndMissingTx(t *testing.T) {
	conn := dbtest.Open(t)
	product := seedProduct(t, conn, 5)
	ledger := NewLedger()

	for _, qty := range []int{0, -1} {
		assert.True(t, pkgerrors.IsCode(ledger.Debit(context.Background(), conn, product.ID, qty), pkgerrors.CodeValidation))
		assert.True(t, pkgerrors.IsCode(ledger.Credit(context.Background(), conn, product.ID, qty), pkgerrors.CodeValidation))
	}
	assert.True(t, pkgerrors.IsCode(ledger.Debit(context.Background(), nil, product.ID, 1), pkgerrors.CodeDependency))
	assert.Equal(t, 5, stockOf(t, conn, product.ID))
}

func TestDebitsRollBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	a := seedProduct(t, conn, 5)
	b := seedProduct(t, conn, 0)
	ledger := NewLedger()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := ledger.Debit(context.Background(), tx, a.ID, 2); err != nil {
			return err
		}
		return ledger.Debit(context.Background(), tx, b.ID, 1)
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.Equal(t, 5, stockOf(t, conn, a.ID))
	assert.Equal(t, 0, stockOf(t, conn, b.ID))
}

func TestConcurrentDebitsNeverOversell(t *testing.T) {
	conn := dbtest.Open(t)
	product := seedProduct(t, conn, 3)
	ledger := NewLedger()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := conn.Transaction(func(tx *gorm.DB) error {
				return ledger.Debit(context.Background(), tx, product.ID, 1)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 0, stockOf(t, conn, product.ID))
}
