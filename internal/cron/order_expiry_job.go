package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	defaultExpiryAge   = time.Hour
	expiryBatchSize    = 200
	orderExpiryJobName = "order-expiry"
)

type orderExpirer interface {
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ExpireOrder(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error)
}

// OrderExpiryJobParams configure the pending order sweeper.
type OrderExpiryJobParams struct {
	Logger *logger.Logger
	Orders orderExpirer
	MaxAge time.Duration
}

// NewOrderExpiryJob builds the job that cancels unpaid orders older than MaxAge
// and returns their stock.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultExpiryAge
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders orderExpirer
	maxAge time.Duration
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return orderExpiryJobName }

// Run expires one batch. Each order gets its own transaction so one failure
// does not hold back the rest.
func (j *orderExpiryJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)
	ids, err := j.orders.PendingBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("query pending orders: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		errs    error
		expired int
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		ok, err := j.orders.ExpireOrder(ctx, id, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
			continue
		}
		if ok {
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(ids),
		"expired":    expired,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "pending order sweep complete")
	return expired, errs
}
