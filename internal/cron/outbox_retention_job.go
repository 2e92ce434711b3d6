package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	outboxRetentionJobName = "outbox-retention"
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDeadAttempts    = 10
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	Retention  time.Duration
	// DeadAttempts is the attempt count at which an unpublished row counts
	// as parked and becomes eligible for the purge.
	DeadAttempts int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// outboxRetentionJob purges published and parked outbox rows once they are
// older than the retention window.
type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxPurger
	retention    time.Duration
	deadAttempts int
	now          func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("outbox retention: logger required")
	case params.DB == nil:
		return nil, errors.New("outbox retention: db required")
	case params.Repository == nil:
		return nil, errors.New("outbox retention: repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		retention:    params.Retention,
		deadAttempts: params.DeadAttempts,
		now:          time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.deadAttempts <= 0 {
		job.deadAttempts = defaultDeadAttempts
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	var purged int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		purged, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.deadAttempts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if purged > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":      cutoff,
			"rows_purged": purged,
		}), "outbox rows purged")
	}
	return int(purged), nil
}
