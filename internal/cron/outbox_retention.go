package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultOutboxBatch     = 500
)

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type OutboxRetentionParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Outbox    publishedPruner
	Retention time.Duration
	BatchSize int
	Clock     func() time.Time
}

// OutboxRetention deletes published outbox rows older than the retention
// window in batches. Unpublished and dead-lettered rows are kept.
type OutboxRetention struct {
	logg      *logger.Logger
	db        txRunner
	outbox    publishedPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func NewOutboxRetention(params OutboxRetentionParams) (*OutboxRetention, error) {
	if params.Logger == nil || params.DB == nil || params.Outbox == nil {
		return nil, errors.New("outbox retention: logger, db and repository are required")
	}
	job := &OutboxRetention{
		logg:      params.Logger,
		db:        params.DB,
		outbox:    params.Outbox,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       params.Clock,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batch <= 0 {
		job.batch = defaultOutboxBatch
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func (j *OutboxRetention) Name() string { return "outbox-retention" }

func (j *OutboxRetention) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.outbox.DeletePublishedBefore(tx, cutoff, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "cron.outbox_pruned")
	return nil
}
