package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/logger"
)

const alertRetentionDays = 90

type AlertRetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Alerts    readAlertPurger
	Retention int
}

type readAlertPurger interface {
	DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewAlertRetentionJob deletes read alerts older than the retention window.
// Unread alerts are never removed.
func NewAlertRetentionJob(params AlertRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert engine required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = alertRetentionDays
	}
	return &alertRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		alerts:    params.Alerts,
		retention: retention,
		now:       time.Now,
	}, nil
}

type alertRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	alerts    readAlertPurger
	retention int
	now       func() time.Time
}

func (j *alertRetentionJob) Name() string { return "alert-retention" }

func (j *alertRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := retentionCutoff(j.now(), j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.alerts.DeleteReadBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("alert retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "alert retention cleanup complete")
	return deleted, nil
}
