package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/shopstock-backend/internal/alerts"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
)

type AlertSweepJobParams struct {
	Logger *logger.Logger
	Alerts alertSweeper
}

type alertSweeper interface {
	Sweep(ctx context.Context, filter alerts.SweepFilter) (alerts.SweepResult, error)
}

// NewAlertSweepJob re-evaluates every low stock record so alerts missed by a
// crashed post-commit evaluation are eventually raised.
func NewAlertSweepJob(params AlertSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert engine required")
	}
	return &alertSweepJob{logg: params.Logger, alerts: params.Alerts}, nil
}

type alertSweepJob struct {
	logg   *logger.Logger
	alerts alertSweeper
}

func (j *alertSweepJob) Name() string { return "alert-sweep" }

func (j *alertSweepJob) Run(ctx context.Context) (int64, error) {
	result, err := j.alerts.Sweep(ctx, alerts.SweepFilter{})
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"evaluated":    result.Evaluated,
		"created":      result.Created,
		"escalated":    result.Escalated,
		"deduplicated": result.Deduplicated,
		"failed":       result.Failed,
	})
	changed := int64(result.Created + result.Escalated)
	if err != nil {
		return changed, fmt.Errorf("alert sweep: %w", err)
	}
	j.logg.Info(logCtx, "alert sweep complete")
	return changed, nil
}
