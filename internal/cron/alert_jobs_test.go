package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/alerts"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
)

type fakeSweeper struct {
	result alerts.SweepResult
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(context.Context, alerts.SweepFilter) (alerts.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

type fakePurger struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakePurger) DeleteReadBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestAlertSweepJobReportsChangedAlerts(t *testing.T) {
	sweeper := &fakeSweeper{result: alerts.SweepResult{Evaluated: 9, Created: 2, Escalated: 1, Deduplicated: 6}}
	job, err := NewAlertSweepJob(AlertSweepJobParams{Logger: logger.Nop(), Alerts: sweeper})
	require.NoError(t, err)
	assert.Equal(t, "alert-sweep", job.Name())

	changed, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)
	assert.Equal(t, 1, sweeper.calls)
}

func TestAlertSweepJobWrapsPartialFailure(t *testing.T) {
	sweeper := &fakeSweeper{result: alerts.SweepResult{Evaluated: 2, Created: 1, Failed: 1}, err: errors.New("one record failed")}
	job, err := NewAlertSweepJob(AlertSweepJobParams{Logger: logger.Nop(), Alerts: sweeper})
	require.NoError(t, err)

	changed, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert sweep")
	assert.Equal(t, int64(1), changed)
}

func TestAlertRetentionJobUsesRetentionWindow(t *testing.T) {
	purger := &fakePurger{deleted: 4}
	jobIface, err := NewAlertRetentionJob(AlertRetentionJobParams{
		Logger:    logger.Nop(),
		DB:        passthroughTx{},
		Alerts:    purger,
		Retention: 14,
	})
	require.NoError(t, err)
	job := jobIface.(*alertRetentionJob)
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	deleted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.True(t, purger.cutoff.Equal(now.Add(-14*24*time.Hour)))

	purger.err = errors.New("db down")
	_, err = job.Run(context.Background())
	require.Error(t, err)
}

func TestAlertJobsRequireDependencies(t *testing.T) {
	_, err := NewAlertSweepJob(AlertSweepJobParams{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewAlertRetentionJob(AlertRetentionJobParams{Logger: logger.Nop(), DB: passthroughTx{}})
	require.Error(t, err)
}
