package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/model"
)

type fakeCycle struct {
	rolloverErrs []error
	rolloverRuns int
	finalizeErr  error
}

func (f *fakeCycle) MonthEndRollover(context.Context) (model.RolloverResult, error) {
	f.rolloverRuns++
	if len(f.rolloverErrs) > 0 {
		err := f.rolloverErrs[0]
		f.rolloverErrs = f.rolloverErrs[1:]
		return model.RolloverResult{Failed: 1}, err
	}
	return model.RolloverResult{Closed: 2, Opened: 2, InterestLines: 1}, nil
}

func (f *fakeCycle) FinalizeDueWindows(context.Context, time.Time) (model.FinalizeResult, error) {
	return model.FinalizeResult{ClosedNoPenalty: 1}, f.finalizeErr
}

func (f *fakeCycle) DailyPenaltyCalculation(context.Context) (model.PenaltyRunResult, error) {
	return model.PenaltyRunResult{Checked: 3, PenaltyLines: 1, Skipped: 2}, nil
}

func newTestRunner(t *testing.T, cycle Cycle, locker Locker) (*Runner, *prometheus.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.InitialInterval = time.Millisecond
	return NewRunner(cycle, cfg, locker, NewMetrics(reg), logger), reg
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	cycle := &fakeCycle{rolloverErrs: []error{model.Transient(errors.New("lock timeout"))}}
	r, _ := newTestRunner(t, cycle, nil)

	res, err := r.Run(context.Background(), MonthEndRollover)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, cycle.rolloverRuns)
	assert.Equal(t, 2, res.Items["closed"])
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.runs.WithLabelValues(MonthEndRollover, statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.items.WithLabelValues(MonthEndRollover, "interest")))
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := model.Transient(errors.New("connection refused"))
	cycle := &fakeCycle{rolloverErrs: []error{transient, transient, transient, transient}}
	r, _ := newTestRunner(t, cycle, nil)

	res, err := r.Run(context.Background(), MonthEndRollover)
	require.Error(t, err)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.runs.WithLabelValues(MonthEndRollover, statusError)))
}

func TestRun_DoesNotRetryPermanentErrors(t *testing.T) {
	cycle := &fakeCycle{finalizeErr: model.ErrMissingBillingPeriod}
	r, _ := newTestRunner(t, cycle, nil)

	res, err := r.Run(context.Background(), FinalizeDueWindows)
	assert.ErrorIs(t, err, model.ErrMissingBillingPeriod)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_UnknownJob(t *testing.T) {
	r, _ := newTestRunner(t, &fakeCycle{}, nil)

	_, err := r.Run(context.Background(), "weekly_report")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRun_SkipsWhenLocked(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), DailyPenalty, time.Minute)
	require.NoError(t, err)

	r, _ := newTestRunner(t, &fakeCycle{}, locker)
	_, err = r.Run(context.Background(), DailyPenalty)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.runs.WithLabelValues(DailyPenalty, statusSkipped)))

	require.NoError(t, release(context.Background()))
	res, err := r.Run(context.Background(), DailyPenalty)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Items["penalty"])
}

func TestNames(t *testing.T) {
	r, _ := newTestRunner(t, &fakeCycle{}, nil)
	assert.Equal(t, []string{DailyPenalty, FinalizeDueWindows, MonthEndRollover}, r.Names())
}

func TestStart_RejectsBadSpec(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := DefaultConfig()
	cfg.PenaltySpec = "every day"

	r := NewRunner(&fakeCycle{}, cfg, nil, nil, logger)
	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), DailyPenalty)
}

func TestStartStop(t *testing.T) {
	r, _ := newTestRunner(t, &fakeCycle{}, nil)
	require.NoError(t, r.Start())
	select {
	case <-r.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
