// Package jobs schedules the billing cycle passes and runs them with retry, locking and metrics.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const (
	MonthEndRollover   = "month_end_rollover"
	FinalizeDueWindows = "finalize_due_windows"
	DailyPenalty       = "daily_penalty"
)

// ErrUnknownJob is returned by Run for a name that is not registered.
var ErrUnknownJob = fmt.Errorf("%w: unknown job", model.ErrNotFound)

// Cycle is the set of billing passes the runner drives.
type Cycle interface {
	MonthEndRollover(ctx context.Context) (model.RolloverResult, error)
	FinalizeDueWindows(ctx context.Context, now time.Time) (model.FinalizeResult, error)
	DailyPenaltyCalculation(ctx context.Context) (model.PenaltyRunResult, error)
}

type Config struct {
	RolloverSpec    string
	FinalizeSpec    string
	PenaltySpec     string
	MaxAttempts     uint
	InitialInterval time.Duration
	LockTTL         time.Duration
	Location        *time.Location
}

// DefaultConfig runs every pass once a day. Rollover only closes statements of a past period,
// so a daily trigger catches the Jalali month boundary.
func DefaultConfig() Config {
	return Config{
		RolloverSpec:    "10 0 * * *",
		FinalizeSpec:    "30 0 * * *",
		PenaltySpec:     "0 1 * * *",
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		LockTTL:         30 * time.Minute,
	}
}

type jobFunc func(ctx context.Context) (map[string]int, error)

// Result describes one triggered run.
type Result struct {
	Job      string         `json:"job"`
	Attempts int            `json:"attempts"`
	Items    map[string]int `json:"items"`
	Duration time.Duration  `json:"duration_ns"`
}

type Runner struct {
	cfg     Config
	jobs    map[string]jobFunc
	specs   map[string]string
	locker  Locker
	metrics *Metrics
	cron    *cron.Cron
	logger  *logrus.Logger
}

func NewRunner(cycle Cycle, cfg Config, locker Locker, metrics *Metrics, logger *logrus.Logger) *Runner {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	r := &Runner{
		cfg:     cfg,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
		jobs: map[string]jobFunc{
			MonthEndRollover: func(ctx context.Context) (map[string]int, error) {
				res, err := cycle.MonthEndRollover(ctx)
				return res.Items(), err
			},
			FinalizeDueWindows: func(ctx context.Context) (map[string]int, error) {
				res, err := cycle.FinalizeDueWindows(ctx, time.Time{})
				return res.Items(), err
			},
			DailyPenalty: func(ctx context.Context) (map[string]int, error) {
				res, err := cycle.DailyPenaltyCalculation(ctx)
				return res.Items(), err
			},
		},
		specs: map[string]string{
			MonthEndRollover:   cfg.RolloverSpec,
			FinalizeDueWindows: cfg.FinalizeSpec,
			DailyPenalty:       cfg.PenaltySpec,
		},
	}
	return r
}

func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one job now. Transient failures are retried with exponential backoff up to
// MaxAttempts; any other error ends the run.
func (r *Runner) Run(ctx context.Context, name string) (Result, error) {
	job, ok := r.jobs[name]
	if !ok {
		return Result{Job: name}, fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	log := r.logger.WithField("job", name)

	release, err := r.locker.Acquire(ctx, name, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			log.Info("job already running elsewhere, skipping")
			r.metrics.observe(name, statusSkipped, 0, nil)
		}
		return Result{Job: name}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to release job lock")
		}
	}()

	start := time.Now()
	res := Result{Job: name}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialInterval

	items, err := backoff.Retry(ctx, func() (map[string]int, error) {
		res.Attempts++
		items, err := job(ctx)
		if err != nil && !model.IsRetryable(err) {
			return items, backoff.Permanent(err)
		}
		return items, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).Warnf("job attempt failed, retrying in %s", next)
		}),
	)
	res.Items = items
	res.Duration = time.Since(start)

	if err != nil {
		r.metrics.observe(name, statusError, res.Duration, items)
		log.WithError(err).WithField("attempts", res.Attempts).Error("job failed")
		return res, err
	}
	r.metrics.observe(name, statusSuccess, res.Duration, items)
	log.WithFields(logrus.Fields{
		"attempts": res.Attempts,
		"duration": res.Duration.String(),
	}).Info("job finished")
	return res, nil
}

// Start registers every job with its cron spec and starts the scheduler. An empty spec leaves
// the job available only through Run.
func (r *Runner) Start() error {
	c := cron.New(
		cron.WithLocation(r.cfg.Location),
		cron.WithLogger(cron.PrintfLogger(r.logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(r.logger))),
	)
	for _, name := range r.Names() {
		spec := r.specs[name]
		if spec == "" {
			continue
		}
		name := name
		if _, err := c.AddFunc(spec, func() {
			r.logger.WithField("job", name).Info("scheduled job triggered")
			_, _ = r.Run(context.Background(), name)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
		}
		r.logger.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("job scheduled")
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the scheduler and returns a context done when running jobs have finished.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return r.cron.Stop()
}
