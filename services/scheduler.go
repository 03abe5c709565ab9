// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// ReleaseScheduler periodically promotes pending commissions. Runs never
// overlap; a run still in progress pushes the next one back.
type ReleaseScheduler struct {
	Ledger   *CommissionLedger
	Interval time.Duration
	Timeout  time.Duration
	Log      logrus.FieldLogger

	sched gocron.Scheduler
}

func NewReleaseScheduler(ledger *CommissionLedger, interval time.Duration, log logrus.FieldLogger) *ReleaseScheduler {
	return &ReleaseScheduler{Ledger: ledger, Interval: interval, Timeout: 10 * time.Minute, Log: log}
}

// Start registers the release job and starts the scheduler.
func (r *ReleaseScheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
			defer cancel()
			r.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}

	r.sched = sched
	sched.Start()
	r.Log.WithField("interval", r.Interval.String()).Info("[RELEASE] scheduler started")
	return nil
}

// RunOnce performs a single release scan.
func (r *ReleaseScheduler) RunOnce(ctx context.Context) int {
	promoted, err := r.Ledger.PromoteEligible(ctx, time.Now())
	if err != nil {
		r.Log.WithError(err).Error("[RELEASE] scan failed")
	}
	return len(promoted)
}

func (r *ReleaseScheduler) Stop() error {
	if r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}
