// Package scheduler hosts the ticker-driven background jobs:
// payment polling/recovery, the key sweeper, and the notification
// dispatcher. Per-rule calendar jobs are delegated to
// notify.CalendarScheduler, which owns its own robfig/cron instance.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/corsarvpn/keyserver/pkg/keyservice"
	"github.com/corsarvpn/keyserver/pkg/notify"
	"github.com/corsarvpn/keyserver/pkg/payment"
)

const (
	paymentsPendingInterval  = 25 * time.Second
	paymentsRecoverInterval  = 60 * time.Second
	keysSweeperInterval      = 60 * time.Second
	notificationsDispatchTTL = 60 * time.Second
)

// job pairs a named tick interval with the function it runs. Every job
// runs at most once concurrently: a slow tick is simply skipped over by
// the next timer fire rather than queued (max_instances=1, coalesce).
type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	running  bool
}

// Scheduler owns the tickers for all interval-based background jobs and
// the calendar sub-scheduler for global_weekly notification rules.
type Scheduler struct {
	payments *payment.Pipeline
	keys     *keyservice.Service
	notify   *notify.Engine
	calendar *notify.CalendarScheduler
	log      *slog.Logger

	jobs []*job
}

// New builds a Scheduler wiring the payment, key-lifecycle, and
// notification jobs together.
func New(payments *payment.Pipeline, keys *keyservice.Service, notifyEngine *notify.Engine, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		payments: payments,
		keys:     keys,
		notify:   notifyEngine,
		calendar: notify.NewCalendarScheduler(notifyEngine, log),
		log:      log,
	}
	s.jobs = []*job{
		{name: "payments_pending", interval: paymentsPendingInterval, fn: payments.PollPendingTick},
		{name: "payments_recover", interval: paymentsRecoverInterval, fn: payments.RecoverTick},
		{name: "keys_sweeper", interval: keysSweeperInterval, fn: func(ctx context.Context) error { return keys.Sweep(ctx) }},
		{name: "notifications_dispatcher", interval: notificationsDispatchTTL, fn: notifyEngine.RunDispatcherTick},
	}
	return s
}

// Run blocks until ctx is cancelled, driving every interval job on its
// own ticker and keeping the calendar sub-scheduler alive alongside it.
// On entry it runs every job once immediately so a restart does not wait
// out a full interval before catching up on pending work.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "jobs", len(s.jobs))

	if err := s.calendar.Rebuild(ctx); err != nil {
		s.log.Error("rebuilding calendar schedules", "error", err)
	}
	s.calendar.Start()
	defer s.calendar.Stop()

	for _, j := range s.jobs {
		s.runOnce(ctx, j)
	}

	tickers := make([]*time.Ticker, len(s.jobs))
	for i, j := range s.jobs {
		tickers[i] = time.NewTicker(j.interval)
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	cases := make(chan int)
	for i, t := range tickers {
		go forward(ctx, t, i, cases)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case i := <-cases:
			s.runOnce(ctx, s.jobs[i])
		}
	}
}

// forward relays a ticker's fires onto a shared channel tagged with the
// job index, so Run can multiplex many tickers over one select loop.
func forward(ctx context.Context, t *time.Ticker, idx int, out chan<- int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case out <- idx:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runOnce executes a job's function, skipping the call entirely if the
// previous invocation is still in flight (max_instances=1).
func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	if j.running {
		s.log.Warn("job tick skipped, previous run still in flight", "job", j.name)
		return
	}
	j.running = true
	defer func() { j.running = false }()

	if err := j.fn(ctx); err != nil {
		s.log.Error("job tick failed", "job", j.name, "error", err)
	}
}

// RebuildCalendar re-reads the global_weekly rule set and reinstalls the
// calendar scheduler's cron jobs. Call after any rule CRUD operation
// touching a calendar rule.
func (s *Scheduler) RebuildCalendar(ctx context.Context) error {
	return s.calendar.Rebuild(ctx)
}
