package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/corsarvpn/keyserver/internal/store"
)

// calendarJobPrefix is the name prefix reserved for calendar jobs. Entries
// are not tagged with it: the cron instance holds only this scheduler's
// jobs, and Rebuild removes every entry.
const calendarJobPrefix = "notification_global_"

// CalendarScheduler owns the cron set for global_weekly rules, rebuilt in
// full whenever the active rule set changes.
type CalendarScheduler struct {
	engine *Engine
	log    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCalendarScheduler creates a CalendarScheduler bound to the engine
// clock's civil location, so cron expressions fire on wall-clock time.
func NewCalendarScheduler(engine *Engine, log *slog.Logger) *CalendarScheduler {
	return &CalendarScheduler{
		engine: engine,
		log:    log,
		cron:   cron.New(cron.WithLocation(engine.clock.Location())),
	}
}

// Start begins running installed cron jobs.
func (c *CalendarScheduler) Start() { c.cron.Start() }

// Stop drains running jobs and halts the cron loop.
func (c *CalendarScheduler) Stop() context.Context { return c.cron.Stop() }

// Rebuild removes every job this scheduler previously installed and
// reinstalls one per currently active global_weekly rule. Called after
// creating, updating, toggling, or deleting any global_weekly rule.
func (c *CalendarScheduler) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.cron.Entries() {
		c.cron.Remove(entry.ID)
	}

	rules, err := c.engine.store.Notifications.GetRules(ctx, TypeGlobalWeekly)
	if err != nil {
		return fmt.Errorf("listing global_weekly rules: %w", err)
	}

	for _, rule := range rules {
		expr, err := weeklyCronExpr(rule)
		if err != nil {
			c.log.Warn("skipping malformed global_weekly rule", "rule_id", rule.ID, "error", err)
			continue
		}

		rule := rule
		_, err = c.cron.AddFunc(expr, func() {
			fireCtx := context.Background()
			if fireErr := c.fire(fireCtx, rule); fireErr != nil {
				c.log.Error("global_weekly fan-out failed", "rule_id", rule.ID, "error", fireErr)
			}
		})
		if err != nil {
			c.log.Error("installing global_weekly cron job failed", "rule_id", rule.ID, "error", err)
		}
	}
	return nil
}

// fire fans out a single-shot schedule for every user at now_civil; the
// dispatcher picks these up within its own 60s tick.
func (c *CalendarScheduler) fire(ctx context.Context, rule *store.NotificationRule) error {
	users, err := c.engine.store.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	now := c.engine.clock.NowCivil()
	var scheds []*store.NotificationSchedule
	for _, u := range users {
		dedupKey := DedupKeyForGlobalRule(u.ID, rule.ID, now)
		scheds = append(scheds, &store.NotificationSchedule{
			UserID:    u.ID,
			RuleID:    rule.ID,
			PlannedAt: c.engine.clock.ToStore(now),
			Status:    store.ScheduleStatusPlanned,
			DedupKey:  dedupKey,
		})
	}
	return c.engine.store.Notifications.BulkUpsertSchedule(ctx, scheds)
}

// weeklyCronExpr builds a 5-field "<minute> <hour> * * <weekday>"
// robfig/cron expression from a rule's weekday/time_of_day fields.
func weeklyCronExpr(rule *store.NotificationRule) (string, error) {
	if rule.Weekday == nil || rule.TimeOfDay == nil {
		return "", fmt.Errorf("rule %d: global_weekly requires weekday and time_of_day", rule.ID)
	}

	var hour, minute int
	if _, err := fmt.Sscanf(*rule.TimeOfDay, "%d:%d", &hour, &minute); err != nil {
		return "", fmt.Errorf("rule %d: invalid time_of_day %q: %w", rule.ID, *rule.TimeOfDay, err)
	}

	return fmt.Sprintf("%d %d * * %d", minute, hour, *rule.Weekday), nil
}
