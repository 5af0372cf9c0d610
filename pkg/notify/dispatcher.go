package notify

import (
	"context"
	"fmt"

	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
)

const (
	dispatchBatchLimit = 50
	dispatchBatchCap   = 100
)

// RunDispatcherTick drains due schedules in bounded batches until an empty
// fetch or the batch cap, bounding how much work one tick can do.
func (e *Engine) RunDispatcherTick(ctx context.Context) error {
	for batch := 0; batch < dispatchBatchCap; batch++ {
		now := e.clock.ToStore(e.clock.NowUTC())
		scheds, err := e.store.Notifications.FetchDueSchedules(ctx, now, dispatchBatchLimit)
		if err != nil {
			return fmt.Errorf("fetching due schedules: %w", err)
		}
		telemetry.DispatchBatchSize.Observe(float64(len(scheds)))
		if len(scheds) == 0 {
			return nil
		}

		for _, sched := range scheds {
			e.processSchedule(ctx, sched)
		}
	}
	e.log.Warn("dispatcher hit batch cap, deferring remainder to next tick", "cap", dispatchBatchCap)
	return nil
}

// processSchedule delivers one due schedule, sequentially (no parallel
// fan-out within a batch, preserving provider ordering per user).
func (e *Engine) processSchedule(ctx context.Context, sched *store.NotificationSchedule) {
	rule, err := e.store.Notifications.GetRule(ctx, sched.RuleID)
	if err != nil || !rule.IsActive {
		_ = e.store.Notifications.MarkScheduleError(ctx, sched.ID, "Rule inactive")
		telemetry.NotificationsDispatchedTotal.WithLabelValues("rule_inactive").Inc()
		return
	}

	tmpl, err := ParseTemplate(rule.MessageTemplate)
	if err != nil {
		_ = e.store.Notifications.MarkScheduleError(ctx, sched.ID, err.Error())
		telemetry.NotificationsDispatchedTotal.WithLabelValues("bad_template").Inc()
		return
	}
	msg := tmpl.Render()

	messageID, sendErr := e.provider.Send(ctx, sched.UserID, msg)
	if sendErr != nil {
		_ = e.store.Notifications.MarkScheduleError(ctx, sched.ID, sendErr.Error())
		_ = e.store.Notifications.LogManual(ctx, &sched.UserID, &sched.RuleID, &sched.ID, "failed", "", sendErr.Error())
		telemetry.NotificationsDispatchedTotal.WithLabelValues("failed").Inc()
		e.maybeRepeat(ctx, rule, sched)
		return
	}

	sentAt := e.clock.ToStore(e.clock.NowUTC())
	if err := e.store.Notifications.MarkSent(ctx, sched.ID, sentAt); err != nil {
		e.log.Error("marking schedule sent failed", "schedule_id", sched.ID, "error", err)
	}
	_ = e.store.Notifications.LogManual(ctx, &sched.UserID, &sched.RuleID, &sched.ID, "ok", messageID, "")
	telemetry.NotificationsDispatchedTotal.WithLabelValues("ok").Inc()

	e.maybeRepeat(ctx, rule, sched)
}

// maybeRepeat schedules the next occurrence of a repeating rule when the
// repeat condition still holds.
func (e *Engine) maybeRepeat(ctx context.Context, rule *store.NotificationRule, sched *store.NotificationSchedule) {
	interval := repeatInterval(rule)
	if interval <= 0 {
		return
	}

	should, err := e.shouldRepeat(ctx, rule, sched.UserID)
	if err != nil {
		e.log.Warn("checking repeat condition failed", "rule_id", rule.ID, "error", err)
		return
	}
	if !should {
		return
	}

	nextPlanned := sched.PlannedAt.Add(interval)
	var dedupKey string
	if isExpiringSoonType(rule.Type) || isExpiredType(rule.Type) {
		dedupKey = DedupKeyForKeyRule(rule.ID, sched.UserID, rule.Type, nextPlanned)
	} else {
		dedupKey = DedupKeyForGlobalRule(sched.UserID, rule.ID, nextPlanned)
	}

	_, err = e.store.Notifications.UpsertSchedule(ctx, &store.NotificationSchedule{
		UserID:    sched.UserID,
		RuleID:    rule.ID,
		PlannedAt: nextPlanned,
		Status:    store.ScheduleStatusPlanned,
		DedupKey:  dedupKey,
	})
	if err != nil {
		e.log.Warn("upserting repeat schedule failed", "rule_id", rule.ID, "error", err)
	}
}

// shouldRepeat implements _should_repeat(rule, user_id).
func (e *Engine) shouldRepeat(ctx context.Context, rule *store.NotificationRule, userID int64) (bool, error) {
	keys, err := e.store.Keys.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	now := e.clock.NowCivil()

	hasActivePaidKey := false
	hasActiveAnyKey := false
	for _, k := range keys {
		if !k.Finish.After(now) {
			continue
		}
		hasActiveAnyKey = true
		if !k.IsTest {
			hasActivePaidKey = true
		}
	}

	switch {
	case rule.Type == TypeTrialExpiringSoon || rule.Type == TypeTrialExpired:
		return !hasActivePaidKey, nil
	case rule.Type == TypePaidExpiringSoon || rule.Type == TypePaidExpired:
		return !hasActivePaidKey, nil
	case rule.Type == TypeNewUserNoKeys:
		return !hasActiveAnyKey, nil
	default:
		return false, nil
	}
}
