// Package notify is the notification engine: rule taxonomy,
// planned_at derivation, deduplication, dispatch, repeat, and cancellation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/messaging"
)

// Engine plans, cancels, and dispatches notification schedules.
type Engine struct {
	store    *store.Store
	clock    *clock.Clock
	dedup    *dedupCache
	log      *slog.Logger
	provider messaging.Provider
}

// New creates a notification Engine. provider is the outbound sink the
// dispatcher delivers through.
func New(st *store.Store, clk *clock.Clock, rdb *redis.Client, provider messaging.Provider, log *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		clock:    clk,
		dedup:    newDedupCache(rdb, log),
		log:      log,
		provider: provider,
	}
}

// RegenerateRuleSchedules recomputes planned_at for every key matching a
// key-based rule and bulk-upserts the result.
// userIDs/keyIDs, when non-empty, scope the rebuild.
func (e *Engine) RegenerateRuleSchedules(ctx context.Context, rule *store.NotificationRule, userIDs, keyIDs []int64) error {
	if isExpiringSoonType(rule.Type) || isExpiredType(rule.Type) {
		return e.regenerateKeyBasedRule(ctx, rule, userIDs, keyIDs)
	}
	return fmt.Errorf("rule %d: RegenerateRuleSchedules only applies to key-based rules", rule.ID)
}

func (e *Engine) regenerateKeyBasedRule(ctx context.Context, rule *store.NotificationRule, userIDs, keyIDs []int64) error {
	wantTest := rule.Type == TypeTrialExpiringSoon || rule.Type == TypeTrialExpired

	keys, err := e.store.Keys.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing keys for rule %d: %w", rule.ID, err)
	}

	now := e.clock.NowCivil()
	var scheds []*store.NotificationSchedule

	for _, k := range keys {
		if k.IsTest != wantTest {
			continue
		}
		if len(userIDs) > 0 && !containsInt64(userIDs, k.UserID) {
			continue
		}
		if len(keyIDs) > 0 && !containsInt64(keyIDs, k.ID) {
			continue
		}

		planned, ok := PlannedAt(rule, k.Finish, now)
		if !ok {
			continue
		}
		planned = clock.RoundToMinute(planned)
		dedupKey := DedupKeyForKeyRule(rule.ID, k.UserID, rule.Type, planned)

		scheds = append(scheds, &store.NotificationSchedule{
			UserID:    k.UserID,
			RuleID:    rule.ID,
			PlannedAt: e.clock.ToStore(planned),
			Status:    store.ScheduleStatusPlanned,
			DedupKey:  dedupKey,
		})
	}

	if err := e.store.Notifications.CancelPlannedForRule(ctx, rule.ID, userIDs); err != nil {
		return fmt.Errorf("cancelling stale schedules for rule %d: %w", rule.ID, err)
	}
	if err := e.store.Notifications.BulkUpsertSchedule(ctx, scheds); err != nil {
		return fmt.Errorf("bulk upserting schedules for rule %d: %w", rule.ID, err)
	}
	for _, sched := range scheds {
		e.dedup.record(ctx, sched.DedupKey)
	}
	telemetry.NotificationsPlannedTotal.WithLabelValues(rule.Type).Add(float64(len(scheds)))
	return nil
}

// SyncUserKeyRules regenerates every active key-based rule's schedules,
// scoped to one user (optionally one key), after a key is created/updated
// or prolonged.
func (e *Engine) SyncUserKeyRules(ctx context.Context, userID int64, keyIDs []int64) error {
	rules, err := e.store.Notifications.GetRules(ctx, "")
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}

	for _, rule := range rules {
		if !isExpiringSoonType(rule.Type) && !isExpiredType(rule.Type) {
			continue
		}
		if err := e.regenerateKeyBasedRule(ctx, rule, []int64{userID}, keyIDs); err != nil {
			return err
		}
	}
	return nil
}

// AutoCreateSchedulesForAllUsers rebuilds a rule's schedules on activation
// (including creation).
func (e *Engine) AutoCreateSchedulesForAllUsers(ctx context.Context, rule *store.NotificationRule) error {
	switch {
	case isExpiringSoonType(rule.Type) || isExpiredType(rule.Type):
		return e.regenerateKeyBasedRule(ctx, rule, nil, nil)
	case rule.Type == TypeNewUserNoKeys:
		return e.scheduleNewUsersWithoutKeys(ctx, rule)
	case rule.Type == TypeGlobalWeekly:
		return nil // handled by the calendar trigger, not here.
	default:
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (e *Engine) scheduleNewUsersWithoutKeys(ctx context.Context, rule *store.NotificationRule) error {
	users, err := e.store.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	keys, err := e.store.Keys.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	now := e.clock.NowCivil()
	hasFutureKey := make(map[int64]bool)
	for _, k := range keys {
		if k.Finish.After(now) {
			hasFutureKey[k.UserID] = true
		}
	}

	var scheds []*store.NotificationSchedule
	for _, u := range users {
		if hasFutureKey[u.ID] {
			continue
		}
		planned := now
		dedupKey := DedupKeyForGlobalRule(u.ID, rule.ID, planned)
		if e.dedup.seen(ctx, dedupKey) {
			continue
		}
		scheds = append(scheds, &store.NotificationSchedule{
			UserID:    u.ID,
			RuleID:    rule.ID,
			PlannedAt: e.clock.ToStore(planned),
			Status:    store.ScheduleStatusPlanned,
			DedupKey:  dedupKey,
		})
	}

	if err := e.store.Notifications.BulkUpsertSchedule(ctx, scheds); err != nil {
		return fmt.Errorf("bulk upserting new-user schedules: %w", err)
	}
	for _, sched := range scheds {
		e.dedup.record(ctx, sched.DedupKey)
	}
	telemetry.NotificationsPlannedTotal.WithLabelValues(rule.Type).Add(float64(len(scheds)))
	return nil
}

// PlanEventNotifications schedules a single lifecycle-triggered notification
// for one user at baseDt.
func (e *Engine) PlanEventNotifications(ctx context.Context, userID int64, ruleType string, baseDt time.Time) error {
	rules, err := e.store.Notifications.GetRules(ctx, ruleType)
	if err != nil {
		return fmt.Errorf("listing rules of type %q: %w", ruleType, err)
	}

	for _, rule := range rules {
		planned := baseDt
		dedupKey := DedupKeyForGlobalRule(userID, rule.ID, planned)
		if e.dedup.seen(ctx, dedupKey) {
			continue
		}
		_, err := e.store.Notifications.UpsertSchedule(ctx, &store.NotificationSchedule{
			UserID:    userID,
			RuleID:    rule.ID,
			PlannedAt: e.clock.ToStore(planned),
			Status:    store.ScheduleStatusPlanned,
			DedupKey:  dedupKey,
		})
		if err != nil {
			return fmt.Errorf("planning event notification for rule %d: %w", rule.ID, err)
		}
		e.dedup.record(ctx, dedupKey)
		telemetry.NotificationsPlannedTotal.WithLabelValues(rule.Type).Inc()
	}
	return nil
}

// RuleUpdateChange describes which fields an UpdateRule call changed, the
// input to ApplyRuleUpdateSideEffects.
type RuleUpdateChange struct {
	ActiveBefore bool
	ActiveAfter  bool
	OffsetOrType bool
}

// ApplyRuleUpdateSideEffects replays the rule-update side effects after
// UpdateRule has committed the field change.
func (e *Engine) ApplyRuleUpdateSideEffects(ctx context.Context, rule *store.NotificationRule, change RuleUpdateChange) error {
	switch {
	case !change.ActiveAfter:
		return e.CancelByRule(ctx, rule.ID)
	case !change.ActiveBefore && change.ActiveAfter:
		return e.AutoCreateSchedulesForAllUsers(ctx, rule)
	case change.ActiveAfter && change.OffsetOrType:
		if isExpiringSoonType(rule.Type) || isExpiredType(rule.Type) {
			return e.regenerateKeyBasedRule(ctx, rule, nil, nil)
		}
		return nil
	default:
		return nil
	}
}

// CancelByRule cancels every planned schedule for a rule on rule
// deactivation or delete.
func (e *Engine) CancelByRule(ctx context.Context, ruleID int64) error {
	_, err := e.store.Notifications.CancelByRule(ctx, ruleID)
	return err
}

// CancelByUserTypes cancels a user's planned schedules whose rule type is in
// types, the lifecycle-transition hook.
func (e *Engine) CancelByUserTypes(ctx context.Context, userID int64, types []string) error {
	_, err := e.store.Notifications.CancelByUserTypes(ctx, userID, types)
	return err
}

// Lifecycle handlers, invoked by C4.

// OnUserRegistered plans the new_user_no_keys notification for a freshly
// registered user.
func (e *Engine) OnUserRegistered(ctx context.Context, userID int64) error {
	return e.PlanEventNotifications(ctx, userID, TypeNewUserNoKeys, e.clock.NowCivil())
}

// OnTrialKeyCreated retracts the new_user_no_keys warning; key-based
// schedules for the new key are planted by the key-create call site.
func (e *Engine) OnTrialKeyCreated(ctx context.Context, userID int64) error {
	return e.CancelByUserTypes(ctx, userID, []string{TypeNewUserNoKeys})
}

// OnPaidKeyCreated retracts both the onboarding warning and any trial
// lifecycle notifications.
func (e *Engine) OnPaidKeyCreated(ctx context.Context, userID int64) error {
	return e.CancelByUserTypes(ctx, userID, []string{TypeNewUserNoKeys, TypeTrialExpiringSoon, TypeTrialExpired})
}

// OnPaidKeyProlonged retracts stale paid-expiry warnings; the key-update
// path replants fresh schedules.
func (e *Engine) OnPaidKeyProlonged(ctx context.Context, userID int64) error {
	return e.CancelByUserTypes(ctx, userID, []string{TypePaidExpired, TypePaidExpiringSoon})
}

// OnTrialKeyProlonged retracts stale trial-expiry warnings, mirroring
// OnPaidKeyProlonged for trial keys.
func (e *Engine) OnTrialKeyProlonged(ctx context.Context, userID int64) error {
	return e.CancelByUserTypes(ctx, userID, []string{TypeTrialExpired, TypeTrialExpiringSoon})
}

func containsInt64(haystack []int64, needle int64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
