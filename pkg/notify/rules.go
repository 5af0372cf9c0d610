package notify

import (
	"fmt"
	"time"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/store"
)

// Rule type constants mirror the persisted notificationtype enum.
const (
	TypeTrialExpiringSoon = "trial_expiring_soon"
	TypeTrialExpired      = "trial_expired"
	TypePaidExpiringSoon  = "paid_expiring_soon"
	TypePaidExpired       = "paid_expired"
	TypeNewUserNoKeys     = "new_user_no_keys"
	TypeGlobalWeekly      = "global_weekly"
)

func isExpiredType(t string) bool {
	return t == TypeTrialExpired || t == TypePaidExpired
}

func isExpiringSoonType(t string) bool {
	return t == TypeTrialExpiringSoon || t == TypePaidExpiringSoon
}

// ruleOffset returns offset(r) = days*24h + hours*1h.
func ruleOffset(r *store.NotificationRule) time.Duration {
	var d time.Duration
	if r.OffsetDays != nil {
		d += time.Duration(*r.OffsetDays) * 24 * time.Hour
	}
	if r.OffsetHours != nil {
		d += time.Duration(*r.OffsetHours) * time.Hour
	}
	return d
}

// PlannedAt computes planned_at for a key-based rule against one key,
// returning ok=false when the event has already passed or is too old to
// schedule.
func PlannedAt(r *store.NotificationRule, finish, now time.Time) (planned time.Time, ok bool) {
	if isExpiringSoonType(r.Type) && !finish.After(now) {
		return time.Time{}, false
	}
	if isExpiredType(r.Type) && finish.Before(now) {
		return time.Time{}, false
	}

	if isExpiredType(r.Type) {
		return finish.Add(ruleOffset(r)), true
	}

	planned = finish.Add(-ruleOffset(r))
	if planned.Before(now) {
		planned = now
	}
	return planned, true
}

// DedupKeyForKeyRule builds the dedup_key for a key-based rule delivery:
// "<rule_id>:<user_id>:<type>:<planned_at_minute_ISO>".
func DedupKeyForKeyRule(ruleID, userID int64, ruleType string, plannedAt time.Time) string {
	minute := clock.RoundToMinute(plannedAt.UTC())
	return fmt.Sprintf("%d:%d:%s:%s", ruleID, userID, ruleType, minute.Format(time.RFC3339))
}

// DedupKeyForGlobalRule builds the dedup_key for global and lifecycle rules:
// "<user_id>:<rule_id>:<planned_at_epoch_seconds>".
func DedupKeyForGlobalRule(userID, ruleID int64, plannedAt time.Time) string {
	return fmt.Sprintf("%d:%d:%d", userID, ruleID, plannedAt.UTC().Unix())
}

// repeatInterval returns a rule's repeat_every duration, or 0 if it does not
// repeat.
func repeatInterval(r *store.NotificationRule) time.Duration {
	var d time.Duration
	if r.RepeatEveryDays != nil {
		d += time.Duration(*r.RepeatEveryDays) * 24 * time.Hour
	}
	if r.RepeatEveryHours != nil {
		d += time.Duration(*r.RepeatEveryHours) * time.Hour
	}
	return d
}
