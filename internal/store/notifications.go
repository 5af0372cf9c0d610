package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ScheduleStatus mirrors the notification_schedules.status CHECK constraint.
type ScheduleStatus string

const (
	ScheduleStatusPlanned   ScheduleStatus = "planned"
	ScheduleStatusSent      ScheduleStatus = "sent"
	ScheduleStatusSkipped   ScheduleStatus = "skipped"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusError     ScheduleStatus = "error"
)

// NotificationRule is a single trigger definition.
type NotificationRule struct {
	ID               int64
	Name             string
	Type             string
	Priority         int
	OffsetDays       *int
	OffsetHours      *int
	RepeatEveryDays  *int
	RepeatEveryHours *int
	Weekday          *int
	TimeOfDay        *string
	Timezone         string
	MessageTemplate  []byte
	IsActive         bool
}

// NotificationSchedule is one planned/sent delivery of a rule to a user
//. DedupKey is the total function of (rule, user, type,
// planned_at) that makes scheduling idempotent under replanning.
type NotificationSchedule struct {
	ID        int64
	UserID    int64
	RuleID    int64
	PlannedAt time.Time
	Status    ScheduleStatus
	DedupKey  string
	SentAt    *time.Time
	LastError *string
}

// NotificationStore provides rule/schedule/log persistence for the
// notification engine.
type NotificationStore struct {
	dbtx DBTX
}

const ruleColumns = `id, name, type, priority, offset_days, offset_hours, repeat_every_days, repeat_every_hours, weekday, time_of_day, timezone, message_template, is_active`

func scanRule(row pgx.Row) (*NotificationRule, error) {
	var r NotificationRule
	err := row.Scan(
		&r.ID, &r.Name, &r.Type, &r.Priority, &r.OffsetDays, &r.OffsetHours,
		&r.RepeatEveryDays, &r.RepeatEveryHours, &r.Weekday, &r.TimeOfDay,
		&r.Timezone, &r.MessageTemplate, &r.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning notification rule: %w", err)
	}
	return &r, nil
}

const scheduleColumns = `id, user_id, rule_id, planned_at, status, dedup_key, sent_at, last_error`

func scanSchedule(row pgx.Row) (*NotificationSchedule, error) {
	var s NotificationSchedule
	err := row.Scan(
		&s.ID, &s.UserID, &s.RuleID, &s.PlannedAt, &s.Status, &s.DedupKey, &s.SentAt, &s.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning notification schedule: %w", err)
	}
	return &s, nil
}

// CreateRule inserts a new notification rule.
func (s *NotificationStore) CreateRule(ctx context.Context, r *NotificationRule) (*NotificationRule, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO notification_rules
			(name, type, priority, offset_days, offset_hours, repeat_every_days, repeat_every_hours, weekday, time_of_day, timezone, message_template, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+ruleColumns,
		r.Name, r.Type, r.Priority, r.OffsetDays, r.OffsetHours, r.RepeatEveryDays,
		r.RepeatEveryHours, r.Weekday, r.TimeOfDay, r.Timezone, r.MessageTemplate, r.IsActive,
	)
	return scanRule(row)
}

// UpdateRule replaces a rule's mutable fields in place.
func (s *NotificationStore) UpdateRule(ctx context.Context, r *NotificationRule) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE notification_rules SET
			name = $2, priority = $3, offset_days = $4, offset_hours = $5,
			repeat_every_days = $6, repeat_every_hours = $7, weekday = $8,
			time_of_day = $9, timezone = $10, message_template = $11, is_active = $12
		WHERE id = $1`,
		r.ID, r.Name, r.Priority, r.OffsetDays, r.OffsetHours, r.RepeatEveryDays,
		r.RepeatEveryHours, r.Weekday, r.TimeOfDay, r.Timezone, r.MessageTemplate, r.IsActive,
	)
	if err != nil {
		return fmt.Errorf("updating notification rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. Dependent schedules cascade via the
// notification_schedules FK; notification_log carries no FK (it's an
// append-only audit trail, not a live relation), so its rows are deleted
// explicitly here to honor the same "delete_rule cascades logs and
// schedules" contract. Callers should run this inside a transaction
// alongside the schedule cascade.
func (s *NotificationStore) DeleteRule(ctx context.Context, id int64) error {
	if _, err := s.dbtx.Exec(ctx, `DELETE FROM notification_log WHERE rule_id = $1`, id); err != nil {
		return fmt.Errorf("deleting notification log entries for rule: %w", err)
	}
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting notification rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRule fetches a rule by id.
func (s *NotificationStore) GetRule(ctx context.Context, id int64) (*NotificationRule, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`, id)
	return scanRule(row)
}

// GetRules lists every active rule, optionally filtered by type, the input
// to the scheduling pass.
func (s *NotificationStore) GetRules(ctx context.Context, ruleType string) ([]*NotificationRule, error) {
	var rows pgx.Rows
	var err error
	if ruleType == "" {
		rows, err = s.dbtx.Query(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE is_active ORDER BY priority DESC`)
	} else {
		rows, err = s.dbtx.Query(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE is_active AND type = $1 ORDER BY priority DESC`, ruleType)
	}
	if err != nil {
		return nil, fmt.Errorf("listing notification rules: %w", err)
	}
	defer rows.Close()

	var out []*NotificationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSchedule inserts a planned delivery or leaves the existing one
// untouched if dedup_key already exists — the core idempotency guarantee of
// the scheduling pass.
func (s *NotificationStore) UpsertSchedule(ctx context.Context, sched *NotificationSchedule) (*NotificationSchedule, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO notification_schedules (user_id, rule_id, planned_at, status, dedup_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = notification_schedules.dedup_key
		RETURNING `+scheduleColumns,
		sched.UserID, sched.RuleID, sched.PlannedAt, sched.Status, sched.DedupKey,
	)
	return scanSchedule(row)
}

// BulkUpsertSchedule applies UpsertSchedule for a whole batch inside the
// caller's transaction, used by the mass replanning passes
// (sync_user_key_rules, auto_create_schedules_for_all_users).
func (s *NotificationStore) BulkUpsertSchedule(ctx context.Context, scheds []*NotificationSchedule) error {
	for _, sched := range scheds {
		if _, err := s.UpsertSchedule(ctx, sched); err != nil {
			return err
		}
	}
	return nil
}

// FetchDueSchedules returns up to limit planned schedules whose planned_at
// has arrived, oldest first — one dispatcher batch (50 rows per batch, up
// to 100 batches per tick).
func (s *NotificationStore) FetchDueSchedules(ctx context.Context, now time.Time, limit int) ([]*NotificationSchedule, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM notification_schedules
		WHERE status = 'planned' AND planned_at <= $1
		ORDER BY planned_at
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching due schedules: %w", err)
	}
	defer rows.Close()

	var out []*NotificationSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// MarkSent transitions a schedule to sent.
func (s *NotificationStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE notification_schedules SET status = 'sent', sent_at = $2 WHERE id = $1`,
		id, sentAt,
	)
	if err != nil {
		return fmt.Errorf("marking schedule sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScheduleError records a delivery failure and moves the schedule to
// error; FetchDueSchedules selects only planned rows, so it is not retried.
func (s *NotificationStore) MarkScheduleError(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE notification_schedules SET status = 'error', last_error = $2 WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("marking schedule error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelByRule cancels every still-planned schedule for a rule, used when a
// rule is deactivated or deleted.
func (s *NotificationStore) CancelByRule(ctx context.Context, ruleID int64) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE notification_schedules SET status = 'cancelled' WHERE rule_id = $1 AND status = 'planned'`,
		ruleID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancelling schedules by rule: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelPlannedForRule cancels a rule's still-planned schedules, optionally
// scoped to userIDs, ahead of a bulk replan so stale-offset rows don't
// survive alongside freshly recomputed ones.
func (s *NotificationStore) CancelPlannedForRule(ctx context.Context, ruleID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		_, err := s.dbtx.Exec(ctx,
			`UPDATE notification_schedules SET status = 'cancelled' WHERE rule_id = $1 AND status = 'planned'`,
			ruleID,
		)
		if err != nil {
			return fmt.Errorf("cancelling planned schedules for rule: %w", err)
		}
		return nil
	}
	_, err := s.dbtx.Exec(ctx,
		`UPDATE notification_schedules SET status = 'cancelled' WHERE rule_id = $1 AND status = 'planned' AND user_id = ANY($2)`,
		ruleID, userIDs,
	)
	if err != nil {
		return fmt.Errorf("cancelling planned schedules for rule, scoped to users: %w", err)
	}
	return nil
}

// CancelByUserTypes cancels a user's planned schedules whose rule type is in
// the given list, the hook a key renewal or ban uses to retract now-stale
// expiry warnings.
func (s *NotificationStore) CancelByUserTypes(ctx context.Context, userID int64, types []string) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE notification_schedules ns
		SET status = 'cancelled'
		FROM notification_rules nr
		WHERE ns.rule_id = nr.id AND ns.user_id = $1 AND ns.status = 'planned' AND nr.type = ANY($2)`,
		userID, types,
	)
	if err != nil {
		return 0, fmt.Errorf("cancelling schedules by user types: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LogManual appends an out-of-band delivery (an admin broadcast, or a
// dispatcher outcome) to the append-only notification_log.
func (s *NotificationStore) LogManual(ctx context.Context, userID, ruleID, scheduleID *int64, status, messageID, errMsg string) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO notification_log (user_id, rule_id, schedule_id, status, message_id, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, ruleID, scheduleID, status, nullableString(messageID), nullableString(errMsg),
	)
	if err != nil {
		return fmt.Errorf("logging notification: %w", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
