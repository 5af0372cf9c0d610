package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/corsarvpn/keyserver/internal/store"
)

func intPtr(n int) *int { return &n }

func TestPlannedAt_ExpiringSoon(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rule := &store.NotificationRule{Type: TypeTrialExpiringSoon, OffsetHours: intPtr(12)}

	t.Run("finish in the future yields finish minus offset", func(t *testing.T) {
		finish := now.Add(24 * time.Hour)
		planned, ok := PlannedAt(rule, finish, now)
		if !ok {
			t.Fatalf("expected ok=true")
		}
		want := finish.Add(-12 * time.Hour)
		if !planned.Equal(want) {
			t.Errorf("planned = %v, want %v", planned, want)
		}
	})

	t.Run("offset would land in the past clamps to now", func(t *testing.T) {
		finish := now.Add(1 * time.Hour)
		planned, ok := PlannedAt(rule, finish, now)
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if !planned.Equal(now) {
			t.Errorf("planned = %v, want now %v", planned, now)
		}
	})

	t.Run("already expired is rejected", func(t *testing.T) {
		finish := now.Add(-1 * time.Hour)
		_, ok := PlannedAt(rule, finish, now)
		if ok {
			t.Errorf("expected ok=false for a finish time that has already passed")
		}
	})
}

func TestPlannedAt_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rule := &store.NotificationRule{Type: TypeTrialExpired, OffsetHours: intPtr(2)}

	t.Run("finish not yet passed yields finish plus offset", func(t *testing.T) {
		finish := now.Add(1 * time.Hour)
		planned, ok := PlannedAt(rule, finish, now)
		if !ok {
			t.Fatalf("expected ok=true")
		}
		want := finish.Add(2 * time.Hour)
		if !planned.Equal(want) {
			t.Errorf("planned = %v, want %v", planned, want)
		}
	})

	t.Run("finish already passed is rejected", func(t *testing.T) {
		finish := now.Add(-1 * time.Hour)
		_, ok := PlannedAt(rule, finish, now)
		if ok {
			t.Errorf("expected ok=false once the key's finish is already in the past")
		}
	})
}

func TestDedupKeyForKeyRule_StableAcrossSubMinuteJitter(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	a := DedupKeyForKeyRule(1, 2, TypeTrialExpiringSoon, base)
	b := DedupKeyForKeyRule(1, 2, TypeTrialExpiringSoon, base.Add(45*time.Second))
	if a != b {
		t.Errorf("dedup keys diverged across sub-minute jitter: %q vs %q", a, b)
	}

	c := DedupKeyForKeyRule(1, 2, TypeTrialExpiringSoon, base.Add(90*time.Second))
	if a == c {
		t.Errorf("dedup keys matched across a full-minute boundary")
	}
}

func TestDedupKeyForGlobalRule_FieldOrderDiffersFromKeyRule(t *testing.T) {
	plannedAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	key := DedupKeyForGlobalRule(2, 1, plannedAt)
	want := fmt.Sprintf("%d:%d:%d", 2, 1, plannedAt.Unix())
	if key != want {
		t.Errorf("DedupKeyForGlobalRule = %q, want %q", key, want)
	}
}

func TestRepeatInterval(t *testing.T) {
	rule := &store.NotificationRule{RepeatEveryDays: intPtr(1), RepeatEveryHours: intPtr(6)}
	want := 30 * time.Hour
	if got := repeatInterval(rule); got != want {
		t.Errorf("repeatInterval = %v, want %v", got, want)
	}

	zero := &store.NotificationRule{}
	if got := repeatInterval(zero); got != 0 {
		t.Errorf("repeatInterval of a non-repeating rule = %v, want 0", got)
	}
}
