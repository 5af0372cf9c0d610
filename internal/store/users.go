package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by single-row lookups that match no record.
var ErrNotFound = errors.New("store: not found")

// User is the persisted representation of a chat identity.
type User struct {
	ID             int64
	Username       *string
	Balance        int64
	TrialUsed      bool
	PromoUsed      bool
	TrialExpiresAt *time.Time
	IsBanned       bool
	BanReason      *string
	IsAdmin        bool
}

// UserStore provides CRUD and lookup access to the users table.
type UserStore struct {
	dbtx DBTX
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Balance, &u.TrialUsed, &u.PromoUsed,
		&u.TrialExpiresAt, &u.IsBanned, &u.BanReason, &u.IsAdmin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

const userColumns = `id, username, balance, trial_used, promo_used, trial_expires_at, is_banned, ban_reason, is_admin`

// Get fetches a user by chat identity id.
func (s *UserStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByIDOrUsername resolves a user from either a numeric id or an @username,
// matching the lookup the front-end surface accepts for admin commands.
func (s *UserStore) GetByIDOrUsername(ctx context.Context, idOrUsername string) (*User, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id::text = $1 OR username = $1`,
		idOrUsername,
	)
	return scanUser(row)
}

// CreateFromChatIdentity inserts a new user the first time a chat identity is
// observed, or returns the existing row (idempotent onboarding), updating its
// username when a non-nil one is given.
func (s *UserStore) CreateFromChatIdentity(ctx context.Context, id int64, username *string) (*User, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username)
		RETURNING `+userColumns,
		id, username,
	)
	return scanUser(row)
}

// SetTrialUsed marks a user's trial as consumed and records its expiry.
func (s *UserStore) SetTrialUsed(ctx context.Context, userID int64, trialExpiresAt time.Time) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE users SET trial_used = TRUE, trial_expires_at = $2 WHERE id = $1`,
		userID, trialExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("setting trial used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ban sets a user's banned flag and reason.
func (s *UserStore) Ban(ctx context.Context, userID int64, reason string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE users SET is_banned = TRUE, ban_reason = $2 WHERE id = $1`,
		userID, reason,
	)
	if err != nil {
		return fmt.Errorf("banning user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Unban clears a user's banned flag.
func (s *UserStore) Unban(ctx context.Context, userID int64) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE users SET is_banned = FALSE, ban_reason = NULL WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("unbanning user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every user ordered by id, for admin broadcast and sweep
// targeting.
func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetWithRoles fetches a user along with its admin/ban flags resolved,
// equivalent to Get but named for call sites that only care about roles.
func (s *UserStore) GetWithRoles(ctx context.Context, id int64) (*User, error) {
	return s.Get(ctx, id)
}
