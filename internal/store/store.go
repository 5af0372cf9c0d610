// Package store provides typed, transactional access to the keyserver's
// persisted entities: users, keys, payments, servers, tariffs,
// promos, notification rules/schedules/log, and text settings.
//
// Every mutating operation is a single bounded transaction; long-blocking
// I/O (panel HTTP, provider HTTP) is never performed while holding one.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx, letting every
// Store method run either directly against the pool or inside a caller-held
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notificationTypeVariants lists every NotificationRule.type value the
// persisted enum must contain. Additive-only migration: new
// variants are appended here and picked up by the next EnsureEnumVariants
// call, never removed (removing a live enum value would break existing rows).
var notificationTypeVariants = []string{
	"trial_expiring_soon",
	"trial_expired",
	"paid_expiring_soon",
	"paid_expired",
	"new_user_no_keys",
	"global_weekly",
}

// Store bundles all entity-specific sub-stores behind a shared DBTX and the
// process-wide "enum migration done" guard, the only shared mutable state
// besides the data store itself.
type Store struct {
	Users         *UserStore
	Keys          *KeyStore
	Payments      *PaymentStore
	Servers       *ServerStore
	Tariffs       *TariffStore
	Promos        *PromoStore
	Notifications *NotificationStore
	TextSettings  *TextSettingsStore

	dbtx DBTX

	enumOnce sync.Once
	enumErr  error
}

// New creates a Store backed by the given connection (pool, acquired conn,
// or transaction).
func New(dbtx DBTX) *Store {
	return &Store{
		Users:         &UserStore{dbtx: dbtx},
		Keys:          &KeyStore{dbtx: dbtx},
		Payments:      &PaymentStore{dbtx: dbtx},
		Servers:       &ServerStore{dbtx: dbtx},
		Tariffs:       &TariffStore{dbtx: dbtx},
		Promos:        &PromoStore{dbtx: dbtx},
		Notifications: &NotificationStore{dbtx: dbtx},
		TextSettings:  &TextSettingsStore{dbtx: dbtx},
		dbtx:          dbtx,
	}
}

// EnsureEnumVariants runs the additive `notificationtype` enum migration at
// most once per process. Safe to call repeatedly; only the
// first call touches the database.
func (s *Store) EnsureEnumVariants(ctx context.Context) error {
	s.enumOnce.Do(func() {
		for _, v := range notificationTypeVariants {
			// ALTER TYPE ... ADD VALUE takes a literal, not a bind
			// parameter; the variant list is fixed at compile time, never
			// derived from user input, so building the statement is safe.
			stmt := fmt.Sprintf(`ALTER TYPE notificationtype ADD VALUE IF NOT EXISTS '%s'`, v)
			if _, err := s.dbtx.Exec(ctx, stmt); err != nil {
				s.enumErr = err
				return
			}
		}
	})
	return s.enumErr
}

// WithPool is a convenience constructor: one Store per request/job, all
// sharing the same pool.
func WithPool(pool *pgxpool.Pool) *Store {
	return New(pool)
}
