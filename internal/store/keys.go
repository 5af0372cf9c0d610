package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Key is a single provisioned VPN access credential.
type Key struct {
	ID        int64
	UserID    int64
	ServerID  int64
	Key       string
	Device    string
	Name      string
	PaymentID *int64
	Start     time.Time
	Finish    time.Time
	Active    bool
	Alerted   bool
	IsTest    bool
}

// KeyStore provides CRUD and lifecycle queries over the keys table.
type KeyStore struct {
	dbtx DBTX
}

const keyColumns = `id, user_id, server_id, key, device, name, payment_id, start, finish, active, alerted, is_test`

func scanKey(row pgx.Row) (*Key, error) {
	var k Key
	err := row.Scan(
		&k.ID, &k.UserID, &k.ServerID, &k.Key, &k.Device, &k.Name, &k.PaymentID,
		&k.Start, &k.Finish, &k.Active, &k.Alerted, &k.IsTest,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning key: %w", err)
	}
	return &k, nil
}

func scanKeys(rows pgx.Rows) ([]*Key, error) {
	var out []*Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Get fetches a key by id.
func (s *KeyStore) Get(ctx context.Context, id int64) (*Key, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE id = $1`, id)
	return scanKey(row)
}

// ListByUser returns every key belonging to a user, newest finish first.
func (s *KeyStore) ListByUser(ctx context.Context, userID int64) ([]*Key, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+keyColumns+` FROM keys WHERE user_id = $1 ORDER BY finish DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys by user: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListByServer returns every key provisioned on a server.
func (s *KeyStore) ListByServer(ctx context.Context, serverID int64) ([]*Key, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+keyColumns+` FROM keys WHERE server_id = $1`, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing keys by server: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListAll returns every key in the system, used by the sweeper and
// notification planning passes.
func (s *KeyStore) ListAll(ctx context.Context) ([]*Key, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+keyColumns+` FROM keys`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListActiveExpiring returns active keys finishing at or before the given
// instant, the sweeper's core scan.
func (s *KeyStore) ListActiveExpiring(ctx context.Context, before time.Time) ([]*Key, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE active AND finish <= $1`, before,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expiring keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// Create inserts a new key, returning the persisted row including its
// generated id. UNIQUE(server_id, name) makes this safe to retry.
func (s *KeyStore) Create(ctx context.Context, k *Key) (*Key, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO keys (user_id, server_id, key, device, name, payment_id, start, finish, active, alerted, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+keyColumns,
		k.UserID, k.ServerID, k.Key, k.Device, k.Name, k.PaymentID, k.Start, k.Finish, k.Active, k.Alerted, k.IsTest,
	)
	return scanKey(row)
}

// UpdateFields applies a prolong/extend: new finish time, cleared alerted
// flag, and re-activation.
func (s *KeyStore) UpdateFields(ctx context.Context, id int64, finish time.Time, active bool) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE keys SET finish = $2, active = $3, alerted = FALSE WHERE id = $1`,
		id, finish, active,
	)
	if err != nil {
		return fmt.Errorf("updating key fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOnTransfer rewrites a key's server/connection fields after a
// device-to-device transfer, preserving its schedule.
func (s *KeyStore) UpdateOnTransfer(ctx context.Context, id, newServerID int64, newKey, newDevice, newName string) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE keys SET server_id = $2, key = $3, device = $4, name = $5 WHERE id = $1`,
		id, newServerID, newKey, newDevice, newName,
	)
	if err != nil {
		return fmt.Errorf("updating key on transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAlerted flags a key as having entered its expiry warning window; the
// sweeper checks the flag so it marks each key only once. Notification
// planning does not read it.
func (s *KeyStore) MarkAlerted(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE keys SET alerted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking key alerted: %w", err)
	}
	return nil
}

// Deactivate flips a key inactive without deleting it, the sweeper's action
// on expiry once the panel-side disable has succeeded.
func (s *KeyStore) Deactivate(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE keys SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating key: %w", err)
	}
	return nil
}

// Delete removes a key row entirely.
func (s *KeyStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextDeviceIndex returns one more than the number of keys the user already
// holds for a device (1 for the first), used as the numeric suffix of the
// next key name, so a user may hold several concurrent keys on the same
// device kind without a name collision.
func (s *KeyStore) NextDeviceIndex(ctx context.Context, userID int64, device string) (int, error) {
	var count int
	err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM keys WHERE user_id = $1 AND device = $2`,
		userID, device,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting existing keys: %w", err)
	}
	return count + 1, nil
}
