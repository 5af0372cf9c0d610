package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PaymentStatus mirrors the payments.status CHECK constraint.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentError   PaymentStatus = "error"
)

// Payment is a single provider checkout and its provisioning outcome.
type Payment struct {
	ID          int64
	Label       string
	UserID      int64
	TariffID    int64
	Amount      int64
	URL         string
	Device      *string
	KeyID       *int64
	Promo       *string
	Status      PaymentStatus
	KeyIssuedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentStore provides the payment state machine's persistence.
type PaymentStore struct {
	dbtx DBTX
}

const paymentColumns = `id, label, user_id, tariff_id, amount, url, device, key_id, promo, status, key_issued_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.Label, &p.UserID, &p.TariffID, &p.Amount, &p.URL, &p.Device, &p.KeyID,
		&p.Promo, &p.Status, &p.KeyIssuedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	return &p, nil
}

func scanPayments(rows pgx.Rows) ([]*Payment, error) {
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new pending payment. label must be a fresh idempotency
// token (UUID); the UNIQUE constraint rejects accidental duplicate creation.
func (s *PaymentStore) Create(ctx context.Context, p *Payment) (*Payment, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO payments (label, user_id, tariff_id, amount, url, device, key_id, promo, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING `+paymentColumns,
		p.Label, p.UserID, p.TariffID, p.Amount, p.URL, p.Device, p.KeyID, p.Promo,
	)
	return scanPayment(row)
}

// Get fetches a payment by id.
func (s *PaymentStore) Get(ctx context.Context, id int64) (*Payment, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByLabel fetches a payment by its provider-facing idempotency label.
func (s *PaymentStore) GetByLabel(ctx context.Context, label string) (*Payment, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE label = $1`, label)
	return scanPayment(row)
}

// ListPending returns every payment still awaiting a provider confirmation,
// the payments_pending ticker's scan.
func (s *PaymentStore) ListPending(ctx context.Context) ([]*Payment, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing pending payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

// ListSuccessWithoutKey returns payments confirmed by the provider but not
// yet provisioned, the payments_recover ticker's scan — it catches
// any Issue() call that crashed between marking success and issuing a key.
func (s *PaymentStore) ListSuccessWithoutKey(ctx context.Context) ([]*Payment, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = 'success' AND key_issued_at IS NULL ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing success-without-key payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

// MarkSuccess transitions a pending payment to success once the provider
// confirms receipt. Scoped to status = 'pending' so a concurrent caller
// cannot re-fire the transition.
func (s *PaymentStore) MarkSuccess(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE payments SET status = 'success', updated_at = now() WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking payment success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkError transitions a payment to its terminal failure state (a cancelled
// payment, or a paid one whose tariff no longer exists).
func (s *PaymentStore) MarkError(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE payments SET status = 'error', updated_at = now() WHERE id = $1 AND status != 'error'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking payment error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkKeyIssued attaches the provisioned key to a successful payment,
// completing the state machine. Scoped to key_issued_at IS NULL so a
// concurrent Issue() retry is a no-op rather than a double-provision.
func (s *PaymentStore) MarkKeyIssued(ctx context.Context, id, keyID int64) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE payments SET key_id = $2, key_issued_at = now(), updated_at = now() WHERE id = $1 AND key_issued_at IS NULL`,
		id, keyID,
	)
	if err != nil {
		return fmt.Errorf("marking key issued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsKeyIssued reports whether a payment has already completed provisioning,
// letting Issue() short-circuit on a concurrent or retried call.
func (s *PaymentStore) IsKeyIssued(ctx context.Context, id int64) (bool, error) {
	var issued bool
	err := s.dbtx.QueryRow(ctx, `SELECT key_issued_at IS NOT NULL FROM payments WHERE id = $1`, id).Scan(&issued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("checking key issued: %w", err)
	}
	return issued, nil
}

// DeleteExpired removes pending payments older than the given cutoff that
// the provider never confirmed, keeping the table free of abandoned
// checkouts.
func (s *PaymentStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM payments WHERE status = 'pending' AND created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired payments: %w", err)
	}
	return tag.RowsAffected(), nil
}
