package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Promo is a discount code with optional redemption limits.
type Promo struct {
	Code       string
	Price      int64
	UsersLimit int
	FinishTime *time.Time
	Users      []int64
	Tariffs    []int64
}

// PromoStore provides CRUD and redemption tracking for promo codes.
type PromoStore struct {
	dbtx DBTX
}

const promoColumns = `code, price, users_limit, finish_time, users, tariffs`

func scanPromo(row pgx.Row) (*Promo, error) {
	var p Promo
	err := row.Scan(&p.Code, &p.Price, &p.UsersLimit, &p.FinishTime, &p.Users, &p.Tariffs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning promo: %w", err)
	}
	return &p, nil
}

// Get fetches a promo by its code.
func (s *PromoStore) Get(ctx context.Context, code string) (*Promo, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+promoColumns+` FROM promos WHERE code = $1`, code)
	return scanPromo(row)
}

// Create inserts a new promo code.
func (s *PromoStore) Create(ctx context.Context, p *Promo) (*Promo, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO promos (code, price, users_limit, finish_time, users, tariffs)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+promoColumns,
		p.Code, p.Price, p.UsersLimit, p.FinishTime, p.Users, p.Tariffs,
	)
	return scanPromo(row)
}

// RecordRedemption appends a user id to a promo's redemption list, enforcing
// UsersLimit at the call site.
func (s *PromoStore) RecordRedemption(ctx context.Context, code string, userID int64) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE promos SET users = array_append(users, $2) WHERE code = $1 AND NOT ($2 = ANY(users))`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("recording promo redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a promo code.
func (s *PromoStore) Delete(ctx context.Context, code string) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM promos WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("deleting promo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every promo code.
func (s *PromoStore) List(ctx context.Context) ([]*Promo, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+promoColumns+` FROM promos ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing promos: %w", err)
	}
	defer rows.Close()

	var out []*Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
