package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tariff is a purchasable subscription duration/price pair.
type Tariff struct {
	ID       int64
	Name     string
	Price    int64
	Days     int
	Discount *int
}

// TariffStore provides CRUD access to tariffs.
type TariffStore struct {
	dbtx DBTX
}

const tariffColumns = `id, name, price, days, discount`

func scanTariff(row pgx.Row) (*Tariff, error) {
	var t Tariff
	err := row.Scan(&t.ID, &t.Name, &t.Price, &t.Days, &t.Discount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning tariff: %w", err)
	}
	return &t, nil
}

// Get fetches a tariff by id.
func (s *TariffStore) Get(ctx context.Context, id int64) (*Tariff, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id)
	return scanTariff(row)
}

// List returns every tariff ordered by price.
func (s *TariffStore) List(ctx context.Context) ([]*Tariff, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+tariffColumns+` FROM tariffs ORDER BY price`)
	if err != nil {
		return nil, fmt.Errorf("listing tariffs: %w", err)
	}
	defer rows.Close()

	var out []*Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a new tariff.
func (s *TariffStore) Create(ctx context.Context, t *Tariff) (*Tariff, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO tariffs (name, price, days, discount)
		VALUES ($1, $2, $3, $4)
		RETURNING `+tariffColumns,
		t.Name, t.Price, t.Days, t.Discount,
	)
	return scanTariff(row)
}

// Delete removes a tariff.
func (s *TariffStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM tariffs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tariff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
