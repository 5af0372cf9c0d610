package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Server is a single panel-managed VPN node.
type Server struct {
	ID       int64
	Host     string
	Login    string
	Password string
	MaxUsers int
	IsTest   bool
}

// ServerStore provides CRUD and capacity-aware selection over servers.
type ServerStore struct {
	dbtx DBTX
}

const serverColumns = `id, host, login, password, max_users, is_test`

func scanServer(row pgx.Row) (*Server, error) {
	var srv Server
	err := row.Scan(&srv.ID, &srv.Host, &srv.Login, &srv.Password, &srv.MaxUsers, &srv.IsTest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning server: %w", err)
	}
	return &srv, nil
}

// Get fetches a server by id.
func (s *ServerStore) Get(ctx context.Context, id int64) (*Server, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

// Create inserts a new panel server.
func (s *ServerStore) Create(ctx context.Context, srv *Server) (*Server, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO servers (host, login, password, max_users, is_test)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+serverColumns,
		srv.Host, srv.Login, srv.Password, srv.MaxUsers, srv.IsTest,
	)
	return scanServer(row)
}

// Delete removes a server.
func (s *ServerStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSortedByFreeSlots returns candidate servers matching isTest, ordered so
// the least-loaded server (by current key count against max_users) is first
// — the selection rule a new key's Create call uses.
func (s *ServerStore) ListSortedByFreeSlots(ctx context.Context, isTest bool) ([]*Server, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT s.id, s.host, s.login, s.password, s.max_users, s.is_test
		FROM servers s
		LEFT JOIN keys k ON k.server_id = s.id AND k.active
		WHERE s.is_test = $1
		GROUP BY s.id
		ORDER BY (s.max_users - count(k.id)) DESC`,
		isTest,
	)
	if err != nil {
		return nil, fmt.Errorf("listing servers by free slots: %w", err)
	}
	defer rows.Close()

	var out []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// List returns every server.
func (s *ServerStore) List(ctx context.Context) ([]*Server, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var out []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}
