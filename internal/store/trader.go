package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrTraderNotFound is returned when no trader row matches the username.
var ErrTraderNotFound = errors.New("store: trader not found")

// Trader is an operator account allowed to sign into the dashboard API
// (spec.md treats the dashboard/API layer as an external collaborator;
// this is the minimal credential store it needs).
type Trader struct {
	ID           int64
	Username     string
	PasswordHash string
}

// GetTraderByUsername looks up a trader by username for login.
func (s *Store) GetTraderByUsername(ctx context.Context, username string) (Trader, error) {
	var t Trader
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT id, username, password_hash FROM trader WHERE username = $1`, username)
		return row.Scan(&t.ID, &t.Username, &t.PasswordHash)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Trader{}, ErrTraderNotFound
	}
	if err != nil {
		return Trader{}, fmt.Errorf("store: get trader: %w", err)
	}
	return t, nil
}

// CreateTrader inserts a new operator account with an already-hashed
// password.
func (s *Store) CreateTrader(ctx context.Context, username, passwordHash string) (Trader, error) {
	var t Trader
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO trader (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash`,
			username, passwordHash)
		return row.Scan(&t.ID, &t.Username, &t.PasswordHash)
	})
	if err != nil {
		return Trader{}, fmt.Errorf("store: create trader: %w", err)
	}
	return t, nil
}
