package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

const defaultSessionName = "default"

// SessionStore implements domain.SessionStore and domain.ControlSource using
// PostgreSQL. Each named session owns one snapshot row and one control row.
type SessionStore struct {
	pool *pgxpool.Pool
	name string
}

// NewSessionStore creates a SessionStore for the named session. An empty name
// selects "default".
func NewSessionStore(pool *pgxpool.Pool, name string) *SessionStore {
	if name == "" {
		name = defaultSessionName
	}
	return &SessionStore{pool: pool, name: name}
}

// LoadSession returns the stored snapshot or domain.ErrNotFound.
func (s *SessionStore) LoadSession(ctx context.Context) (domain.SessionState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM session_snapshots WHERE name = $1`, s.name,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionState{}, domain.ErrNotFound
		}
		return domain.SessionState{}, fmt.Errorf("postgres: load session %s: %w", s.name, err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("postgres: unmarshal session %s: %w", s.name, err)
	}
	return state, nil
}

// SaveSession upserts the snapshot.
func (s *SessionStore) SaveSession(ctx context.Context, state domain.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal session %s: %w", s.name, err)
	}

	const query = `
		INSERT INTO session_snapshots (name, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			state      = EXCLUDED.state,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, s.name, raw); err != nil {
		return fmt.Errorf("postgres: save session %s: %w", s.name, err)
	}
	return nil
}

// Running reports the control switch. A missing row means run.
func (s *SessionStore) Running(ctx context.Context) (bool, error) {
	var running bool
	err := s.pool.QueryRow(ctx,
		`SELECT running FROM session_control WHERE name = $1`, s.name,
	).Scan(&running)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return true, fmt.Errorf("postgres: read control %s: %w", s.name, err)
	}
	return running, nil
}

// SetRunning stores the control switch.
func (s *SessionStore) SetRunning(ctx context.Context, run bool) error {
	const query = `
		INSERT INTO session_control (name, running, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			running    = EXCLUDED.running,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, s.name, run); err != nil {
		return fmt.Errorf("postgres: set control %s: %w", s.name, err)
	}
	return nil
}
