// Package sqlite implements the session stores on an embedded SQLite
// database (pure Go, no CGo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
    name       TEXT PRIMARY KEY,
    state      TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_control (
    name       TEXT PRIMARY KEY,
    running    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id            TEXT PRIMARY KEY,
    contract_id   TEXT    NOT NULL UNIQUE,
    proposal_id   TEXT    NOT NULL DEFAULT '',
    symbol        TEXT    NOT NULL,
    contract_type TEXT    NOT NULL,
    barrier       INTEGER NOT NULL,
    stake         REAL    NOT NULL,
    buy_price     REAL    NOT NULL,
    payout        REAL    NOT NULL,
    profit        REAL    NOT NULL,
    result        TEXT    NOT NULL,
    balance_after REAL    NOT NULL,
    opened_at     INTEGER NOT NULL,
    settled_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_settled ON trades(settled_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_created  ON audit_log(created_at DESC);
`

const defaultSessionName = "default"

// Store implements domain.SessionStore, domain.TradeStore, domain.AuditStore
// and domain.ControlSource on one database file. Timestamps are stored as
// unix milliseconds.
type Store struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, name: defaultSessionName, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSession returns the stored snapshot or domain.ErrNotFound.
func (s *Store) LoadSession(ctx context.Context) (domain.SessionState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_snapshots WHERE name = ?`, s.name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("sqlite: load session: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("sqlite: unmarshal session: %w", err)
	}
	return state, nil
}

// SaveSession upserts the snapshot.
func (s *Store) SaveSession(ctx context.Context, state domain.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (name, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		s.name, string(raw), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	return nil
}

// Running reports the control switch. A missing row means run.
func (s *Store) Running(ctx context.Context) (bool, error) {
	var running int
	err := s.db.QueryRowContext(ctx,
		`SELECT running FROM session_control WHERE name = ?`, s.name,
	).Scan(&running)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("sqlite: read control: %w", err)
	}
	return running != 0, nil
}

// SetRunning stores the control switch.
func (s *Store) SetRunning(ctx context.Context, run bool) error {
	v := 0
	if run {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_control (name, running, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET running = excluded.running, updated_at = excluded.updated_at`,
		s.name, v, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set control: %w", err)
	}
	return nil
}

// InsertTrade records a settled trade; a contract already recorded is skipped.
func (s *Store) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, contract_id, proposal_id, symbol, contract_type, barrier,
			stake, buy_price, payout, profit, result, balance_after,
			opened_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO NOTHING`,
		t.ID, t.ContractID, t.ProposalID, t.Symbol, string(t.ContractType), t.Barrier,
		t.Stake, t.BuyPrice, t.Payout, t.Profit, string(t.Result), t.BalanceAfter,
		t.OpenedAt.UnixMilli(), t.SettledAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert trade %s: %w", t.ContractID, err)
	}
	return nil
}

// ListTrades returns trades newest first.
func (s *Store) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := window(`SELECT id, contract_id, proposal_id, symbol, contract_type, barrier,
		stake, buy_price, payout, profit, result, balance_after, opened_at, settled_at
		FROM trades WHERE 1=1`, "settled_at", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var contractType, result string
		var openedAt, settledAt int64
		if err := rows.Scan(
			&t.ID, &t.ContractID, &t.ProposalID, &t.Symbol, &contractType, &t.Barrier,
			&t.Stake, &t.BuyPrice, &t.Payout, &t.Profit, &result, &t.BalanceAfter,
			&openedAt, &settledAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.ContractType = domain.ContractType(contractType)
		t.Result = domain.TradeResult(result)
		t.OpenedAt = time.UnixMilli(openedAt).UTC()
		t.SettledAt = time.UnixMilli(settledAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Log appends a session log entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns session log entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := window(`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`, "created_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "null" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// window appends the time range, ordering and pagination of opts. Rows with
// equal timestamps keep insertion order through rowid.
func window(query, col string, opts domain.ListOpts) (string, []any) {
	var args []any
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, opts.Until.UnixMilli())
	}
	query += " ORDER BY " + col + " DESC, rowid DESC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return query, args
}
