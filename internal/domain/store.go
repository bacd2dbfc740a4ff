package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SessionStore loads and saves the session snapshot as a whole.
// LoadSession returns ErrNotFound when no snapshot exists yet.
type SessionStore interface {
	LoadSession(ctx context.Context) (SessionState, error)
	SaveSession(ctx context.Context, state SessionState) error
}

// TradeStore persists the trade history.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade TradeRecord) error
	ListTrades(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

// AuditEntry is a single session log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only session log. List returns newest first.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ControlSource is the run/pause switch consulted before every trade
// permission check. An unset switch means run.
type ControlSource interface {
	Running(ctx context.Context) (bool, error)
	SetRunning(ctx context.Context, run bool) error
}
