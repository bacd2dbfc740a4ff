// Package file keeps the session on local disk: a JSON snapshot, the
// control switch, a JSON-lines trade ledger and the human-readable session
// log. The state directory is guarded by a lock file so only one process
// trades from it.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nightlyone/lockfile"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// File names inside the state directory.
const (
	SnapshotFile = "session.json"
	ControlFile  = "control.json"
	TradesFile   = "trades.jsonl"
	LogFile      = "logs/trades.log"
	lockFile     = "gmstrader.lock"
)

// ErrLocked is returned by Open when another process holds the state dir.
var ErrLocked = errors.New("file: state directory is locked by another process")

// Store implements domain.SessionStore, domain.TradeStore, domain.AuditStore
// and domain.ControlSource on files under one directory.
type Store struct {
	dir  string
	lock lockfile.Lockfile
	now  func() time.Time

	mu sync.Mutex // serializes file writes
}

// Open prepares dir and takes the process lock.
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("file: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, filepath.Dir(LogFile)), 0o755); err != nil {
		return nil, fmt.Errorf("file: create state dir: %w", err)
	}

	lock, err := lockfile.New(filepath.Join(abs, lockFile))
	if err != nil {
		return nil, fmt.Errorf("file: create lock file: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}

	return &Store{dir: abs, lock: lock, now: time.Now}, nil
}

// Close releases the process lock.
func (s *Store) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("file: unlock: %w", err)
	}
	return nil
}

// Dir returns the absolute state directory.
func (s *Store) Dir() string { return s.dir }

// LogPath returns the session log path.
func (s *Store) LogPath() string { return s.path(LogFile) }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// LoadSession returns the snapshot or domain.ErrNotFound when none exists.
func (s *Store) LoadSession(_ context.Context) (domain.SessionState, error) {
	data, err := os.ReadFile(s.path(SnapshotFile))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SessionState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("file: read snapshot: %w", err)
	}
	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("file: decode snapshot: %w", err)
	}
	return state, nil
}

// SaveSession replaces the snapshot atomically.
func (s *Store) SaveSession(_ context.Context, state domain.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(SnapshotFile), data)
}

type control struct {
	Run bool `json:"run"`
}

// Running reads control.json. A missing or unreadable file means run.
func (s *Store) Running(_ context.Context) (bool, error) {
	data, err := os.ReadFile(s.path(ControlFile))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("file: read control: %w", err)
	}
	var c control
	if err := json.Unmarshal(data, &c); err != nil {
		return true, fmt.Errorf("file: decode control: %w", err)
	}
	return c.Run, nil
}

// SetRunning writes control.json.
func (s *Store) SetRunning(_ context.Context, run bool) error {
	data, _ := json.Marshal(control{Run: run})
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(ControlFile), data)
}

// InsertTrade appends one JSON line to the trade ledger.
func (s *Store) InsertTrade(_ context.Context, t domain.TradeRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("file: encode trade: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.path(TradesFile), data)
}

// ListTrades returns ledger entries newest first.
func (s *Store) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	err := scanLines(s.path(TradesFile), func(line []byte) error {
		var t domain.TradeRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("file: decode trade: %w", err)
		}
		if inWindow(t.SettledAt, opts) {
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.After(out[j].SettledAt) })
	return paginate(out, opts), nil
}

// Log appends a line to the session log:
//
//	2024-03-01T09:00:00.123Z contract_bought {"contract_id":"42"}
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	var buf bytes.Buffer
	buf.WriteString(s.now().UTC().Format(time.RFC3339Nano))
	buf.WriteByte(' ')
	buf.WriteString(event)
	if len(detail) > 0 {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("file: encode log detail: %w", err)
		}
		buf.WriteByte(' ')
		buf.Write(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.path(LogFile), buf.Bytes())
}

// List returns session log entries newest first. IDs are line numbers.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	var n int64
	err := scanLines(s.path(LogFile), func(line []byte) error {
		n++
		e, ok := parseLogLine(string(line))
		if !ok {
			return nil
		}
		e.ID = n
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return paginate(out, opts), nil
}

func parseLogLine(line string) (domain.AuditEntry, bool) {
	ts, rest, ok := strings.Cut(line, " ")
	if !ok {
		return domain.AuditEntry{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return domain.AuditEntry{}, false
	}
	event, detail, _ := strings.Cut(rest, " ")
	e := domain.AuditEntry{Event: event, CreatedAt: at}
	if detail != "" {
		_ = json.Unmarshal([]byte(detail), &e.Detail)
	}
	return e, true
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// writeAtomic writes data to a temp file in the same directory and renames it
// over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("file: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("file: append %s: %w", filepath.Base(path), err)
	}
	return nil
}

func scanLines(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("file: scan %s: %w", filepath.Base(path), err)
	}
	return nil
}
