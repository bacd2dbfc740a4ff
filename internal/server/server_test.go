package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/platform/deriv"
	"github.com/GmsLightVision/Gms-Trader/internal/server"
	"github.com/GmsLightVision/Gms-Trader/internal/server/handler"
	"github.com/GmsLightVision/Gms-Trader/internal/server/middleware"
	"github.com/GmsLightVision/Gms-Trader/internal/session"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

type fakeSession struct {
	mu      sync.Mutex
	running bool
	paused  bool
	open    bool
	cfg     staking.Config
	state   domain.SessionState
	actions []string
}

func newFakeSession() *fakeSession {
	st := domain.NewSessionState(0.35, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st.SetBalance(1000)
	st.RecordSettlement(0.31, time.Now())
	st.SetBalance(1000.31)
	return &fakeSession{cfg: staking.DefaultConfig(), state: st}
}

func (f *fakeSession) Status(context.Context) session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{Running: f.running, Paused: f.paused, State: f.state}
}

func (f *fakeSession) State() domain.SessionState { return f.state }

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return domain.ErrSessionRunning
	}
	f.running = true
	f.actions = append(f.actions, "start")
	return nil
}

func (f *fakeSession) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return domain.ErrSessionStopped
	}
	f.running = false
	f.actions = append(f.actions, "stop")
	return nil
}

func (f *fakeSession) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeSession) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeSession) Toggle(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return !f.paused, nil
}

func (f *fakeSession) Reset(context.Context) error {
	if f.open {
		return domain.ErrContractOpen
	}
	f.state = domain.NewSessionState(f.cfg.InitialStake, time.Now())
	return nil
}

func (f *fakeSession) Config() staking.Config { return f.cfg }

func (f *fakeSession) UpdateConfig(_ context.Context, cfg staking.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

type fakeConn struct{}

func (fakeConn) State() deriv.State { return deriv.StateReady }
func (fakeConn) Pending() int       { return 2 }
func (fakeConn) Reconnects() int64  { return 1 }

type fakeStore struct {
	trades []domain.TradeRecord
	logs   []domain.AuditEntry
	opts   domain.ListOpts
}

func (s *fakeStore) InsertTrade(context.Context, domain.TradeRecord) error { return nil }

func (s *fakeStore) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	s.opts = opts
	return s.trades, nil
}

func (s *fakeStore) Log(context.Context, string, map[string]any) error { return nil }

func (s *fakeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.opts = opts
	return s.logs, nil
}

type fixture struct {
	sess  *fakeSession
	store *fakeStore
	h     http.Handler
}

func newFixture(t *testing.T, cfg server.Config) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := newFakeSession()
	store := &fakeStore{
		trades: []domain.TradeRecord{{ID: "t1", ContractID: "c1", Result: domain.ResultWin, Profit: 0.31}},
		logs:   []domain.AuditEntry{{ID: 1, Event: "session_started"}},
	}
	srv := server.NewServer(cfg, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(sess, fakeConn{}, "server", logger),
		Control: handler.NewControlHandler(sess, map[string]string{"mode": "server"}, logger),
		Trades:  handler.NewTradeHandler(sess, store, store, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "gmstrader_running 1\n")
		}),
	}, middleware.NewLocalLimiter(), logger)
	return fixture{sess: sess, store: store, h: srv.Handler()}
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, server.Config{APIKey: "secret"})
	for _, path := range []string{"/health", "/api/health"} {
		rec := do(f.h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "ok", decode(t, rec)["status"])
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, server.Config{APIKey: "secret"})

	assert.Equal(t, http.StatusUnauthorized, do(f.h, http.MethodGet, "/api/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(f.h, http.MethodGet, "/api/stats", "", "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, do(f.h, http.MethodGet, "/api/stats", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, do(f.h, http.MethodGet, "/api/stats", "", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(f.h, http.MethodGet, "/metrics", "").Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, server.Config{})
	rec := do(f.h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, "server", out["mode"])
	conn := out["connection"].(map[string]any)
	assert.Equal(t, "READY", conn["state"])
	assert.EqualValues(t, 2, conn["pending_requests"])
	assert.Contains(t, out, "process")
	assert.Contains(t, out, "session")
}

func TestBotControl(t *testing.T) {
	f := newFixture(t, server.Config{})

	rec := do(f.h, http.MethodPost, "/api/bot-control", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "start", decode(t, rec)["action"])

	rec = do(f.h, http.MethodPost, "/api/bot-control", `{"action":"start"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(f.h, http.MethodPost, "/api/bot-control", `{"action":"toggle"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.sess.paused)

	rec = do(f.h, http.MethodPost, "/api/bot-control", `{"action":"launch"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(f.h, http.MethodPost, "/api/bot-control", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"start"}, f.sess.actions)
}

func TestReset(t *testing.T) {
	f := newFixture(t, server.Config{})
	f.sess.open = true
	assert.Equal(t, http.StatusConflict, do(f.h, http.MethodPost, "/api/reset", "").Code)

	f.sess.open = false
	rec := do(f.h, http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, 0, f.sess.state.Stats.Trades())
}

func TestConfig(t *testing.T) {
	f := newFixture(t, server.Config{})

	rec := do(f.h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "R_50", out["trading"].(map[string]any)["market"])
	assert.Equal(t, "server", out["settings"].(map[string]any)["mode"])

	rec = do(f.h, http.MethodPut, "/api/config", `{"initial_stake":1.5,"contract_type":"digitover"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.5, f.sess.cfg.InitialStake)
	assert.Equal(t, domain.ContractType("DIGITOVER"), f.sess.cfg.ContractType)
	assert.Equal(t, 2.2, f.sess.cfg.MartingaleFactor)

	rec = do(f.h, http.MethodPut, "/api/config", `{"initial_stake":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.5, f.sess.cfg.InitialStake)

	rec = do(f.h, http.MethodPut, "/api/config", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesAndLogs(t *testing.T) {
	f := newFixture(t, server.Config{})

	rec := do(f.h, http.MethodGet, "/api/trades?limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListOpts{Limit: 10, Offset: 5}, f.store.opts)
	trades := decode(t, rec)["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "c1", trades[0].(map[string]any)["contract_id"])

	rec = do(f.h, http.MethodGet, "/api/logs?limit=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.store.opts.Limit)
	assert.Len(t, decode(t, rec)["logs"].([]any), 1)
}

func TestStats(t *testing.T) {
	f := newFixture(t, server.Config{})
	rec := do(f.h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.EqualValues(t, 1, out["wins"])
	assert.EqualValues(t, 1, out["trades"])
	assert.EqualValues(t, 100, out["win_rate"])
	assert.InDelta(t, 0.31, out["pnl"].(float64), 1e-9)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, server.Config{RateLimit: 2})
	assert.Equal(t, http.StatusOK, do(f.h, http.MethodGet, "/api/stats", "").Code)
	assert.Equal(t, http.StatusOK, do(f.h, http.MethodGet, "/api/stats", "").Code)
	rec := do(f.h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, server.Config{CORSOrigins: []string{"http://localhost:3000"}, APIKey: "secret"})

	rec := do(f.h, http.MethodOptions, "/api/config", "", "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(f.h, http.MethodOptions, "/api/config", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
