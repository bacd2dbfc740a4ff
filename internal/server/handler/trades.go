package handler

import (
	"log/slog"
	"net/http"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// TradeHandler serves the trade history, the session log and statistics.
type TradeHandler struct {
	session SessionService
	trades  domain.TradeStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(sess SessionService, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{session: sess, trades: trades, audit: audit, logger: logger}
}

// ListTrades returns settled trades, newest first.
// GET /api/trades?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, err := h.trades.ListTrades(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListLogs returns the tail of the session log, newest first.
// GET /api/logs?limit=50
func (h *TradeHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	opts.Offset = 0
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list logs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read session log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

type statsResponse struct {
	domain.SessionStats
	Trades        int      `json:"trades"`
	WinRate       float64  `json:"win_rate"`
	AverageProfit float64  `json:"average_profit"`
	PnL           *float64 `json:"pnl,omitempty"`
	CurrentStake  float64  `json:"current_stake"`
	LastResult    string   `json:"last_result"`
}

// GetStats returns the advanced session statistics.
// GET /api/stats
func (h *TradeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st := h.session.State()
	resp := statsResponse{
		SessionStats:  st.Stats,
		Trades:        st.Stats.Trades(),
		WinRate:       st.Stats.WinRate(),
		AverageProfit: st.Stats.AverageProfit(),
		CurrentStake:  st.CurrentStake,
		LastResult:    string(st.LastResult),
	}
	if pnl, ok := st.PnL(); ok {
		resp.PnL = &pnl
	}
	writeJSON(w, http.StatusOK, resp)
}
