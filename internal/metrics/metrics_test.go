package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/metrics"
)

func scrape(t *testing.T, r *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_Trades(t *testing.T) {
	r := metrics.New()

	r.TradeOpened(0.35)
	r.TradeOpened(0.77)
	r.TradeSettled(domain.ResultWin, 0.31)
	r.TradeSettled(domain.ResultLoss, -0.77)
	r.Tick(7, true)
	r.Tick(1, false)
	r.Tick(2, false)
	r.CycleFailed("buy")

	out := scrape(t, r)
	assert.Contains(t, out, "gmstrader_trades_opened_total 2")
	assert.Contains(t, out, "gmstrader_stake 0.77")
	assert.Contains(t, out, `gmstrader_trades_settled_total{result="WIN"} 1`)
	assert.Contains(t, out, `gmstrader_trades_settled_total{result="LOSS"} 1`)
	assert.Contains(t, out, "gmstrader_trade_profit_total 0.31")
	assert.Contains(t, out, "gmstrader_trade_loss_total 0.77")
	assert.Contains(t, out, `gmstrader_ticks_total{virtual_loss="true"} 1`)
	assert.Contains(t, out, `gmstrader_ticks_total{virtual_loss="false"} 2`)
	assert.Contains(t, out, `gmstrader_cycle_failures_total{stage="buy"} 1`)
}

func TestRecorder_ConnectionState(t *testing.T) {
	r := metrics.New()
	r.ConnectionState("READY")
	r.Reconnect()
	r.Running(true)
	r.Balance(1000.5, 0.5)

	out := scrape(t, r)
	assert.Contains(t, out, `gmstrader_connection_state{state="READY"} 1`)
	assert.Contains(t, out, `gmstrader_connection_state{state="DISCONNECTED"} 0`)
	assert.Contains(t, out, "gmstrader_reconnects_total 1")
	assert.Contains(t, out, "gmstrader_running 1")
	assert.Contains(t, out, "gmstrader_balance 1000.5")
	assert.Contains(t, out, "gmstrader_pnl 0.5")
}
