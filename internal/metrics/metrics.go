// Package metrics exposes the session's Prometheus metrics:
//
//	gmstrader_ticks_total{virtual_loss}     ticks evaluated
//	gmstrader_trades_opened_total           contracts bought
//	gmstrader_trades_settled_total{result}  settled contracts by WIN|LOSS
//	gmstrader_trade_profit_total            sum of winning settlements
//	gmstrader_trade_loss_total              sum of losing settlements
//	gmstrader_cycle_failures_total{stage}   abandoned cycles by stage
//	gmstrader_stake                         stake of the last purchase
//	gmstrader_balance                       last known account balance
//	gmstrader_pnl                           balance minus initial balance
//	gmstrader_running                       1 while a session runs
//	gmstrader_connection_state{state}       1 for the current connection state
//	gmstrader_reconnects_total              reconnect attempts
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

var connectionStates = []string{"DISCONNECTED", "CONNECTING", "AUTHENTICATING", "READY"}

// Recorder owns the metric vectors and the registry they are served from.
type Recorder struct {
	reg *prometheus.Registry

	ticks      *prometheus.CounterVec
	opened     prometheus.Counter
	settled    *prometheus.CounterVec
	profit     prometheus.Counter
	loss       prometheus.Counter
	failures   *prometheus.CounterVec
	stake      prometheus.Gauge
	balance    prometheus.Gauge
	pnl        prometheus.Gauge
	running    prometheus.Gauge
	connState  *prometheus.GaugeVec
	reconnects prometheus.Counter
}

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmstrader_ticks_total",
			Help: "Ticks evaluated, split by whether the digit was a virtual loss.",
		}, []string{"virtual_loss"}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmstrader_trades_opened_total",
			Help: "Contracts bought.",
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmstrader_trades_settled_total",
			Help: "Settled contracts by result.",
		}, []string{"result"}),
		profit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmstrader_trade_profit_total",
			Help: "Sum of positive settlement profits.",
		}),
		loss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmstrader_trade_loss_total",
			Help: "Sum of settlement losses as a positive number.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmstrader_cycle_failures_total",
			Help: "Trade cycles abandoned, by stage (proposal, buy, settlement).",
		}, []string{"stage"}),
		stake: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gmstrader_stake",
			Help: "Stake of the most recent purchase.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gmstrader_balance",
			Help: "Last known account balance.",
		}),
		pnl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gmstrader_pnl",
			Help: "Session profit and loss.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gmstrader_running",
			Help: "1 while a trading session is running.",
		}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gmstrader_connection_state",
			Help: "Connection state indicator; the current state is 1.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmstrader_reconnects_total",
			Help: "Reconnect attempts made by the connection manager.",
		}),
	}

	r.reg.MustRegister(
		r.ticks, r.opened, r.settled, r.profit, r.loss, r.failures,
		r.stake, r.balance, r.pnl, r.running, r.connState, r.reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.ConnectionState("DISCONNECTED")
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Tick(_ int, virtualLoss bool) {
	if virtualLoss {
		r.ticks.WithLabelValues("true").Inc()
		return
	}
	r.ticks.WithLabelValues("false").Inc()
}

func (r *Recorder) TradeOpened(stake float64) {
	r.opened.Inc()
	r.stake.Set(stake)
}

func (r *Recorder) TradeSettled(result domain.TradeResult, profit float64) {
	r.settled.WithLabelValues(string(result)).Inc()
	if profit >= 0 {
		r.profit.Add(profit)
	} else {
		r.loss.Add(-profit)
	}
}

func (r *Recorder) CycleFailed(stage string) {
	r.failures.WithLabelValues(stage).Inc()
}

func (r *Recorder) Balance(balance, pnl float64) {
	r.balance.Set(balance)
	r.pnl.Set(pnl)
}

func (r *Recorder) Running(running bool) {
	if running {
		r.running.Set(1)
		return
	}
	r.running.Set(0)
}

// ConnectionState flips the state indicator series.
func (r *Recorder) ConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.connState.WithLabelValues(s).Set(v)
	}
}

// Reconnect counts one reconnect attempt.
func (r *Recorder) Reconnect() {
	r.reconnects.Inc()
}
