package staking

import (
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// maxBalanceShare caps a stake relative to the last known balance.
var maxBalanceShare = decimal.NewFromFloat(0.9)

// StopReason explains why the session must stop.
type StopReason string

const (
	StopNone          StopReason = ""
	StopTargetReached StopReason = "target_reached"
	StopLossReached   StopReason = "stop_loss"
	StopMaxTrades     StopReason = "max_trades"
)

// Gate carries the inputs to the trade-permission check that live outside
// SessionState.
type Gate struct {
	// Running is the run/pause control signal.
	Running bool
	// InFlight is true while a proposal/buy cycle has not finished.
	InFlight bool
}

// Decision is the result of evaluating one digit.
type Decision struct {
	Digit        int
	VirtualLoss  bool
	Counter      int
	Trade        bool
	Stake        float64
	Barrier      int
	ContractType domain.ContractType
	Stop         StopReason
	// Reason says why no trade was issued.
	Reason string
}

// Controller is the staking decision state machine. It holds no session
// state of its own; callers pass the state in and serialize access to it.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Controller for cfg.
func New(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "staking")),
	}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// IsVirtualLoss reports whether a contract of type ct on barrier would have
// lost had the tick's last digit been digit.
func IsVirtualLoss(ct domain.ContractType, digit, barrier int) bool {
	if ct == domain.ContractDigitOver {
		return digit <= barrier
	}
	return digit > barrier
}

// Evaluate updates the virtual-loss counter for digit and decides whether to
// trade. It mutates only s.VirtualLossCounter.
func (c *Controller) Evaluate(s *domain.SessionState, digit int, gate Gate, now time.Time) Decision {
	d := Decision{
		Digit:        digit,
		Barrier:      c.cfg.Barrier,
		ContractType: c.cfg.ContractType,
	}

	d.VirtualLoss = IsVirtualLoss(c.cfg.ContractType, digit, c.cfg.Barrier)
	if d.VirtualLoss {
		s.VirtualLossCounter++
	} else {
		s.VirtualLossCounter = 0
	}
	if s.VirtualLossCounter > c.cfg.VirtualLossLimit {
		c.logger.Info("virtual loss limit exceeded, resetting counter",
			slog.Int("counter", s.VirtualLossCounter),
			slog.Int("limit", c.cfg.VirtualLossLimit),
		)
		s.VirtualLossCounter = 0
	}
	d.Counter = s.VirtualLossCounter

	ok, stop, reason := c.CanTrade(s, gate, now)
	d.Stop = stop
	if !ok {
		d.Reason = reason
		return d
	}

	d.Trade = true
	d.Stake = c.NextStake(s)
	return d
}

// CanTrade is the trade-permission gate. A non-empty StopReason means the
// session has hit a terminal limit.
func (c *Controller) CanTrade(s *domain.SessionState, gate Gate, now time.Time) (bool, StopReason, string) {
	if !gate.Running {
		return false, StopNone, "paused"
	}
	pnl, known := s.PnL()
	if !known {
		return false, StopNone, "balance unknown"
	}
	if !s.LastTradeTime.IsZero() && now.Sub(s.LastTradeTime) < c.cfg.Cooldown {
		return false, StopNone, "cooldown"
	}
	if s.CurrentContract != "" || gate.InFlight {
		return false, StopNone, "contract open"
	}
	if c.cfg.Meta > 0 && pnl >= c.cfg.Meta {
		c.logger.Info("profit target reached",
			slog.Float64("pnl", pnl),
			slog.Float64("meta", c.cfg.Meta),
		)
		return false, StopTargetReached, "profit target reached"
	}
	if c.cfg.StopLoss != 0 && pnl <= -math.Abs(c.cfg.StopLoss) {
		c.logger.Warn("stop loss reached",
			slog.Float64("pnl", pnl),
			slog.Float64("stop_loss", c.cfg.StopLoss),
		)
		return false, StopLossReached, "stop loss reached"
	}
	if c.cfg.MaxTrades > 0 && s.TradesThisSession >= c.cfg.MaxTrades {
		c.logger.Info("max trades reached", slog.Int("trades", s.TradesThisSession))
		return false, StopMaxTrades, "max trades reached"
	}
	return true, StopNone, ""
}

// NextStake returns the stake for the next trade: stake-after-win unless the
// last trade lost, in which case the previous stake times the martingale
// factor. Stakes above 90% of the last balance fall back to the initial stake.
func (c *Controller) NextStake(s *domain.SessionState) float64 {
	var stake decimal.Decimal
	if s.LastResult == domain.ResultLoss {
		prev := s.CurrentStake
		if prev <= 0 {
			prev = c.cfg.InitialStake
		}
		stake = decimal.NewFromFloat(prev).Mul(decimal.NewFromFloat(c.cfg.MartingaleFactor))
	} else {
		stake = decimal.NewFromFloat(c.cfg.StakeAfterWin)
	}
	stake = stake.Round(2)

	if s.LastBalance != nil {
		limit := decimal.NewFromFloat(*s.LastBalance).Mul(maxBalanceShare)
		if stake.GreaterThan(limit) {
			c.logger.Warn("stake exceeds balance limit, using initial stake",
				slog.String("stake", stake.StringFixed(2)),
				slog.String("limit", limit.StringFixed(2)),
			)
			stake = decimal.NewFromFloat(c.cfg.InitialStake).Round(2)
		}
	}

	f, _ := stake.Float64()
	return f
}
