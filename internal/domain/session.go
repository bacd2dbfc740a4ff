package domain

import "time"

// TradeResult is the outcome of the last settled trade.
type TradeResult string

const (
	ResultNone TradeResult = "NONE"
	ResultWin  TradeResult = "WIN"
	ResultLoss TradeResult = "LOSS"
)

// SessionStats aggregates settled trades for reporting.
type SessionStats struct {
	Wins                 int       `json:"wins"`
	Losses               int       `json:"losses"`
	TotalProfit          float64   `json:"total_profit"`
	BestTrade            float64   `json:"best_trade"`
	WorstTrade           float64   `json:"worst_trade"`
	ConsecutiveWins      int       `json:"consecutive_wins"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	MaxConsecutiveWins   int       `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int       `json:"max_consecutive_losses"`
	StartedAt            time.Time `json:"started_at"`
}

// Trades returns the number of settled trades.
func (s SessionStats) Trades() int {
	return s.Wins + s.Losses
}

// WinRate returns the percentage of winning trades, or 0 with no trades.
func (s SessionStats) WinRate() float64 {
	if s.Trades() == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades()) * 100
}

// AverageProfit returns the mean profit per settled trade.
func (s SessionStats) AverageProfit() float64 {
	if s.Trades() == 0 {
		return 0
	}
	return s.TotalProfit / float64(s.Trades())
}

// SessionState is the mutable state of one trading session. It is persisted as
// a whole and restored on start.
type SessionState struct {
	InitialBalance     *float64     `json:"initial_balance"`
	LastBalance        *float64     `json:"last_balance"`
	CurrentStake       float64      `json:"current_stake"`
	VirtualLossCounter int          `json:"virtual_loss_counter"`
	LastResult         TradeResult  `json:"last_result"`
	LastTradeTime      time.Time    `json:"last_trade_time"`
	TradesThisSession  int          `json:"trades_this_session"`
	CurrentContract    string       `json:"current_contract,omitempty"`
	Position           *Position    `json:"position,omitempty"`
	LastPrice          float64      `json:"last_price"`
	Stats              SessionStats `json:"stats"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Position describes the contract named by CurrentContract. It is kept with
// the snapshot so a contract settled after a stop or restart is recorded with
// the terms it was bought on.
type Position struct {
	ContractID    string       `json:"contract_id"`
	ProposalID    string       `json:"proposal_id"`
	Symbol        string       `json:"symbol"`
	ContractType  ContractType `json:"contract_type"`
	Barrier       int          `json:"barrier"`
	Stake         float64      `json:"stake"`
	BuyPrice      float64      `json:"buy_price"`
	Payout        float64      `json:"payout"`
	BalanceBefore *float64     `json:"balance_before,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// NewSessionState returns the state of a fresh session.
func NewSessionState(initialStake float64, now time.Time) SessionState {
	return SessionState{
		CurrentStake: initialStake,
		LastResult:   ResultNone,
		Stats:        SessionStats{StartedAt: now.UTC()},
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s SessionState) Clone() SessionState {
	out := s
	if s.InitialBalance != nil {
		v := *s.InitialBalance
		out.InitialBalance = &v
	}
	if s.LastBalance != nil {
		v := *s.LastBalance
		out.LastBalance = &v
	}
	if s.Position != nil {
		p := *s.Position
		if p.BalanceBefore != nil {
			v := *p.BalanceBefore
			p.BalanceBefore = &v
		}
		out.Position = &p
	}
	return out
}

// PnL returns last balance minus initial balance. ok is false until both are
// known.
func (s SessionState) PnL() (pnl float64, ok bool) {
	if s.InitialBalance == nil || s.LastBalance == nil {
		return 0, false
	}
	return *s.LastBalance - *s.InitialBalance, true
}

// SetBalance records a balance reading. The first reading also becomes the
// initial balance.
func (s *SessionState) SetBalance(balance float64) {
	v := balance
	s.LastBalance = &v
	if s.InitialBalance == nil {
		iv := balance
		s.InitialBalance = &iv
	}
}

// RecordSettlement applies a settled trade's profit to the result fields and
// statistics.
func (s *SessionState) RecordSettlement(profit float64, at time.Time) TradeResult {
	result := ResultLoss
	if profit > 0 {
		result = ResultWin
	}
	s.LastResult = result
	s.LastTradeTime = at
	s.TradesThisSession++

	st := &s.Stats
	if st.Trades() == 0 {
		st.BestTrade = profit
		st.WorstTrade = profit
	} else {
		if profit > st.BestTrade {
			st.BestTrade = profit
		}
		if profit < st.WorstTrade {
			st.WorstTrade = profit
		}
	}
	st.TotalProfit += profit
	if result == ResultWin {
		st.Wins++
		st.ConsecutiveWins++
		st.ConsecutiveLosses = 0
		if st.ConsecutiveWins > st.MaxConsecutiveWins {
			st.MaxConsecutiveWins = st.ConsecutiveWins
		}
	} else {
		st.Losses++
		st.ConsecutiveLosses++
		st.ConsecutiveWins = 0
		if st.ConsecutiveLosses > st.MaxConsecutiveLosses {
			st.MaxConsecutiveLosses = st.ConsecutiveLosses
		}
	}
	return result
}
