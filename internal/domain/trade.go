package domain

import "time"

// TradeRecord is one completed trade cycle kept in the trade history.
type TradeRecord struct {
	ID           string       `json:"id"`
	ContractID   string       `json:"contract_id"`
	ProposalID   string       `json:"proposal_id"`
	Symbol       string       `json:"symbol"`
	ContractType ContractType `json:"contract_type"`
	Barrier      int          `json:"barrier"`
	Stake        float64      `json:"stake"`
	BuyPrice     float64      `json:"buy_price"`
	Payout       float64      `json:"payout"`
	Profit       float64      `json:"profit"`
	Result       TradeResult  `json:"result"`
	BalanceAfter float64      `json:"balance_after"`
	OpenedAt     time.Time    `json:"opened_at"`
	SettledAt    time.Time    `json:"settled_at"`
}
