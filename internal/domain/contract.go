package domain

import "time"

// ContractType names a digit contract offered by the broker.
type ContractType string

const (
	ContractDigitUnder ContractType = "DIGITUNDER"
	ContractDigitOver  ContractType = "DIGITOVER"
)

// ProposalParams describes a price proposal request.
type ProposalParams struct {
	Amount       float64
	Basis        string
	ContractType ContractType
	Currency     string
	Duration     int
	DurationUnit string
	Symbol       string
	Barrier      int
}

// Proposal is a priced offer that can be bought by ID.
type Proposal struct {
	ID       string
	AskPrice float64
	Payout   float64
}

// Purchase is the result of a successful buy.
type Purchase struct {
	ContractID    string
	BuyPrice      float64
	Payout        float64
	TransactionID string
	PurchasedAt   time.Time
}

// ContractStatus is a point-in-time view of an open or closed contract.
type ContractStatus struct {
	ContractID string
	IsSold     bool
	IsExpired  bool
	Profit     *float64
	BuyPrice   float64
	SellPrice  float64
	Status     string
}

// Settled reports whether the contract has a final result. An expired
// contract that has not been sold yet is treated as settled.
func (c ContractStatus) Settled() bool {
	return c.IsSold || c.IsExpired
}

// RealizedProfit returns the explicit profit when present, otherwise
// sell price minus buy price.
func (c ContractStatus) RealizedProfit() float64 {
	if c.Profit != nil {
		return *c.Profit
	}
	return c.SellPrice - c.BuyPrice
}

// Settlement is the final outcome of a contract.
type Settlement struct {
	ContractID string
	Profit     float64
	BuyPrice   float64
	SellPrice  float64
	SettledAt  time.Time
}
