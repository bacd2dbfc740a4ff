// Package staking decides whether to trade on a tick and how much to stake.
package staking

import (
	"fmt"
	"strings"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// Config holds the trading parameters for one session.
type Config struct {
	Symbol           string              `json:"market"`
	InitialStake     float64             `json:"initial_stake"`
	StakeAfterWin    float64             `json:"stake_after_win"`
	MartingaleFactor float64             `json:"martingale_factor"`
	Barrier          int                 `json:"prediction"`
	ContractType     domain.ContractType `json:"contract_type"`
	VirtualLossLimit int                 `json:"virtual_loss_limit"`
	Meta             float64             `json:"meta"`
	StopLoss         float64             `json:"stop_loss"`
	Cooldown         time.Duration       `json:"cooldown"`
	Currency         string              `json:"currency"`
	Duration         int                 `json:"duration"`
	DurationUnit     string              `json:"duration_unit"`
	MaxTrades        int                 `json:"max_trades"`
}

// DefaultConfig returns the stock digit-under strategy.
func DefaultConfig() Config {
	return Config{
		Symbol:           "R_50",
		InitialStake:     0.35,
		StakeAfterWin:    0.35,
		MartingaleFactor: 2.2,
		Barrier:          4,
		ContractType:     domain.ContractDigitUnder,
		VirtualLossLimit: 2,
		Meta:             100,
		StopLoss:         10999,
		Cooldown:         2 * time.Second,
		Currency:         "USD",
		Duration:         1,
		DurationUnit:     "t",
	}
}

var validDurationUnits = map[string]bool{
	"t": true, "s": true, "m": true, "h": true, "d": true,
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []string

	if c.Symbol == "" {
		errs = append(errs, "market is required")
	}
	if c.InitialStake <= 0 {
		errs = append(errs, "initial_stake must be positive")
	}
	if c.StakeAfterWin <= 0 {
		errs = append(errs, "stake_after_win must be positive")
	}
	if c.MartingaleFactor < 1 {
		errs = append(errs, "martingale_factor must be >= 1")
	}
	if c.Barrier < 0 || c.Barrier > 9 {
		errs = append(errs, "prediction must be a digit 0-9")
	}
	switch c.ContractType {
	case domain.ContractDigitUnder, domain.ContractDigitOver:
	default:
		errs = append(errs, fmt.Sprintf("contract_type %q is not supported", c.ContractType))
	}
	if c.VirtualLossLimit < 0 {
		errs = append(errs, "virtual_loss_limit must be >= 0")
	}
	if c.Meta < 0 {
		errs = append(errs, "meta must be >= 0")
	}
	if c.Cooldown < 0 {
		errs = append(errs, "cooldown must be >= 0")
	}
	if c.Currency == "" {
		errs = append(errs, "currency is required")
	}
	if c.Duration <= 0 {
		errs = append(errs, "duration must be positive")
	}
	if !validDurationUnits[c.DurationUnit] {
		errs = append(errs, fmt.Sprintf("duration_unit %q is invalid", c.DurationUnit))
	}
	if c.MaxTrades < 0 {
		errs = append(errs, "max_trades must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("staking: invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProposalParams builds the proposal request for a stake.
func (c Config) ProposalParams(stake float64) domain.ProposalParams {
	return domain.ProposalParams{
		Amount:       stake,
		Basis:        "stake",
		ContractType: c.ContractType,
		Currency:     c.Currency,
		Duration:     c.Duration,
		DurationUnit: c.DurationUnit,
		Symbol:       c.Symbol,
		Barrier:      c.Barrier,
	}
}
