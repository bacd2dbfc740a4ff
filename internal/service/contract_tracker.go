package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 120
)

// ContractSource fetches the status of a contract from the broker.
type ContractSource interface {
	OpenContract(ctx context.Context, contractID string) (domain.ContractStatus, error)
}

// ContractTracker polls one contract until it settles.
type ContractTracker struct {
	source      ContractSource
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewContractTracker creates a ContractTracker. Non-positive interval or
// maxAttempts select 1s and 120.
func NewContractTracker(source ContractSource, interval time.Duration, maxAttempts int, logger *slog.Logger) *ContractTracker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPollAttempts
	}
	return &ContractTracker{
		source:      source,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "contract_tracker")),
	}
}

// AwaitSettlement polls contractID until it is sold or expired. Failed polls
// are retried after the same interval. It returns domain.ErrSettlementTimeout
// after maxAttempts polls and domain.ErrCancelled when ctx is done.
func (t *ContractTracker) AwaitSettlement(ctx context.Context, contractID string) (domain.Settlement, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.Settlement{}, t.cancelled(contractID, ctx.Err())
		}

		st, err := t.source.OpenContract(ctx, contractID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return domain.Settlement{}, t.cancelled(contractID, ctx.Err())
			}
			lastErr = err
			t.logger.WarnContext(ctx, "contract poll failed",
				slog.String("contract_id", contractID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		case st.Settled():
			s := domain.Settlement{
				ContractID: contractID,
				Profit:     st.RealizedProfit(),
				BuyPrice:   st.BuyPrice,
				SellPrice:  st.SellPrice,
				SettledAt:  time.Now().UTC(),
			}
			t.logger.InfoContext(ctx, "contract settled",
				slog.String("contract_id", contractID),
				slog.Float64("profit", s.Profit),
				slog.Int("polls", attempt),
			)
			return s, nil
		}

		if attempt == t.maxAttempts {
			break
		}
		timer := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Settlement{}, t.cancelled(contractID, ctx.Err())
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return domain.Settlement{}, fmt.Errorf("contract_tracker: %s after %d polls: %w (last error: %v)",
			contractID, t.maxAttempts, domain.ErrSettlementTimeout, lastErr)
	}
	return domain.Settlement{}, fmt.Errorf("contract_tracker: %s after %d polls: %w",
		contractID, t.maxAttempts, domain.ErrSettlementTimeout)
}

func (t *ContractTracker) cancelled(contractID string, cause error) error {
	return fmt.Errorf("contract_tracker: %s: %w: %w", contractID, domain.ErrCancelled, cause)
}
