package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, contract_id, proposal_id, symbol, contract_type,
	barrier, stake, buy_price, payout, profit, result, balance_after,
	opened_at, settled_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var contractType, result string
		if err := rows.Scan(
			&t.ID, &t.ContractID, &t.ProposalID, &t.Symbol, &contractType,
			&t.Barrier, &t.Stake, &t.BuyPrice, &t.Payout, &t.Profit, &result,
			&t.BalanceAfter, &t.OpenedAt, &t.SettledAt,
		); err != nil {
			return nil, err
		}
		t.ContractType = domain.ContractType(contractType)
		t.Result = domain.TradeResult(result)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertTrade records a settled trade. A contract that is already recorded
// is skipped so a resumed settlement cannot double count.
func (s *TradeStore) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, contract_id, proposal_id, symbol, contract_type,
			barrier, stake, buy_price, payout, profit, result,
			balance_after, opened_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14
		) ON CONFLICT (contract_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.ContractID, t.ProposalID, t.Symbol, string(t.ContractType),
		t.Barrier, t.Stake, t.BuyPrice, t.Payout, t.Profit, string(t.Result),
		t.BalanceAfter, t.OpenedAt, t.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ContractID, err)
	}
	return nil
}

// ListTrades returns trades newest first with pagination and optional time
// filtering on the settlement time.
func (s *TradeStore) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := window(`SELECT `+tradeSelectCols+` FROM trades WHERE 1=1`, nil, "settled_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}
