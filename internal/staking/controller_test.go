package staking_test

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

var running = staking.Gate{Running: true}

func newController(mutate func(*staking.Config)) *staking.Controller {
	cfg := staking.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return staking.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fundedState(balance float64) domain.SessionState {
	s := domain.NewSessionState(0.35, time.Now())
	s.SetBalance(balance)
	return s
}

func TestEvaluate_VirtualLossCounterSequence(t *testing.T) {
	c := newController(nil)
	s := fundedState(1000)

	var got []int
	for _, digit := range []int{2, 7, 3} {
		got = append(got, c.Evaluate(&s, digit, running, time.Now()).Counter)
	}
	assert.Equal(t, []int{0, 1, 0}, got)
}

func TestEvaluate_VirtualLossFollowsContractType(t *testing.T) {
	tests := []struct {
		name     string
		ct       domain.ContractType
		digits   []int
		counters []int
	}{
		{"under", domain.ContractDigitUnder, []int{2, 7, 3, 4, 5}, []int{0, 1, 0, 0, 1}},
		{"over", domain.ContractDigitOver, []int{2, 7, 3, 4, 5}, []int{1, 0, 1, 2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(func(cfg *staking.Config) {
				cfg.ContractType = tt.ct
				cfg.Barrier = 4
				cfg.VirtualLossLimit = 10
			})
			s := fundedState(1000)

			var got []int
			for _, digit := range tt.digits {
				got = append(got, c.Evaluate(&s, digit, running, time.Now()).Counter)
			}
			assert.Equal(t, tt.counters, got)
		})
	}
}

func TestIsVirtualLoss(t *testing.T) {
	assert.True(t, staking.IsVirtualLoss(domain.ContractDigitUnder, 5, 4))
	assert.False(t, staking.IsVirtualLoss(domain.ContractDigitUnder, 4, 4))
	assert.True(t, staking.IsVirtualLoss(domain.ContractDigitOver, 4, 4))
	assert.False(t, staking.IsVirtualLoss(domain.ContractDigitOver, 5, 4))
}

func TestEvaluate_CounterForceResetAboveLimit(t *testing.T) {
	c := newController(nil)
	s := fundedState(1000)
	s.CurrentContract = "busy"

	var got []int
	for _, digit := range []int{9, 8, 7, 6} {
		got = append(got, c.Evaluate(&s, digit, running, time.Now()).Counter)
	}
	assert.Equal(t, []int{1, 2, 0, 1}, got)
}

func TestEvaluate_CounterIndependentOfTrading(t *testing.T) {
	c := newController(nil)
	s := fundedState(1000)

	d := c.Evaluate(&s, 9, staking.Gate{Running: false}, time.Now())
	assert.False(t, d.Trade)
	assert.True(t, d.VirtualLoss)
	assert.Equal(t, 1, s.VirtualLossCounter)
}

func TestEvaluate_StakeSequenceWinLossLoss(t *testing.T) {
	c := newController(nil)
	s := fundedState(1000)
	now := time.Now()

	var stakes []float64
	for _, profit := range []float64{0.31, -0.35, -0.77} {
		d := c.Evaluate(&s, 1, running, now)
		require.True(t, d.Trade, d.Reason)
		stakes = append(stakes, d.Stake)

		s.CurrentStake = d.Stake
		s.RecordSettlement(profit, now)
		now = now.Add(3 * time.Second)
	}
	assert.Equal(t, []float64{0.35, 0.35, 0.77}, stakes)
}

func TestNextStake_LossStreak(t *testing.T) {
	c := newController(nil)
	s := fundedState(1_000_000)
	s.LastResult = domain.ResultLoss
	s.CurrentStake = 0.35

	expected := 0.35
	for n := 1; n <= 8; n++ {
		expected = math.Round(expected*2.2*100) / 100
		stake := c.NextStake(&s)
		assert.InDelta(t, expected, stake, 1e-9, "streak %d", n)
		s.CurrentStake = stake
	}
}

func TestNextStake_ClampsToInitialAboveBalanceShare(t *testing.T) {
	c := newController(nil)
	s := fundedState(1.5)
	s.LastResult = domain.ResultLoss
	s.CurrentStake = 0.77

	// 0.77 * 2.2 = 1.69 > 0.9 * 1.5
	assert.InDelta(t, 0.35, c.NextStake(&s), 1e-9)

	s.SetBalance(2)
	assert.InDelta(t, 1.69, c.NextStake(&s), 1e-9)
}

func TestNextStake_NoneAndWinUseStakeAfterWin(t *testing.T) {
	c := newController(func(cfg *staking.Config) { cfg.StakeAfterWin = 0.5 })
	s := fundedState(100)
	s.CurrentStake = 3.73

	s.LastResult = domain.ResultNone
	assert.InDelta(t, 0.5, c.NextStake(&s), 1e-9)
	s.LastResult = domain.ResultWin
	assert.InDelta(t, 0.5, c.NextStake(&s), 1e-9)
}

func TestCanTrade_Cooldown(t *testing.T) {
	c := newController(nil)
	s := fundedState(100)
	now := time.Now()
	s.LastTradeTime = now

	for _, elapsed := range []time.Duration{0, time.Second, 1999 * time.Millisecond} {
		ok, stop, reason := c.CanTrade(&s, running, now.Add(elapsed))
		assert.False(t, ok, "elapsed %s", elapsed)
		assert.Equal(t, staking.StopNone, stop)
		assert.Equal(t, "cooldown", reason)
	}

	ok, _, _ := c.CanTrade(&s, running, now.Add(2*time.Second))
	assert.True(t, ok)
}

func TestCanTrade_Blocks(t *testing.T) {
	c := newController(nil)
	now := time.Now()

	s := fundedState(100)
	ok, _, reason := c.CanTrade(&s, staking.Gate{Running: false}, now)
	assert.False(t, ok)
	assert.Equal(t, "paused", reason)

	ok, _, reason = c.CanTrade(&s, staking.Gate{Running: true, InFlight: true}, now)
	assert.False(t, ok)
	assert.Equal(t, "contract open", reason)

	s.CurrentContract = "123"
	ok, _, _ = c.CanTrade(&s, running, now)
	assert.False(t, ok)

	unknown := domain.NewSessionState(0.35, now)
	ok, _, reason = c.CanTrade(&unknown, running, now)
	assert.False(t, ok)
	assert.Equal(t, "balance unknown", reason)
}

func TestCanTrade_StopSignals(t *testing.T) {
	c := newController(func(cfg *staking.Config) {
		cfg.Meta = 5
		cfg.StopLoss = 10
		cfg.MaxTrades = 3
	})
	now := time.Now()

	s := fundedState(100)
	s.SetBalance(105)
	ok, stop, _ := c.CanTrade(&s, running, now)
	assert.False(t, ok)
	assert.Equal(t, staking.StopTargetReached, stop)

	s = fundedState(100)
	s.SetBalance(90)
	ok, stop, _ = c.CanTrade(&s, running, now)
	assert.False(t, ok)
	assert.Equal(t, staking.StopLossReached, stop)

	s = fundedState(100)
	s.SetBalance(91)
	s.TradesThisSession = 3
	ok, stop, _ = c.CanTrade(&s, running, now)
	assert.False(t, ok)
	assert.Equal(t, staking.StopMaxTrades, stop)

	s.TradesThisSession = 2
	ok, stop, _ = c.CanTrade(&s, running, now)
	assert.True(t, ok)
	assert.Equal(t, staking.StopNone, stop)
}

func TestEvaluate_DecisionCarriesContract(t *testing.T) {
	c := newController(nil)
	s := fundedState(100)

	d := c.Evaluate(&s, 3, running, time.Now())
	require.True(t, d.Trade)
	assert.Equal(t, 4, d.Barrier)
	assert.Equal(t, domain.ContractDigitUnder, d.ContractType)

	p := c.Config().ProposalParams(d.Stake)
	assert.Equal(t, "stake", p.Basis)
	assert.Equal(t, "R_50", p.Symbol)
	assert.Equal(t, 1, p.Duration)
	assert.Equal(t, "t", p.DurationUnit)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, staking.DefaultConfig().Validate())

	cfg := staking.DefaultConfig()
	cfg.InitialStake = 0
	cfg.Barrier = 12
	cfg.DurationUnit = "y"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_stake")
	assert.Contains(t, err.Error(), "prediction")
	assert.Contains(t, err.Error(), "duration_unit")
}
