package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "gms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.LoadSession(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	state := domain.NewSessionState(0.35, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	state.SetBalance(1000)
	state.VirtualLossCounter = 2
	state.CurrentContract = "123"
	require.NoError(t, s.SaveSession(ctx, state))

	state.SetBalance(1001.5)
	require.NoError(t, s.SaveSession(ctx, state))

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.VirtualLossCounter)
	assert.Equal(t, "123", got.CurrentContract)
	require.NotNil(t, got.LastBalance)
	assert.InDelta(t, 1001.5, *got.LastBalance, 1e-9)
	assert.InDelta(t, 1000, *got.InitialBalance, 1e-9)
}

func TestControl_DefaultsToRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run, err := s.Running(ctx)
	require.NoError(t, err)
	assert.True(t, run)

	require.NoError(t, s.SetRunning(ctx, false))
	run, err = s.Running(ctx)
	require.NoError(t, err)
	assert.False(t, run)

	require.NoError(t, s.SetRunning(ctx, true))
	run, err = s.Running(ctx)
	require.NoError(t, err)
	assert.True(t, run)
}

func TestTrades_NewestFirstAndDeduplicated(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.InsertTrade(ctx, domain.TradeRecord{
			ID:           "t" + id,
			ContractID:   id,
			Symbol:       "R_50",
			ContractType: domain.ContractDigitUnder,
			Barrier:      4,
			Stake:        0.35,
			Profit:       0.31,
			Result:       domain.ResultWin,
			OpenedAt:     base.Add(time.Duration(i) * time.Minute),
			SettledAt:    base.Add(time.Duration(i)*time.Minute + 2*time.Second),
		}))
	}
	require.NoError(t, s.InsertTrade(ctx, domain.TradeRecord{ID: "dup", ContractID: "2", SettledAt: base}))

	all, err := s.ListTrades(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ContractID)
	assert.Equal(t, domain.ContractDigitUnder, all[0].ContractType)
	assert.Equal(t, domain.ResultWin, all[0].Result)
	assert.True(t, all[2].OpenedAt.Equal(base))

	since := base.Add(90 * time.Second)
	recent, err := s.ListTrades(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "3", recent[0].ContractID)

	page, err := s.ListTrades(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].ContractID)
}

func TestAudit_LogAndList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Log(ctx, "session_started", map[string]any{"balance": 1000.0}))
	require.NoError(t, s.Log(ctx, "contract_bought", map[string]any{"contract_id": "9"}))
	require.NoError(t, s.Log(ctx, "session_stopped", nil))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "session_stopped", entries[0].Event)
	assert.Nil(t, entries[0].Detail)
	assert.Equal(t, "contract_bought", entries[1].Event)
	assert.Equal(t, "9", entries[1].Detail["contract_id"])

	limited, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
