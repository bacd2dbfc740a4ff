package file_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/store/file"
)

func openStore(t *testing.T) *file.Store {
	t.Helper()
	s, err := file.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshot_MissingThenSaved(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.LoadSession(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	state := domain.NewSessionState(0.35, time.Now())
	state.SetBalance(250)
	state.CurrentContract = "77"
	require.NoError(t, s.SaveSession(ctx, state))

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "77", got.CurrentContract)
	assert.InDelta(t, 250, *got.LastBalance, 1e-9)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestSnapshot_CorruptIsAnError(t *testing.T) {
	s := openStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), file.SnapshotFile), []byte("{not json"), 0o644))

	_, err := s.LoadSession(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestControl(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run, err := s.Running(ctx)
	require.NoError(t, err)
	assert.True(t, run, "absent control file means run")

	require.NoError(t, s.SetRunning(ctx, false))
	data, err := os.ReadFile(filepath.Join(s.Dir(), file.ControlFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"run":false}`, string(data))

	run, err = s.Running(ctx)
	require.NoError(t, err)
	assert.False(t, run)

	// Operators may edit the file by hand.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), file.ControlFile), []byte(`{"run": true}`), 0o644))
	run, err = s.Running(ctx)
	require.NoError(t, err)
	assert.True(t, run)
}

func TestTrades_Ledger(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertTrade(ctx, domain.TradeRecord{
			ID:         "t" + string(rune('a'+i)),
			ContractID: string(rune('1' + i)),
			Profit:     float64(i),
			SettledAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListTrades(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ContractID)

	until := base.Add(30 * time.Second)
	old, err := s.ListTrades(ctx, domain.ListOpts{Until: &until})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "1", old[0].ContractID)

	page, err := s.ListTrades(ctx, domain.ListOpts{Offset: 1, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	none, err := s.ListTrades(ctx, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessionLog(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Log(ctx, "session_started", nil))
	require.NoError(t, s.Log(ctx, "contract_bought", map[string]any{"contract_id": "42", "stake": 0.35}))

	data, err := os.ReadFile(s.LogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ` contract_bought {"contract_id":"42","stake":0.35}`)

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "contract_bought", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, "42", entries[0].Detail["contract_id"])
	assert.Equal(t, "session_started", entries[1].Event)
	assert.Nil(t, entries[1].Detail)

	tail, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "contract_bought", tail[0].Event)
}

func TestClose_ReleasesLock(t *testing.T) {
	dir := t.TempDir()
	s, err := file.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := file.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
