package deriv_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/platform/deriv"
	"github.com/GmsLightVision/Gms-Trader/internal/platform/deriv/derivtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoint string) deriv.Config {
	return deriv.Config{
		Endpoint:        endpoint,
		AppID:           "1089",
		Token:           "tok",
		Symbol:          "R_100",
		RequestTimeout:  time.Second,
		ReconnectBase:   10 * time.Millisecond,
		ReconnectMax:    50 * time.Millisecond,
		ReconnectFactor: 1.5,
	}
}

func run(t *testing.T, c *deriv.WSClient) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitReady(t *testing.T, c *deriv.WSClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == deriv.StateReady
	}, 3*time.Second, 5*time.Millisecond)
}

func TestConfigURL(t *testing.T) {
	cfg := deriv.Config{AppID: "1089"}
	assert.Equal(t, "wss://ws.derivws.com/websockets/v3?app_id=1089", cfg.URL())
}

func TestWSClient_AuthorizesAndStreams(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()
	srv.SetBalance(250)

	c := deriv.NewWSClient(testConfig(srv.URL()), testLogger())
	ticks := make(chan domain.Tick, 8)
	balances := make(chan float64, 8)
	accounts := make(chan domain.AccountInfo, 1)
	c.OnTick(func(t domain.Tick) { ticks <- t })
	c.OnBalance(func(b float64) { balances <- b })
	c.OnAuthorized(func(a domain.AccountInfo) { accounts <- a })

	cancel, done := run(t, c)
	waitReady(t, c)

	acct := <-accounts
	assert.Equal(t, "USD", acct.Currency)
	assert.Equal(t, 250.0, acct.Balance)
	assert.Equal(t, 250.0, <-balances)

	first := <-ticks
	assert.Equal(t, "R_100", first.Symbol)
	assert.Equal(t, 4, first.Digit())

	srv.PushTick("R_100", 1007.2)
	select {
	case tk := <-ticks:
		assert.Equal(t, 7, tk.Digit())
	case <-time.After(2 * time.Second):
		t.Fatal("pushed tick not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, deriv.StateDisconnected, c.State())
}

func TestWSClient_InvalidTokenIsTerminal(t *testing.T) {
	srv := derivtest.NewServer("right")
	defer srv.Close()

	cfg := testConfig(srv.URL())
	cfg.Token = "wrong"
	c := deriv.NewWSClient(cfg, testLogger())
	_, done := run(t, c)

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrAuthFailed)
		assert.True(t, domain.IsBrokerError(err))
	case <-time.After(3 * time.Second):
		t.Fatal("run did not fail")
	}
	assert.Equal(t, 1, srv.Accepted())
}

func TestWSClient_ReconnectsAfterDrop(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()

	c := deriv.NewWSClient(testConfig(srv.URL()), testLogger())
	_, _ = run(t, c)
	waitReady(t, c)

	srv.DropConnections()

	require.Eventually(t, func() bool {
		return srv.Accepted() == 2 && c.State() == deriv.StateReady
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, srv.Requests("authorize"))
	assert.Equal(t, 2, srv.Requests("ticks"))
	assert.Equal(t, int64(1), c.Reconnects())
}

func TestWSClient_ReconnectDelayGrowsAndResetsAfterAuthorize(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()
	srv.RefuseNext(5)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	c := deriv.NewWSClient(testConfig(srv.URL()), testLogger())
	deriv.SetReconnectWait(c, func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err() == nil
	})
	observed := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}

	_, _ = run(t, c)
	waitReady(t, c)
	assert.Equal(t, 5, srv.Refused())

	ms := func(f float64) time.Duration { return time.Duration(f * float64(time.Millisecond)) }
	assert.Equal(t, []time.Duration{ms(10), ms(15), ms(22.5), ms(33.75), ms(50)}, observed())

	srv.DropConnections()
	require.Eventually(t, func() bool {
		return len(observed()) == 6 && srv.Accepted() == 2 && c.State() == deriv.StateReady
	}, 3*time.Second, 5*time.Millisecond)

	got := observed()
	assert.Equal(t, ms(10), got[5], "delay resets to base after authorization")
	for i := 1; i < 5; i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
		assert.LessOrEqual(t, got[i], ms(50))
	}
	assert.Equal(t, int64(6), c.Reconnects())
}

func TestWSClient_ReconnectExhausted(t *testing.T) {
	srv := derivtest.NewServer("tok")
	endpoint := srv.URL()
	srv.Close()

	cfg := testConfig(endpoint)
	cfg.MaxReconnectAttempts = 2
	c := deriv.NewWSClient(cfg, testLogger())
	_, done := run(t, c)

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrReconnectExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not give up")
	}
}

func TestWSClient_TradeCalls(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()
	srv.SetProfit(-0.35)

	c := deriv.NewWSClient(testConfig(srv.URL()), testLogger())
	_, _ = run(t, c)
	waitReady(t, c)

	ctx := context.Background()
	prop, err := c.Propose(ctx, domain.ProposalParams{
		Amount:       0.35,
		ContractType: domain.ContractDigitUnder,
		Currency:     "USD",
		Duration:     1,
		DurationUnit: "t",
		Symbol:       "R_100",
		Barrier:      4,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, prop.ID)
	assert.InDelta(t, 0.35, prop.AskPrice, 1e-9)

	buy, err := c.Buy(ctx, prop.ID, prop.AskPrice)
	require.NoError(t, err)
	assert.NotEmpty(t, buy.ContractID)
	assert.InDelta(t, 0.35, buy.BuyPrice, 1e-9)

	st, err := c.OpenContract(ctx, buy.ContractID)
	require.NoError(t, err)
	assert.True(t, st.Settled())
	assert.Equal(t, buy.ContractID, st.ContractID)
	assert.InDelta(t, -0.35, st.RealizedProfit(), 1e-9)
}

func TestWSClient_ProposeTimeout(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()
	srv.Handle("proposal", func(derivtest.Message) derivtest.Message { return nil })

	cfg := testConfig(srv.URL())
	cfg.RequestTimeout = 100 * time.Millisecond
	c := deriv.NewWSClient(cfg, testLogger())
	_, _ = run(t, c)
	waitReady(t, c)

	_, err := c.Propose(context.Background(), domain.ProposalParams{Amount: 0.35, Symbol: "R_100"})
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, deriv.StateReady, c.State())
}

func TestWSClient_BrokerRejectsBuy(t *testing.T) {
	srv := derivtest.NewServer("tok")
	defer srv.Close()
	srv.Handle("buy", func(derivtest.Message) derivtest.Message {
		return derivtest.ErrorReply("buy", "InsufficientBalance", "Your account balance is insufficient.")
	})

	c := deriv.NewWSClient(testConfig(srv.URL()), testLogger())
	_, _ = run(t, c)
	waitReady(t, c)

	_, err := c.Buy(context.Background(), "prop-1", 0.35)
	require.Error(t, err)
	assert.True(t, domain.IsBrokerError(err))
}

func TestWSClient_CallsFailWhenDisconnected(t *testing.T) {
	c := deriv.NewWSClient(testConfig("ws://127.0.0.1:1"), testLogger())
	_, err := c.Propose(context.Background(), domain.ProposalParams{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}
