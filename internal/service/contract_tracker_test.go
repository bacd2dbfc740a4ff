package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/service"
)

type scriptedSource struct {
	mu    sync.Mutex
	steps []func() (domain.ContractStatus, error)
	calls int
}

func (s *scriptedSource) OpenContract(_ context.Context, id string) (domain.ContractStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return domain.ContractStatus{ContractID: id}, nil
	}
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return step()
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func open() (domain.ContractStatus, error) { return domain.ContractStatus{}, nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAwaitSettlement_SoldWithProfit(t *testing.T) {
	profit := 0.31
	src := &scriptedSource{steps: []func() (domain.ContractStatus, error){
		open,
		func() (domain.ContractStatus, error) { return domain.ContractStatus{}, domain.ErrTimeout },
		func() (domain.ContractStatus, error) {
			return domain.ContractStatus{IsSold: true, Profit: &profit, BuyPrice: 0.35, SellPrice: 0.66}, nil
		},
	}}
	tr := service.NewContractTracker(src, time.Millisecond, 10, discard())

	s, err := tr.AwaitSettlement(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", s.ContractID)
	assert.InDelta(t, 0.31, s.Profit, 1e-9)
	assert.Equal(t, 3, src.Calls())
}

func TestAwaitSettlement_ExpiredComputesProfit(t *testing.T) {
	src := &scriptedSource{steps: []func() (domain.ContractStatus, error){
		func() (domain.ContractStatus, error) {
			return domain.ContractStatus{IsExpired: true, BuyPrice: 0.35, SellPrice: 0}, nil
		},
	}}
	tr := service.NewContractTracker(src, time.Millisecond, 10, discard())

	s, err := tr.AwaitSettlement(context.Background(), "7")
	require.NoError(t, err)
	assert.InDelta(t, -0.35, s.Profit, 1e-9)
}

func TestAwaitSettlement_BoundedAttempts(t *testing.T) {
	src := &scriptedSource{steps: []func() (domain.ContractStatus, error){
		func() (domain.ContractStatus, error) { return domain.ContractStatus{}, errors.New("transient") },
	}}
	tr := service.NewContractTracker(src, time.Millisecond, 4, discard())

	_, err := tr.AwaitSettlement(context.Background(), "9")
	require.ErrorIs(t, err, domain.ErrSettlementTimeout)
	assert.Equal(t, 4, src.Calls())
}

func TestAwaitSettlement_NeverSettles(t *testing.T) {
	src := &scriptedSource{}
	tr := service.NewContractTracker(src, time.Millisecond, 3, discard())

	_, err := tr.AwaitSettlement(context.Background(), "9")
	require.ErrorIs(t, err, domain.ErrSettlementTimeout)
	assert.Equal(t, 3, src.Calls())
}

func TestAwaitSettlement_CancelAbortsWithinInterval(t *testing.T) {
	src := &scriptedSource{}
	tr := service.NewContractTracker(src, 50*time.Millisecond, 1000, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.AwaitSettlement(ctx, "9")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("tracker did not observe cancellation")
	}
}
