package session

import (
	"context"
	"sync"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// Broker places trades.
type Broker interface {
	Propose(ctx context.Context, p domain.ProposalParams) (domain.Proposal, error)
	Buy(ctx context.Context, proposalID string, price float64) (domain.Purchase, error)
}

// Tracker waits for a contract to settle.
type Tracker interface {
	AwaitSettlement(ctx context.Context, contractID string) (domain.Settlement, error)
}

// Feed keeps the market connection alive until ctx is done. A non-nil error
// means the connection cannot be recovered.
type Feed interface {
	Run(ctx context.Context) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder receives session metrics.
type Recorder interface {
	Tick(digit int, virtualLoss bool)
	TradeOpened(stake float64)
	TradeSettled(result domain.TradeResult, profit float64)
	CycleFailed(stage string)
	Balance(balance, pnl float64)
	Running(running bool)
}

type nopRecorder struct{}

func (nopRecorder) Tick(int, bool) {}
func (nopRecorder) TradeOpened(float64) {}
func (nopRecorder) TradeSettled(domain.TradeResult, float64) {}
func (nopRecorder) CycleFailed(string) {}
func (nopRecorder) Balance(float64, float64) {}
func (nopRecorder) Running(bool) {}

// memoryControl is the run/pause switch used when no shared one is configured.
type memoryControl struct {
	mu     sync.Mutex
	paused bool
}

func (m *memoryControl) Running(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.paused, nil
}

func (m *memoryControl) SetRunning(_ context.Context, run bool) error {
	m.mu.Lock()
	m.paused = !run
	m.mu.Unlock()
	return nil
}
