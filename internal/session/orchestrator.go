// Package session runs the trading session: it feeds ticks to the staking
// controller, places trades through the broker, waits for settlement and
// applies the result to the persisted session state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

const (
	defaultSnapshotInterval = 15 * time.Second
	defaultTickBuffer       = 64
	defaultBuyTimeout       = 10 * time.Second
	ioTimeout               = 5 * time.Second

	// EventChannel is the bus channel session events are published on.
	EventChannel = "gmstrader:events"
	// TradeStream is the bus stream settled trades are appended to.
	TradeStream = "gmstrader:trades"
)

// Notification event types.
const (
	EventTargetReached  = "target_reached"
	EventStopLoss       = "stop_loss"
	EventAuthFailed     = "auth_failed"
	EventTradeSettled   = "trade_settled"
	EventSessionStopped = "session_stopped"
	EventError          = "error"
)

// Config configures an Orchestrator.
type Config struct {
	Staking          staking.Config
	SnapshotInterval time.Duration
	TickBuffer       int
	// BuyTimeout bounds a buy request. The request outlives a stop so a
	// filled contract is always recorded.
	BuyTimeout       time.Duration
}

// Deps are the Orchestrator's collaborators. Broker, Tracker, Feed and Store
// are required; the rest are optional.
type Deps struct {
	Broker   Broker
	Tracker  Tracker
	Feed     Feed
	Store    domain.SessionStore
	Trades   domain.TradeStore
	Audit    domain.AuditStore
	Control  domain.ControlSource
	Bus      domain.SignalBus
	Archive  domain.Archiver
	Notifier Notifier
	Metrics  Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Status is a point-in-time view of the session for the control surface.
type Status struct {
	SessionID  string              `json:"session_id,omitempty"`
	Running    bool                `json:"running"`
	Paused     bool                `json:"paused"`
	InFlight   bool                `json:"in_flight"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	StopReason string              `json:"stop_reason,omitempty"`
	PnL        *float64            `json:"pnl,omitempty"`
	State      domain.SessionState `json:"state"`
}

// cycle carries one trade from decision to settlement.
type cycle struct {
	decision      staking.Decision
	cfg           staking.Config
	balanceBefore *float64
	proposal      domain.Proposal
	purchase      domain.Purchase
	openedAt      time.Time
	// resumed cycles track a contract bought before a stop or restart.
	resumed bool
}

// Orchestrator owns the session state and drives the trade pipeline. Ticks
// are evaluated one at a time on the Run goroutine; each trade cycle runs on
// its own goroutine. All state access is serialized by mu.
type Orchestrator struct {
	broker   Broker
	tracker  Tracker
	feed     Feed
	store    domain.SessionStore
	trades   domain.TradeStore
	audit    domain.AuditStore
	control  domain.ControlSource
	bus      domain.SignalBus
	archive  domain.Archiver
	notifier Notifier
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time

	snapshotEvery time.Duration
	buyTimeout    time.Duration
	ticks         chan domain.Tick

	mu         sync.Mutex
	state      domain.SessionState
	ctrl       *staking.Controller
	running    bool
	closed     bool
	inFlight   bool
	tracking   bool
	sessionCtx context.Context
	cancel     context.CancelFunc
	feedCancel context.CancelFunc
	sessionID  string
	startedAt  time.Time
	stopReason string
	// buying is closed once an outstanding buy has been recorded.
	buying     chan struct{}

	wg sync.WaitGroup
}

// New creates an Orchestrator with a fresh session state. Call Restore to
// load the last snapshot.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Broker == nil || deps.Tracker == nil || deps.Feed == nil || deps.Store == nil {
		return nil, errors.New("session: broker, tracker, feed and store are required")
	}
	if err := cfg.Staking.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = defaultTickBuffer
	}
	if cfg.BuyTimeout <= 0 {
		cfg.BuyTimeout = defaultBuyTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	control := deps.Control
	if control == nil {
		control = &memoryControl{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	return &Orchestrator{
		broker:        deps.Broker,
		tracker:       deps.Tracker,
		feed:          deps.Feed,
		store:         deps.Store,
		trades:        deps.Trades,
		audit:         deps.Audit,
		control:       control,
		bus:           deps.Bus,
		archive:       deps.Archive,
		notifier:      deps.Notifier,
		metrics:       metrics,
		logger:        logger.With(slog.String("component", "session")),
		now:           now,
		snapshotEvery: cfg.SnapshotInterval,
		buyTimeout:    cfg.BuyTimeout,
		ticks:         make(chan domain.Tick, cfg.TickBuffer),
		state:         domain.NewSessionState(cfg.Staking.InitialStake, now()),
		ctrl:          staking.New(cfg.Staking, logger),
	}, nil
}

// Restore loads the last snapshot. A missing or unreadable local snapshot
// falls back to the newest archived one when an archive is configured, and
// otherwise to a fresh state. It returns where the state came from.
func (o *Orchestrator) Restore(ctx context.Context) string {
	st, err := o.store.LoadSession(ctx)
	source := "snapshot"
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.WarnContext(ctx, "session snapshot unreadable, ignoring", slog.String("error", err.Error()))
		}
		source = "fresh"
		if o.archive != nil {
			archived, aerr := o.archive.LatestSnapshot(ctx)
			switch {
			case aerr == nil:
				st, source = archived, "archive"
			case !errors.Is(aerr, domain.ErrNotFound):
				o.logger.WarnContext(ctx, "archived snapshot unavailable", slog.String("error", aerr.Error()))
			}
		}
	}
	if source == "fresh" {
		o.logger.InfoContext(ctx, "starting with a fresh session state")
		return source
	}

	o.mu.Lock()
	cfg := o.ctrl.Config()
	if st.CurrentStake <= 0 {
		st.CurrentStake = cfg.InitialStake
	}
	if st.LastResult == "" {
		st.LastResult = domain.ResultNone
	}
	if st.Stats.StartedAt.IsZero() {
		st.Stats.StartedAt = o.now().UTC()
	}
	o.state = st
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "session state restored",
		slog.String("source", source),
		slog.Int("trades", st.TradesThisSession),
		slog.Float64("stake", st.CurrentStake),
		slog.String("open_contract", st.CurrentContract),
	)
	return source
}

// Run evaluates ticks and snapshots the state until ctx is done. On return
// the session is stopped, in-flight work has finished and the state has been
// persisted.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.snapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case t := <-o.ticks:
			o.onTick(ctx, t)
		case <-ticker.C:
			o.persist(o.State())
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.stop("shutdown")
	o.wg.Wait()
	o.persist(o.State())
	o.logger.Info("session orchestrator stopped")
}

// HandleTick queues a tick for evaluation. It never blocks; ticks are dropped
// when the queue is full.
func (o *Orchestrator) HandleTick(t domain.Tick) {
	select {
	case o.ticks <- t:
	default:
		o.logger.Warn("tick queue full, dropping tick", slog.Float64("quote", t.Quote))
	}
}

// HandleBalance records a balance update from the broker.
func (o *Orchestrator) HandleBalance(balance float64) {
	o.mu.Lock()
	o.state.SetBalance(balance)
	o.state.UpdatedAt = o.now().UTC()
	pnl, _ := o.state.PnL()
	o.mu.Unlock()
	o.metrics.Balance(balance, pnl)
}

// HandleAuthorized records a successful broker authorization.
func (o *Orchestrator) HandleAuthorized(info domain.AccountInfo) {
	o.record("authorized", map[string]any{
		"loginid":  info.LoginID,
		"currency": info.Currency,
		"balance":  info.Balance,
	})
}

// Start begins a trading session: the feed is connected and ticks are
// traded until Stop or a stop condition.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("session: start: %w", domain.ErrSessionStopped)
	}
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("session: start: %w", domain.ErrSessionRunning)
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	feedCtx, feedCancel := context.WithCancel(context.Background())
	o.running = true
	o.sessionCtx = sessCtx
	o.cancel = cancel
	o.feedCancel = feedCancel
	o.sessionID = uuid.NewString()
	o.startedAt = o.now().UTC()
	o.stopReason = ""
	id := o.sessionID
	symbol := o.ctrl.Config().Symbol
	o.wg.Add(1)
	o.mu.Unlock()

	if err := o.control.SetRunning(ctx, true); err != nil {
		o.logger.WarnContext(ctx, "set control signal failed", slog.String("error", err.Error()))
	}
	o.metrics.Running(true)
	o.logger.InfoContext(ctx, "session started", slog.String("session_id", id), slog.String("symbol", symbol))
	o.record("session_started", map[string]any{"session_id": id, "symbol": symbol})

	go o.runFeed(feedCtx)
	return nil
}

// Stop ends the trading session. An open contract stays recorded and is
// tracked again after the next Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.stop("operator") {
		return fmt.Errorf("session: stop: %w", domain.ErrSessionStopped)
	}
	return nil
}

// Pause keeps the session connected but blocks new trades.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if err := o.control.SetRunning(ctx, false); err != nil {
		return fmt.Errorf("session: pause: %w", err)
	}
	o.record("session_paused", nil)
	return nil
}

// Resume lifts a Pause.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if err := o.control.SetRunning(ctx, true); err != nil {
		return fmt.Errorf("session: resume: %w", err)
	}
	o.record("session_resumed", nil)
	return nil
}

// Toggle flips the run/pause signal and returns the new value.
func (o *Orchestrator) Toggle(ctx context.Context) (bool, error) {
	run := o.controlRunning(ctx)
	if run {
		return false, o.Pause(ctx)
	}
	return true, o.Resume(ctx)
}

// Reset starts a new session state from the last known balance. It is
// refused while a contract is open.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.state.CurrentContract != "" || o.inFlight {
		o.mu.Unlock()
		return fmt.Errorf("session: reset: %w", domain.ErrContractOpen)
	}
	now := o.now().UTC()
	fresh := domain.NewSessionState(o.ctrl.Config().InitialStake, now)
	if o.state.LastBalance != nil {
		fresh.SetBalance(*o.state.LastBalance)
	}
	fresh.LastPrice = o.state.LastPrice
	fresh.UpdatedAt = now
	o.state = fresh
	snap := o.state.Clone()
	o.mu.Unlock()

	o.persist(snap)
	o.logger.InfoContext(ctx, "session state reset")
	o.record("session_reset", nil)
	return nil
}

// UpdateConfig replaces the staking parameters. The market cannot change
// while the process runs since the feed is subscribed to it.
func (o *Orchestrator) UpdateConfig(ctx context.Context, cfg staking.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("session: update config: %w", err)
	}
	o.mu.Lock()
	current := o.ctrl.Config()
	if cfg.Symbol != current.Symbol {
		o.mu.Unlock()
		return fmt.Errorf("session: update config: market cannot change from %s to %s at runtime", current.Symbol, cfg.Symbol)
	}
	o.ctrl = staking.New(cfg, o.logger)
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "trading config updated",
		slog.Float64("initial_stake", cfg.InitialStake),
		slog.Float64("martingale_factor", cfg.MartingaleFactor),
		slog.Int("prediction", cfg.Barrier),
	)
	o.record("config_updated", map[string]any{
		"initial_stake":     cfg.InitialStake,
		"stake_after_win":   cfg.StakeAfterWin,
		"martingale_factor": cfg.MartingaleFactor,
		"prediction":        cfg.Barrier,
		"meta":              cfg.Meta,
		"stop_loss":         cfg.StopLoss,
	})
	return nil
}

// Config returns the active staking parameters.
func (o *Orchestrator) Config() staking.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctrl.Config()
}

// State returns a copy of the session state.
func (o *Orchestrator) State() domain.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Status reports the session for the control surface.
func (o *Orchestrator) Status(ctx context.Context) Status {
	paused := !o.controlRunning(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		SessionID:  o.sessionID,
		Running:    o.running,
		Paused:     paused,
		InFlight:   o.inFlight || o.tracking,
		StopReason: o.stopReason,
		State:      o.state.Clone(),
	}
	if !o.startedAt.IsZero() {
		t := o.startedAt
		st.StartedAt = &t
	}
	if pnl, ok := o.state.PnL(); ok {
		st.PnL = &pnl
	}
	return st
}

// --- tick pipeline ---

func (o *Orchestrator) onTick(ctx context.Context, t domain.Tick) {
	o.mu.Lock()
	o.state.LastPrice = t.Quote
	running := o.running
	o.mu.Unlock()
	if !running {
		return
	}

	run := o.controlRunning(ctx)

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	d := o.ctrl.Evaluate(&o.state, t.Digit(), staking.Gate{Running: run, InFlight: o.inFlight}, o.now())
	o.metrics.Tick(d.Digit, d.VirtualLoss)

	switch {
	case d.Stop != staking.StopNone:
		pnl, _ := o.state.PnL()
		o.mu.Unlock()
		o.stopOnLimit(d.Stop, pnl)

	case d.Trade:
		if err := o.beginCycleLocked(); err != nil {
			o.mu.Unlock()
			o.logger.ErrorContext(ctx, "trade decision while a contract is open", slog.String("error", err.Error()))
			return
		}
		c := &cycle{
			decision: d,
			cfg:      o.ctrl.Config(),
			openedAt: o.now().UTC(),
		}
		if o.state.LastBalance != nil {
			b := *o.state.LastBalance
			c.balanceBefore = &b
		}
		sessCtx := o.sessionCtx
		o.wg.Add(1)
		o.mu.Unlock()

		go o.runCycle(sessCtx, c)

	case o.state.CurrentContract != "" && !o.tracking && !o.inFlight:
		c := o.resumedCycleLocked()
		o.tracking = true
		sessCtx := o.sessionCtx
		o.wg.Add(1)
		o.mu.Unlock()

		o.logger.InfoContext(ctx, "resuming settlement tracking", slog.String("contract_id", c.purchase.ContractID))
		go func() {
			defer o.wg.Done()
			o.track(sessCtx, c)
		}()

	default:
		o.mu.Unlock()
	}
}

// beginCycleLocked marks a trade cycle in flight. The gate already refuses
// to trade while a contract is open; reaching the error is a bug.
func (o *Orchestrator) beginCycleLocked() error {
	if o.state.CurrentContract != "" || o.inFlight {
		return domain.ErrContractOpen
	}
	o.inFlight = true
	return nil
}

// resumedCycleLocked rebuilds the cycle of the open contract from its
// recorded position. Without one, the current stake and balance stand in.
func (o *Orchestrator) resumedCycleLocked() *cycle {
	c := &cycle{
		purchase: domain.Purchase{ContractID: o.state.CurrentContract},
		cfg:      o.ctrl.Config(),
		resumed:  true,
	}
	if p := o.state.Position; p != nil && p.ContractID == o.state.CurrentContract {
		c.cfg.Symbol = p.Symbol
		c.cfg.ContractType = p.ContractType
		c.cfg.Barrier = p.Barrier
		c.decision.Stake = p.Stake
		c.proposal.ID = p.ProposalID
		c.purchase.BuyPrice = p.BuyPrice
		c.purchase.Payout = p.Payout
		c.openedAt = p.OpenedAt
		if p.BalanceBefore != nil {
			b := *p.BalanceBefore
			c.balanceBefore = &b
		}
		return c
	}
	c.decision.Stake = o.state.CurrentStake
	if o.state.LastBalance != nil {
		b := *o.state.LastBalance
		c.balanceBefore = &b
	}
	return c
}

// beginBuy returns the context for a buy request and the function that
// marks it recorded. The context is detached from ctx so a stop cannot drop
// the reply of a filled order.
func (o *Orchestrator) beginBuy(ctx context.Context) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || ctx.Err() != nil {
		return nil, nil, fmt.Errorf("session: buy: %w", domain.ErrCancelled)
	}
	buying := make(chan struct{})
	o.buying = buying
	buyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.buyTimeout)
	return buyCtx, func() {
		cancel()
		o.mu.Lock()
		o.buying = nil
		o.mu.Unlock()
		close(buying)
	}, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, c *cycle) {
	defer o.wg.Done()

	params := c.cfg.ProposalParams(c.decision.Stake)
	o.record("proposal_sent", map[string]any{
		"symbol":        params.Symbol,
		"stake":         params.Amount,
		"barrier":       params.Barrier,
		"contract_type": string(params.ContractType),
		"digit":         c.decision.Digit,
	})

	prop, err := o.broker.Propose(ctx, params)
	if err != nil {
		o.abortCycle(ctx, "proposal", err)
		return
	}
	c.proposal = prop

	buyCtx, recorded, err := o.beginBuy(ctx)
	if err != nil {
		o.abortCycle(ctx, "buy", err)
		return
	}
	buy, err := o.broker.Buy(buyCtx, prop.ID, params.Amount)
	if err != nil {
		recorded()
		o.abortCycle(ctx, "buy", err)
		return
	}
	c.purchase = buy

	pos := &domain.Position{
		ContractID:   buy.ContractID,
		ProposalID:   prop.ID,
		Symbol:       c.cfg.Symbol,
		ContractType: c.cfg.ContractType,
		Barrier:      c.cfg.Barrier,
		Stake:        c.decision.Stake,
		BuyPrice:     buy.BuyPrice,
		Payout:       buy.Payout,
		OpenedAt:     c.openedAt,
	}
	if c.balanceBefore != nil {
		b := *c.balanceBefore
		pos.BalanceBefore = &b
	}

	o.mu.Lock()
	o.state.CurrentContract = buy.ContractID
	o.state.CurrentStake = c.decision.Stake
	o.state.Position = pos
	o.state.UpdatedAt = o.now().UTC()
	o.inFlight = false
	o.tracking = true
	snap := o.state.Clone()
	o.mu.Unlock()

	o.persist(snap)
	recorded()
	o.metrics.TradeOpened(c.decision.Stake)
	o.logger.InfoContext(ctx, "contract bought",
		slog.String("contract_id", buy.ContractID),
		slog.Float64("stake", c.decision.Stake),
		slog.Float64("buy_price", buy.BuyPrice),
		slog.Float64("payout", buy.Payout),
	)
	o.record("contract_bought", map[string]any{
		"contract_id": buy.ContractID,
		"proposal_id": prop.ID,
		"stake":       c.decision.Stake,
		"buy_price":   buy.BuyPrice,
		"payout":      buy.Payout,
	})

	o.track(ctx, c)
}

// abortCycle ends a cycle that failed before a contract was bought. Stake and
// results are left untouched.
func (o *Orchestrator) abortCycle(ctx context.Context, stage string, err error) {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()

	o.metrics.CycleFailed(stage)
	if errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil {
		o.logger.Info("trade cycle cancelled", slog.String("stage", stage))
	} else {
		o.logger.Warn("trade cycle aborted", slog.String("stage", stage), slog.String("error", err.Error()))
	}
	o.record("trade_error", map[string]any{"stage": stage, "error": err.Error()})
}

func (o *Orchestrator) track(ctx context.Context, c *cycle) {
	id := c.purchase.ContractID
	s, err := o.tracker.AwaitSettlement(ctx, id)
	if err != nil {
		o.mu.Lock()
		o.tracking = false
		o.mu.Unlock()

		o.metrics.CycleFailed("settlement")
		o.record("settlement_error", map[string]any{"contract_id": id, "error": err.Error()})
		if errors.Is(err, domain.ErrCancelled) {
			o.logger.Info("settlement tracking cancelled", slog.String("contract_id", id))
			return
		}
		o.logger.Error("settlement tracking failed", slog.String("contract_id", id), slog.String("error", err.Error()))
		o.notify(EventError, "Settlement failed", fmt.Sprintf("Contract %s: %v", id, err))
		return
	}
	o.settle(c, s)
}

func (o *Orchestrator) settle(c *cycle, s domain.Settlement) {
	now := o.now().UTC()

	o.mu.Lock()
	if c.balanceBefore != nil {
		o.state.SetBalance(*c.balanceBefore + s.Profit)
	}
	result := o.state.RecordSettlement(s.Profit, now)
	o.state.CurrentContract = ""
	o.state.Position = nil
	o.state.UpdatedAt = now
	o.tracking = false
	snap := o.state.Clone()
	o.mu.Unlock()

	o.persist(snap)

	rec := domain.TradeRecord{
		ID:           uuid.NewString(),
		ContractID:   s.ContractID,
		ProposalID:   c.proposal.ID,
		Symbol:       c.cfg.Symbol,
		ContractType: c.cfg.ContractType,
		Barrier:      c.cfg.Barrier,
		Stake:        c.decision.Stake,
		BuyPrice:     s.BuyPrice,
		Payout:       c.purchase.Payout,
		Profit:       s.Profit,
		Result:       result,
		OpenedAt:     c.openedAt,
		SettledAt:    now,
	}
	if rec.BuyPrice == 0 {
		rec.BuyPrice = c.purchase.BuyPrice
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = c.purchase.PurchasedAt
	}
	if snap.LastBalance != nil {
		rec.BalanceAfter = *snap.LastBalance
	}
	if o.trades != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		if err := o.trades.InsertTrade(ctx, rec); err != nil {
			o.logger.Error("record trade failed", slog.String("contract_id", rec.ContractID), slog.String("error", err.Error()))
		}
		cancel()
	}
	o.streamTrade(rec)

	pnl, _ := snap.PnL()
	o.metrics.TradeSettled(result, s.Profit)
	o.metrics.Balance(rec.BalanceAfter, pnl)

	o.logger.Info("contract settled",
		slog.String("contract_id", s.ContractID),
		slog.String("result", string(result)),
		slog.Float64("profit", s.Profit),
		slog.Float64("balance", rec.BalanceAfter),
		slog.Float64("pnl", pnl),
		slog.Bool("resumed", c.resumed),
	)
	o.record("contract_settled", map[string]any{
		"contract_id": s.ContractID,
		"result":      string(result),
		"profit":      s.Profit,
		"balance":     rec.BalanceAfter,
		"pnl":         pnl,
	})
	o.notify(EventTradeSettled,
		fmt.Sprintf("Trade %s", result),
		fmt.Sprintf("Contract %s settled with profit %.2f. Balance %.2f, session PnL %.2f.", s.ContractID, s.Profit, rec.BalanceAfter, pnl))
}

// --- session lifecycle ---

func (o *Orchestrator) runFeed(ctx context.Context) {
	defer o.wg.Done()

	err := o.feed.Run(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	event := EventError
	if errors.Is(err, domain.ErrAuthFailed) {
		event = EventAuthFailed
	}
	o.logger.Error("market feed failed, stopping session", slog.String("error", err.Error()))
	o.notify(event, "Connection failed", err.Error())
	o.stop(event)
}

func (o *Orchestrator) stopOnLimit(reason staking.StopReason, pnl float64) {
	if !o.stop(string(reason)) {
		return
	}
	switch reason {
	case staking.StopTargetReached:
		o.notify(EventTargetReached, "Profit target reached", fmt.Sprintf("Session PnL %.2f. Trading stopped.", pnl))
	case staking.StopLossReached:
		o.notify(EventStopLoss, "Stop loss reached", fmt.Sprintf("Session PnL %.2f. Trading stopped.", pnl))
	}
}

// stop ends the running session and reports whether it was running. Trade
// cycles are cancelled at once; the feed is closed after an outstanding buy
// has been recorded.
func (o *Orchestrator) stop(reason string) bool {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return false
	}
	o.running = false
	o.stopReason = reason
	cancel, feedCancel := o.cancel, o.feedCancel
	o.cancel, o.feedCancel = nil, nil
	buying := o.buying
	id := o.sessionID
	o.mu.Unlock()

	cancel()
	if buying != nil {
		<-buying
	}
	feedCancel()

	o.mu.Lock()
	o.state.UpdatedAt = o.now().UTC()
	snap := o.state.Clone()
	o.mu.Unlock()
	o.persist(snap)
	o.metrics.Running(false)
	o.logger.Info("session stopped", slog.String("session_id", id), slog.String("reason", reason))
	o.record("session_stopped", map[string]any{"session_id": id, "reason": reason})
	if reason != "shutdown" {
		o.notify(EventSessionStopped, "Session stopped", fmt.Sprintf("Reason: %s", reason))
	}
	return true
}

// --- side effects ---

// controlRunning reads the run/pause signal. Read errors count as run.
func (o *Orchestrator) controlRunning(ctx context.Context) bool {
	run, err := o.control.Running(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "read control signal failed", slog.String("error", err.Error()))
		return true
	}
	return run
}

func (o *Orchestrator) persist(snap domain.SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := o.store.SaveSession(ctx, snap); err != nil {
		o.logger.Error("persist session state failed", slog.String("error", err.Error()))
	}
}

// record appends an event to the session log and publishes it on the bus.
func (o *Orchestrator) record(event string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()

	if o.audit != nil {
		if err := o.audit.Log(ctx, event, detail); err != nil {
			o.logger.Warn("session log write failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	if o.bus != nil {
		o.mu.Lock()
		id := o.sessionID
		o.mu.Unlock()
		payload, _ := json.Marshal(map[string]any{
			"event":      event,
			"session_id": id,
			"at":         o.now().UTC(),
			"detail":     detail,
		})
		if err := o.bus.Publish(ctx, EventChannel, payload); err != nil {
			o.logger.Debug("publish event failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) streamTrade(rec domain.TradeRecord) {
	if o.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	payload, _ := json.Marshal(rec)
	if err := o.bus.StreamAppend(ctx, TradeStream, payload); err != nil {
		o.logger.Debug("stream trade failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) notify(event, title, message string) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
