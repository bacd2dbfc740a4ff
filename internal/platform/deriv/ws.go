package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// State is the lifecycle state of the connection manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config configures a WSClient.
type Config struct {
	Endpoint string
	AppID    string
	Token    string
	Symbol   string

	RequestTimeout    time.Duration
	RequestsPerSecond float64

	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
	ReconnectFactor float64
	// MaxReconnectAttempts bounds consecutive failed connection attempts.
	// Zero means retry forever.
	MaxReconnectAttempts int
}

// URL returns the websocket URL including the app_id query parameter.
func (c Config) URL() string {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if c.AppID != "" {
		q.Set("app_id", c.AppID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TickHandler is called for every price tick of the subscribed symbol.
type TickHandler func(domain.Tick)

// BalanceHandler is called for every balance update.
type BalanceHandler func(balance float64)

// AuthorizedHandler is called after each successful authorization.
type AuthorizedHandler func(domain.AccountInfo)

// StateHandler is called on every state transition.
type StateHandler func(State)

// WSClient is the connection manager for the Deriv API. Run owns the
// connection lifecycle: connect, authorize, subscribe to ticks and balance,
// and reconnect with exponential backoff after unexpected drops. Calls made
// through the client are correlated by a Mux.
//
// Handlers run on the read goroutine and must not block.
type WSClient struct {
	cfg     Config
	logger  *slog.Logger
	dialer  websocket.Dialer
	mux     *Mux
	limiter *rate.Limiter

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	state      atomic.Int32
	reconnects atomic.Int64

	// backoff is only touched by the Run goroutine.
	backoff Backoff
	// wait sleeps for a reconnect delay and reports false when ctx ends first.
	wait    func(ctx context.Context, d time.Duration) bool

	handlerMu       sync.RWMutex
	tickHandlers    []TickHandler
	balanceHandlers []BalanceHandler
	authHandlers    []AuthorizedHandler
	stateHandlers   []StateHandler
}

// NewWSClient creates a connection manager. Call Run to connect.
func NewWSClient(cfg Config, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WSClient{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "deriv_ws")),
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		backoff: Backoff{
			Base:   cfg.ReconnectBase,
			Max:    cfg.ReconnectMax,
			Factor: cfg.ReconnectFactor,
		},
		wait: sleepCtx,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	w.mux = NewMux(w, cfg.RequestTimeout)
	w.backoff.Reset()
	return w
}

// OnTick registers a handler for tick pushes.
func (w *WSClient) OnTick(fn TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickHandlers = append(w.tickHandlers, fn)
}

// OnBalance registers a handler for balance updates, including the balance
// reported by authorization.
func (w *WSClient) OnBalance(fn BalanceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.balanceHandlers = append(w.balanceHandlers, fn)
}

// OnAuthorized registers a handler called after every successful authorization.
func (w *WSClient) OnAuthorized(fn AuthorizedHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.authHandlers = append(w.authHandlers, fn)
}

// OnStateChange registers a handler for state transitions.
func (w *WSClient) OnStateChange(fn StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, fn)
}

// State returns the current lifecycle state.
func (w *WSClient) State() State {
	return State(w.state.Load())
}

// Reconnects returns how many times the client has re-dialled after a drop.
func (w *WSClient) Reconnects() int64 {
	return w.reconnects.Load()
}

// Pending returns the number of requests awaiting a reply.
func (w *WSClient) Pending() int {
	return w.mux.Pending()
}

// Open reports whether a connection is currently established.
func (w *WSClient) Open() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

// Write sends one text frame on the current connection.
func (w *WSClient) Write(data []byte) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Run connects and keeps the connection alive until ctx is cancelled, which
// returns nil. It returns an error wrapping domain.ErrAuthFailed when the
// broker rejects the token, and domain.ErrReconnectExhausted when
// MaxReconnectAttempts consecutive attempts fail.
func (w *WSClient) Run(ctx context.Context) error {
	defer w.setState(StateDisconnected)

	failures := 0
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt > 0 {
			w.reconnects.Add(1)
		}

		w.setState(StateConnecting)
		authorized, err := w.session(ctx)
		if n := w.mux.RejectAll(fmt.Errorf("deriv: %w", domain.ErrConnectionClosed)); n > 0 {
			w.logger.Warn("rejected in-flight requests", slog.Int("count", n))
		}
		w.setState(StateDisconnected)

		if ctx.Err() != nil {
			w.logger.Info("connection manager stopped")
			return nil
		}
		if errors.Is(err, domain.ErrAuthFailed) {
			w.logger.Error("authorization rejected, not reconnecting", slog.String("error", err.Error()))
			return err
		}

		if authorized {
			failures = 0
		} else {
			failures++
		}
		if w.cfg.MaxReconnectAttempts > 0 && failures >= w.cfg.MaxReconnectAttempts {
			return fmt.Errorf("deriv: %d consecutive failures: %w: %w", failures, domain.ErrReconnectExhausted, err)
		}

		delay := w.backoff.Next()
		w.logger.Warn("connection lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
			slog.Int("failures", failures),
		)

		if !w.wait(ctx, delay) {
			w.logger.Info("connection manager stopped")
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// session runs one connection from dial to drop. authorized reports whether
// the connection got past authorization.
func (w *WSClient) session(ctx context.Context) (authorized bool, err error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, handshakeTimeout)
	conn, _, err := w.dialer.DialContext(dialCtx, w.cfg.URL(), nil)
	cancelDial()
	if err != nil {
		return false, fmt.Errorf("deriv: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.closeConn(conn)

	readDone := make(chan error, 1)
	go func() { readDone <- w.readLoop(conn) }()
	go w.pingLoop(connCtx, conn)

	w.logger.Info("connected", slog.String("url", redactURL(w.cfg.URL())))

	w.setState(StateAuthenticating)
	info, err := w.authorize(connCtx)
	if err != nil {
		if domain.IsBrokerError(err) {
			return false, fmt.Errorf("deriv: authorize: %w: %w", domain.ErrAuthFailed, err)
		}
		return false, err
	}
	w.backoff.Reset()
	w.logger.Info("authorized",
		slog.String("loginid", info.LoginID),
		slog.String("currency", info.Currency),
		slog.Float64("balance", info.Balance),
	)
	w.emitAuthorized(info)
	w.emitBalance(info.Balance)

	if err := w.subscribe(connCtx); err != nil {
		return true, err
	}
	w.setState(StateReady)

	select {
	case err := <-readDone:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// subscribe opens the tick and balance streams. The first message of each
// stream arrives as the correlated reply and is routed as a push as well.
func (w *WSClient) subscribe(ctx context.Context) error {
	resp, err := w.call(ctx, ticksRequest(w.cfg.Symbol))
	if err != nil {
		return fmt.Errorf("deriv: subscribe ticks %s: %w", w.cfg.Symbol, err)
	}
	w.routePush(resp.MsgType, resp.Raw)

	resp, err = w.call(ctx, balanceRequest())
	if err != nil {
		return fmt.Errorf("deriv: subscribe balance: %w", err)
	}
	w.routePush(resp.MsgType, resp.Raw)

	w.logger.Info("subscribed", slog.String("symbol", w.cfg.Symbol))
	return nil
}

// readLoop reads frames until the connection fails. On exit the connection
// is detached and every pending request is rejected so callers do not wait
// for their timeout.
func (w *WSClient) readLoop(conn *websocket.Conn) error {
	defer func() {
		w.detach(conn)
		w.mux.RejectAll(fmt.Errorf("deriv: %w", domain.ErrConnectionClosed))
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("deriv: %w", domain.ErrConnectionClosed)
			}
			return fmt.Errorf("deriv: read: %w", err)
		}
		w.handleMessage(msg)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(raw []byte) {
	if w.mux.Dispatch(raw) {
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Warn("discarding malformed message", slog.String("error", err.Error()))
		return
	}
	if env.Error != nil {
		w.logger.Warn("uncorrelated error from broker",
			slog.String("msg_type", env.MsgType),
			slog.String("error", env.Error.Error()),
		)
		return
	}
	w.routePush(env.MsgType, raw)
}

func (w *WSClient) routePush(msgType string, raw []byte) {
	switch msgType {
	case "tick":
		var m tickMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			w.logger.Warn("bad tick", slog.String("error", err.Error()))
			return
		}
		w.emitTick(m.toDomain())
	case "balance":
		var m balanceMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			w.logger.Warn("bad balance", slog.String("error", err.Error()))
			return
		}
		w.emitBalance(float64(m.Balance.Balance))
	default:
		w.logger.Debug("ignoring message", slog.String("msg_type", msgType))
	}
}

func (w *WSClient) detach(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
}

func (w *WSClient) closeConn(conn *websocket.Conn) {
	w.detach(conn)
	w.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	w.writeMu.Unlock()
	conn.Close()
}

func (w *WSClient) setState(s State) {
	if State(w.state.Swap(int32(s))) == s {
		return
	}
	w.logger.Debug("state", slog.String("state", s.String()))

	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (w *WSClient) emitTick(t domain.Tick) {
	w.handlerMu.RLock()
	handlers := w.tickHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(t)
	}
}

func (w *WSClient) emitBalance(b float64) {
	w.handlerMu.RLock()
	handlers := w.balanceHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(b)
	}
}

func (w *WSClient) emitAuthorized(info domain.AccountInfo) {
	w.handlerMu.RLock()
	handlers := w.authHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(info)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// redactURL strips the query string so app ids and tokens stay out of logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
