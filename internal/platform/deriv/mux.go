package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// DefaultRequestTimeout bounds how long Send waits for a correlated reply.
const DefaultRequestTimeout = 10 * time.Second

// Transport is the open side of the duplex connection used by Mux.
type Transport interface {
	Open() bool
	Write(data []byte) error
}

type result struct {
	resp *Response
	err  error
}

// Mux multiplexes many request/response pairs over one Transport. Each
// request gets a unique client id; the pending table maps that id to a
// buffered channel that receives exactly one result.
type Mux struct {
	transport Transport
	timeout   time.Duration
	now       func() time.Time

	seq atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan result
}

// NewMux creates a Mux writing through t. A non-positive timeout selects
// DefaultRequestTimeout.
func NewMux(t Transport, timeout time.Duration) *Mux {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Mux{
		transport: t,
		timeout:   timeout,
		now:       time.Now,
		pending:   make(map[string]chan result),
	}
}

// nextID returns c<unix-ms>_<counter>. The counter alone guarantees
// uniqueness within the process; the timestamp keeps ids distinct across
// restarts.
func (m *Mux) nextID() string {
	n := m.seq.Add(1)
	return fmt.Sprintf("c%d_%d", m.now().UnixMilli(), n)
}

// Send transmits req and blocks until the correlated response arrives, the
// timeout elapses, ctx is done, or the connection is closed. A non-positive
// timeout uses the Mux default. Broker error payloads are returned as
// *domain.BrokerError together with the response.
func (m *Mux) Send(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	kind := req.Kind()
	if !m.transport.Open() {
		return nil, fmt.Errorf("deriv: %s: %w", kind, domain.ErrNotConnected)
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	id := m.nextID()
	data, err := req.encode(id)
	if err != nil {
		return nil, fmt.Errorf("deriv: encode %s: %w", kind, err)
	}

	ch := make(chan result, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()

	if err := m.transport.Write(data); err != nil {
		if m.remove(id) {
			return nil, fmt.Errorf("deriv: write %s: %w: %w", kind, domain.ErrConnectionClosed, err)
		}
		// Rejected concurrently by RejectAll; that result wins.
		res := <-ch
		return res.resp, res.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		if m.remove(id) {
			return nil, fmt.Errorf("deriv: %s after %s: %w", kind, timeout, domain.ErrTimeout)
		}
		res := <-ch
		return res.resp, res.err
	case <-ctx.Done():
		if m.remove(id) {
			return nil, fmt.Errorf("deriv: %s: %w: %w", kind, domain.ErrCancelled, ctx.Err())
		}
		res := <-ch
		return res.resp, res.err
	}
}

// remove deletes the pending entry for id and reports whether it was still
// registered. Whoever removes the entry owns its resolution.
func (m *Mux) remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return false
	}
	delete(m.pending, id)
	return true
}

// Dispatch resolves the pending request matching the message's client id. It
// returns false when the message is not a reply to a pending request, in
// which case the caller should treat it as a push.
func (m *Mux) Dispatch(raw []byte) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	if env.Passthrough == nil || env.Passthrough.ClientID == "" {
		return false
	}

	id := env.Passthrough.ClientID
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	res := result{resp: &Response{MsgType: env.MsgType, Raw: raw}}
	if env.Error != nil {
		res.err = env.Error
	}
	ch <- res
	return true
}

// RejectAll fails every pending request with err and empties the table. It
// returns the number of requests rejected.
func (m *Mux) RejectAll(err error) int {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]chan result)
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
	return len(pending)
}

// Pending returns the number of requests awaiting a reply.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
