// Package derivtest provides an in-process fake of the Deriv websocket API
// for tests.
package derivtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is a decoded JSON frame.
type Message map[string]any

// Handler answers one request. Returning nil sends no reply.
type Handler func(req Message) Message

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Server is a fake Deriv endpoint. By default it authorizes Token, streams
// one tick per ticks subscription, prices proposals at the stake, and settles
// every contract immediately with Profit.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	token    string
	balance  float64
	profit   float64
	quote    float64
	handlers map[string]Handler
	conns    []*conn
	accepted int
	refused  int
	refuse   int
	received map[string]int
	seq      int
}

// NewServer starts a fake server that accepts token.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		balance:  1000,
		profit:   0.31,
		quote:    1234.56,
		handlers: make(map[string]Handler),
		received: make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// SetBalance sets the balance reported by authorize and balance.
func (s *Server) SetBalance(b float64) {
	s.mu.Lock()
	s.balance = b
	s.mu.Unlock()
}

// SetProfit sets the profit reported for settled contracts.
func (s *Server) SetProfit(p float64) {
	s.mu.Lock()
	s.profit = p
	s.mu.Unlock()
}

// Handle overrides the reply for one request kind, e.g. "proposal".
func (s *Server) Handle(kind string, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

// RefuseNext makes the next n connection attempts fail the handshake with
// 503 Service Unavailable.
func (s *Server) RefuseNext(n int) {
	s.mu.Lock()
	s.refuse = n
	s.mu.Unlock()
}

// Refused returns how many connection attempts were refused.
func (s *Server) Refused() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refused
}

// Accepted returns how many connections the server has accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Requests returns how many requests of kind were received.
func (s *Server) Requests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[kind]
}

// PushTick sends a tick to every connected client.
func (s *Server) PushTick(symbol string, quote float64) {
	s.Push(Message{
		"msg_type": "tick",
		"tick": Message{
			"symbol": symbol,
			"quote":  quote,
			"epoch":  time.Now().Unix(),
		},
	})
}

// Push sends msg to every connected client.
func (s *Server) Push(msg Message) {
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(msg)
	}
}

// DropConnections closes every open connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.refuse > 0 {
		s.refuse--
		s.refused++
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.accepted++
	s.mu.Unlock()

	defer ws.Close()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req Message
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		reply := s.reply(req)
		if reply == nil {
			continue
		}
		if pt, ok := req["passthrough"]; ok {
			reply["passthrough"] = pt
		}
		if err := c.write(reply); err != nil {
			return
		}
	}
}

func (s *Server) reply(req Message) Message {
	kind := kindOf(req)

	s.mu.Lock()
	s.received[kind]++
	h, ok := s.handlers[kind]
	s.mu.Unlock()

	if ok {
		reply := h(req)
		if reply != nil {
			if _, set := reply["msg_type"]; !set {
				reply["msg_type"] = kind
			}
		}
		return reply
	}
	return s.defaultReply(kind, req)
}

func (s *Server) defaultReply(kind string, req Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++

	switch kind {
	case "authorize":
		if req["authorize"] != s.token {
			return ErrorReply("authorize", "InvalidToken", "The token is invalid.")
		}
		return Message{
			"msg_type": "authorize",
			"authorize": Message{
				"balance":  s.balance,
				"currency": "USD",
				"loginid":  "VRTC0000001",
			},
		}
	case "ticks":
		return Message{
			"msg_type": "tick",
			"tick": Message{
				"symbol": req["ticks"],
				"quote":  s.quote,
				"epoch":  time.Now().Unix(),
			},
			"subscription": Message{"id": fmt.Sprintf("sub-%d", s.seq)},
		}
	case "balance":
		return Message{
			"msg_type": "balance",
			"balance":  Message{"balance": s.balance, "currency": "USD"},
		}
	case "proposal":
		amount, _ := req["amount"].(float64)
		return Message{
			"msg_type": "proposal",
			"proposal": Message{
				"id":        fmt.Sprintf("prop-%d", s.seq),
				"ask_price": amount,
				"payout":    amount * 1.88,
			},
		}
	case "buy":
		price, _ := req["price"].(float64)
		return Message{
			"msg_type": "buy",
			"buy": Message{
				"contract_id":    1000 + s.seq,
				"buy_price":      price,
				"payout":         price * 1.88,
				"transaction_id": 5000 + s.seq,
				"purchase_time":  time.Now().Unix(),
			},
		}
	case "proposal_open_contract":
		return Message{
			"msg_type": "proposal_open_contract",
			"proposal_open_contract": Message{
				"contract_id": req["contract_id"],
				"is_sold":     1,
				"is_expired":  1,
				"profit":      s.profit,
				"status":      "sold",
			},
		}
	case "ping":
		return Message{"msg_type": "ping", "ping": "pong"}
	}
	return ErrorReply(kind, "UnrecognisedRequest", "Unrecognised request.")
}

// ErrorReply builds a broker error payload.
func ErrorReply(msgType, code, message string) Message {
	return Message{
		"msg_type": msgType,
		"error":    Message{"code": code, "message": message},
	}
}

func kindOf(req Message) string {
	for _, k := range []string{"authorize", "proposal_open_contract", "proposal", "buy", "ticks", "balance", "forget", "ping"} {
		if _, ok := req[k]; ok {
			return k
		}
	}
	return "unknown"
}
