// Package deriv is a client for the Deriv websocket API v3. Requests and
// responses share one connection and are matched by the passthrough
// client_id echoed back by the server.
package deriv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// DefaultEndpoint is the public Deriv websocket endpoint.
const DefaultEndpoint = "wss://ws.derivws.com/websockets/v3"

// Request is an outbound API call encoded as a flat JSON object, e.g.
// {"proposal":1,"amount":0.35,...}.
type Request map[string]any

// requestKinds lists the top-level keys that name a call, in lookup order.
var requestKinds = []string{
	"authorize",
	"proposal_open_contract",
	"proposal",
	"buy",
	"ticks",
	"balance",
	"forget",
	"ping",
}

// Kind returns the API call name of the request, used in logs and errors.
func (r Request) Kind() string {
	for _, k := range requestKinds {
		if _, ok := r[k]; ok {
			return k
		}
	}
	return "request"
}

// encode serialises the request with the correlation id attached as
// passthrough metadata. The receiver is not modified.
func (r Request) encode(clientID string) ([]byte, error) {
	out := make(map[string]any, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out["passthrough"] = passthrough{ClientID: clientID}
	return json.Marshal(out)
}

type passthrough struct {
	ClientID string `json:"client_id"`
}

// envelope holds the fields common to every inbound message.
type envelope struct {
	MsgType     string              `json:"msg_type"`
	Error       *domain.BrokerError `json:"error,omitempty"`
	Passthrough *passthrough        `json:"passthrough,omitempty"`
}

// Response is a correlated reply to a Request.
type Response struct {
	MsgType string
	Raw     json.RawMessage
}

// Decode unmarshals the full response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("deriv: decode %s: %w", r.MsgType, err)
	}
	return nil
}

// number accepts a JSON number or a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("deriv: invalid number %s", string(b))
	}
	*n = number(f)
	return nil
}

// flag accepts true/false or 1/0.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("deriv: invalid flag %s", string(b))
	}
	return nil
}

// identifier accepts an id encoded as a JSON number or string.
type identifier string

func (i *identifier) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*i = identifier(s)
	return nil
}

// --- inbound payloads ---

type authorizeResponse struct {
	Authorize struct {
		Balance  number `json:"balance"`
		Currency string `json:"currency"`
		LoginID  string `json:"loginid"`
	} `json:"authorize"`
}

type tickMessage struct {
	Tick struct {
		Symbol string `json:"symbol"`
		Quote  number `json:"quote"`
		Epoch  int64  `json:"epoch"`
	} `json:"tick"`
}

func (m tickMessage) toDomain() domain.Tick {
	t := domain.Tick{
		Symbol: m.Tick.Symbol,
		Quote:  float64(m.Tick.Quote),
	}
	if m.Tick.Epoch > 0 {
		t.Epoch = time.Unix(m.Tick.Epoch, 0).UTC()
	}
	return t
}

type balanceMessage struct {
	Balance struct {
		Balance  number `json:"balance"`
		Currency string `json:"currency"`
	} `json:"balance"`
}

type proposalResponse struct {
	Proposal struct {
		ID       string `json:"id"`
		AskPrice number `json:"ask_price"`
		Payout   number `json:"payout"`
	} `json:"proposal"`
}

type buyResponse struct {
	Buy struct {
		ContractID    identifier `json:"contract_id"`
		BuyPrice      number     `json:"buy_price"`
		Payout        number     `json:"payout"`
		TransactionID identifier `json:"transaction_id"`
		PurchaseTime  int64      `json:"purchase_time"`
	} `json:"buy"`
}

type openContractResponse struct {
	Contract struct {
		ContractID identifier `json:"contract_id"`
		IsSold     flag       `json:"is_sold"`
		IsExpired  flag       `json:"is_expired"`
		Profit     *number    `json:"profit"`
		BuyPrice   number     `json:"buy_price"`
		SellPrice  number     `json:"sell_price"`
		Status     string     `json:"status"`
	} `json:"proposal_open_contract"`
}

func (r openContractResponse) toDomain() domain.ContractStatus {
	c := r.Contract
	st := domain.ContractStatus{
		ContractID: string(c.ContractID),
		IsSold:     bool(c.IsSold),
		IsExpired:  bool(c.IsExpired),
		BuyPrice:   float64(c.BuyPrice),
		SellPrice:  float64(c.SellPrice),
		Status:     c.Status,
	}
	if c.Profit != nil {
		p := float64(*c.Profit)
		st.Profit = &p
	}
	return st
}

// --- outbound requests ---

func authorizeRequest(token string) Request {
	return Request{"authorize": token}
}

func ticksRequest(symbol string) Request {
	return Request{"ticks": symbol, "subscribe": 1}
}

func balanceRequest() Request {
	return Request{"balance": 1, "subscribe": 1}
}

func proposalRequest(p domain.ProposalParams) Request {
	basis := p.Basis
	if basis == "" {
		basis = "stake"
	}
	return Request{
		"proposal":      1,
		"amount":        p.Amount,
		"basis":         basis,
		"contract_type": string(p.ContractType),
		"currency":      p.Currency,
		"duration":      p.Duration,
		"duration_unit": p.DurationUnit,
		"symbol":        p.Symbol,
		"barrier":       strconv.Itoa(p.Barrier),
	}
}

func buyRequest(proposalID string, price float64) Request {
	return Request{"buy": proposalID, "price": price}
}

func openContractRequest(contractID string) Request {
	var id any = contractID
	if n, err := strconv.ParseInt(contractID, 10, 64); err == nil {
		id = n
	}
	return Request{"proposal_open_contract": 1, "contract_id": id}
}
