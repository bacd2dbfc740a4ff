package deriv

import (
	"context"
	"fmt"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// call throttles and sends one request through the mux.
func (w *WSClient) call(ctx context.Context, req Request) (*Response, error) {
	if !w.Open() {
		return nil, fmt.Errorf("deriv: %s: %w", req.Kind(), domain.ErrNotConnected)
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("deriv: %s: %w: %w", req.Kind(), domain.ErrCancelled, err)
		}
	}
	return w.mux.Send(ctx, req, w.cfg.RequestTimeout)
}

func (w *WSClient) authorize(ctx context.Context) (domain.AccountInfo, error) {
	resp, err := w.call(ctx, authorizeRequest(w.cfg.Token))
	if err != nil {
		return domain.AccountInfo{}, err
	}
	var out authorizeResponse
	if err := resp.Decode(&out); err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		LoginID:  out.Authorize.LoginID,
		Currency: out.Authorize.Currency,
		Balance:  float64(out.Authorize.Balance),
	}, nil
}

// Propose requests a price proposal.
func (w *WSClient) Propose(ctx context.Context, p domain.ProposalParams) (domain.Proposal, error) {
	resp, err := w.call(ctx, proposalRequest(p))
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("deriv: proposal: %w", err)
	}
	var out proposalResponse
	if err := resp.Decode(&out); err != nil {
		return domain.Proposal{}, err
	}
	if out.Proposal.ID == "" {
		return domain.Proposal{}, fmt.Errorf("deriv: proposal: empty id in response")
	}
	return domain.Proposal{
		ID:       out.Proposal.ID,
		AskPrice: float64(out.Proposal.AskPrice),
		Payout:   float64(out.Proposal.Payout),
	}, nil
}

// Buy purchases a proposal at up to price.
func (w *WSClient) Buy(ctx context.Context, proposalID string, price float64) (domain.Purchase, error) {
	resp, err := w.call(ctx, buyRequest(proposalID, price))
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("deriv: buy: %w", err)
	}
	var out buyResponse
	if err := resp.Decode(&out); err != nil {
		return domain.Purchase{}, err
	}
	if out.Buy.ContractID == "" {
		return domain.Purchase{}, fmt.Errorf("deriv: buy: empty contract id in response")
	}
	purchasedAt := time.Now().UTC()
	if out.Buy.PurchaseTime > 0 {
		purchasedAt = time.Unix(out.Buy.PurchaseTime, 0).UTC()
	}
	return domain.Purchase{
		ContractID:    string(out.Buy.ContractID),
		BuyPrice:      float64(out.Buy.BuyPrice),
		Payout:        float64(out.Buy.Payout),
		TransactionID: string(out.Buy.TransactionID),
		PurchasedAt:   purchasedAt,
	}, nil
}

// OpenContract fetches the current status of a contract.
func (w *WSClient) OpenContract(ctx context.Context, contractID string) (domain.ContractStatus, error) {
	resp, err := w.call(ctx, openContractRequest(contractID))
	if err != nil {
		return domain.ContractStatus{}, fmt.Errorf("deriv: contract %s: %w", contractID, err)
	}
	var out openContractResponse
	if err := resp.Decode(&out); err != nil {
		return domain.ContractStatus{}, err
	}
	st := out.toDomain()
	if st.ContractID == "" {
		st.ContractID = contractID
	}
	return st, nil
}
