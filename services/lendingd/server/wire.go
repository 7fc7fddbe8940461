package server

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/core"
	ledgerstate "lendledger/core/state"
	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/native/oracle"
)

// Amounts travel as decimal strings so 256-bit values survive JSON.

type initializeRequest struct {
	Asset string `json:"asset"`
	Value string `json:"value"`
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type donateRequest struct {
	Value string `json:"value"`
}

type faucetRequest struct {
	Account string `json:"account"`
	Denom   string `json:"denom"`
	Amount  string `json:"amount"`
}

type advanceRequest struct {
	Blocks uint64 `json:"blocks"`
}

// priceRequest publishes a 1e18 fixed point price.
type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type quoteResponse struct {
	Asset  string `json:"asset"`
	Price  string `json:"price"`
	Height uint64 `json:"height"`
}

type receiptResponse struct {
	OperationID string         `json:"operationId"`
	Action      string         `json:"action"`
	Height      uint64         `json:"height"`
	Events      []*types.Event `json:"events"`
}

type accountResponse struct {
	Address         string `json:"address"`
	SuppliedNative  string `json:"suppliedNative"`
	SuppliedToken   string `json:"suppliedToken"`
	Borrowed        string `json:"borrowed"`
	LastBorrowIndex string `json:"lastBorrowIndex"`
	LastBlockNumber uint64 `json:"lastBlockNumber"`
}

type positionResponse struct {
	Account            accountResponse `json:"account"`
	CollateralValue    string          `json:"collateralValue"`
	BorrowCapacity     string          `json:"borrowCapacity"`
	WithdrawableNative string          `json:"withdrawableNative"`
	Healthy            bool            `json:"healthy"`
	HealthFactorBps    string          `json:"healthFactorBps,omitempty"`
}

type paramsResponse struct {
	Token                string               `json:"token"`
	MaxLTVBps            uint64               `json:"maxLtvBps"`
	CloseFactorBps       uint64               `json:"closeFactorBps"`
	InterestRatePerBlock string               `json:"interestRatePerBlock"`
	ReserveFactorBps     uint64               `json:"reserveFactorBps"`
	AccrualMode          string               `json:"accrualMode"`
	Pauses               lending.ActionPauses `json:"pauses"`
}

type marketResponse struct {
	Height           uint64         `json:"height"`
	System           string         `json:"system"`
	Initialized      bool           `json:"initialized"`
	BorrowIndex      string         `json:"borrowIndex"`
	TotalDebt        string         `json:"totalDebt"`
	TotalReserves    string         `json:"totalReserves"`
	LastAccrualBlock uint64         `json:"lastAccrualBlock"`
	SystemTokens     string         `json:"systemTokens"`
	SystemNative     string         `json:"systemNative"`
	Accounts         int            `json:"accounts"`
	StateDigest      string         `json:"stateDigest,omitempty"`
	Params           paramsResponse `json:"params"`
}

type supplyResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type balancesResponse struct {
	Account   string `json:"account"`
	Native    string `json:"native"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
}

type heightResponse struct {
	Height uint64 `json:"height"`
}

type operationResponse struct {
	ID        string `json:"id"`
	Height    uint64 `json:"height"`
	Action    string `json:"action"`
	Caller    string `json:"caller"`
	Subject   string `json:"subject,omitempty"`
	Asset     string `json:"asset,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Value     string `json:"value,omitempty"`
	Outcome   string `json:"outcome"`
	ErrorKind string `json:"errorKind,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid decimal amount", field)
	}
	return value, nil
}

// parseValue treats an empty attached value as zero.
func parseValue(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount("value", raw)
}

func parseAsset(raw string) (crypto.Address, error) {
	asset, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("asset: %v", err)
	}
	return asset, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func assetString(asset crypto.Address) string {
	if asset.IsZero() {
		return "native"
	}
	return asset.Encode(crypto.AssetPrefix)
}

func toQuote(q oracle.Quote) quoteResponse {
	return quoteResponse{Asset: assetString(q.Asset), Price: dec(q.Price), Height: q.Height}
}

func toReceipt(r *core.Receipt) receiptResponse {
	events := r.Events
	if events == nil {
		events = []*types.Event{}
	}
	return receiptResponse{OperationID: r.OperationID, Action: r.Action, Height: r.Height, Events: events}
}

func toAccount(u *lending.UserInfo) accountResponse {
	return accountResponse{
		Address:         u.Address.String(),
		SuppliedNative:  dec(u.SuppliedNative),
		SuppliedToken:   dec(u.SuppliedToken),
		Borrowed:        dec(u.Borrowed),
		LastBorrowIndex: dec(u.LastBorrowIndex),
		LastBlockNumber: u.LastBlockNumber,
	}
}

func toPosition(p lending.Position) positionResponse {
	out := positionResponse{
		Account:            toAccount(p.Account),
		CollateralValue:    dec(p.CollateralValue),
		BorrowCapacity:     dec(p.BorrowCapacity),
		WithdrawableNative: dec(p.Withdrawable),
		Healthy:            p.Healthy,
	}
	if p.HealthFactorBps != nil {
		out.HealthFactorBps = p.HealthFactorBps.Dec()
	}
	return out
}

func toMarket(m core.Market) marketResponse {
	return marketResponse{
		Height:           m.Height,
		System:           m.System.String(),
		Initialized:      m.Global.Initialized,
		BorrowIndex:      dec(m.Global.BorrowIndex),
		TotalDebt:        dec(m.Global.TotalDebt),
		TotalReserves:    dec(m.Global.TotalReserves),
		LastAccrualBlock: m.Global.LastAccrualBlock,
		SystemTokens:     dec(m.SystemTokens),
		SystemNative:     dec(m.SystemNative),
		Accounts:         m.Accounts,
		StateDigest:      m.StateDigest,
		Params: paramsResponse{
			Token:                assetString(m.Params.Token),
			MaxLTVBps:            m.Params.MaxLTVBps,
			CloseFactorBps:       m.Params.CloseFactorBps,
			InterestRatePerBlock: dec(m.Params.InterestRatePerBlock),
			ReserveFactorBps:     m.Params.ReserveFactorBps,
			AccrualMode:          m.Params.AccrualMode.String(),
			Pauses:               m.Params.Pauses,
		},
	}
}

func toOperation(rec ledgerstate.OperationRecord) operationResponse {
	return operationResponse{
		ID:        rec.ID,
		Height:    rec.Height,
		Action:    rec.Action,
		Caller:    rec.Caller,
		Subject:   rec.Subject,
		Asset:     rec.Asset,
		Amount:    rec.Amount,
		Value:     rec.Value,
		Outcome:   rec.Outcome,
		ErrorKind: rec.ErrorKind,
	}
}
