package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lendledger/crypto"
)

// Client provides a thin wrapper around the lendingd HTTP API.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	caller crypto.Address
}

// Option customises a Client.
type Option func(*Client)

// WithBearerToken authenticates every write with token.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithCaller sends the caller header used by daemons running without bearer
// authentication.
func WithCaller(caller crypto.Address) Option {
	return func(c *Client) { c.caller = caller }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client for the daemon listening at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(endpoint), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: invalid endpoint %q", endpoint)
	}
	c := &Client{base: base, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("lendingd: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("lendingd: http %d %s: %s", e.Status, e.Code, e.Message)
}

// Event is a ledger event carried by a receipt.
type Event struct {
	Type        string            `json:"type"`
	OperationID string            `json:"operationId"`
	Height      uint64            `json:"height"`
	Attributes  map[string]string `json:"attributes"`
}

// Receipt acknowledges a committed operation.
type Receipt struct {
	OperationID string  `json:"operationId"`
	Action      string  `json:"action"`
	Height      uint64  `json:"height"`
	Events      []Event `json:"events"`
}

// Account mirrors the stored account record.
type Account struct {
	Address         string `json:"address"`
	SuppliedNative  string `json:"suppliedNative"`
	SuppliedToken   string `json:"suppliedToken"`
	Borrowed        string `json:"borrowed"`
	LastBorrowIndex string `json:"lastBorrowIndex"`
	LastBlockNumber uint64 `json:"lastBlockNumber"`
}

// Position is an account evaluated at current prices.
type Position struct {
	Account            Account `json:"account"`
	CollateralValue    string  `json:"collateralValue"`
	BorrowCapacity     string  `json:"borrowCapacity"`
	WithdrawableNative string  `json:"withdrawableNative"`
	Healthy            bool    `json:"healthy"`
	HealthFactorBps    string  `json:"healthFactorBps"`
}

// Market is the ledger-wide state.
type Market struct {
	Height        uint64 `json:"height"`
	Initialized   bool   `json:"initialized"`
	BorrowIndex   string `json:"borrowIndex"`
	TotalDebt     string `json:"totalDebt"`
	TotalReserves string `json:"totalReserves"`
	SystemTokens  string `json:"systemTokens"`
	SystemNative  string `json:"systemNative"`
	Accounts      int    `json:"accounts"`
}

// Balances are an account's bank holdings.
type Balances struct {
	Account   string `json:"account"`
	Native    string `json:"native"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
}

// Quote is a published oracle price in 1e18 fixed point.
type Quote struct {
	Asset  string `json:"asset"`
	Price  string `json:"price"`
	Height uint64 `json:"height"`
}

func (c *Client) Initialize(ctx context.Context, asset, value string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/initialize", map[string]string{"asset": asset, "value": value})
}

func (c *Client) Deposit(ctx context.Context, asset, amount, value string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/deposit", map[string]string{"asset": asset, "amount": amount, "value": value})
}

func (c *Client) Borrow(ctx context.Context, amount string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/borrow", map[string]string{"amount": amount})
}

func (c *Client) Repay(ctx context.Context, amount string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/repay", map[string]string{"amount": amount})
}

func (c *Client) Withdraw(ctx context.Context, asset, amount string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/withdraw", map[string]string{"asset": asset, "amount": amount})
}

func (c *Client) Liquidate(ctx context.Context, borrower crypto.Address, amount string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/liquidate", map[string]string{"borrower": borrower.String(), "amount": amount})
}

func (c *Client) Donate(ctx context.Context, value string) (*Receipt, error) {
	return c.operation(ctx, "/v1/lending/donate", map[string]string{"value": value})
}

func (c *Client) Position(ctx context.Context, account crypto.Address) (*Position, error) {
	var out Position
	if err := c.do(ctx, http.MethodGet, "/v1/lending/accounts/"+account.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Market(ctx context.Context) (*Market, error) {
	var out Market
	if err := c.do(ctx, http.MethodGet, "/v1/lending/market", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccruedSupply returns the token surplus as a decimal string.
func (c *Client) AccruedSupply(ctx context.Context, asset string) (string, error) {
	var out struct {
		Amount string `json:"amount"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/lending/supply/"+url.PathEscape(asset), nil, &out); err != nil {
		return "", err
	}
	return out.Amount, nil
}

func (c *Client) Balances(ctx context.Context, account crypto.Address) (*Balances, error) {
	var out Balances
	if err := c.do(ctx, http.MethodGet, "/v1/bank/balances/"+account.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve lets the ledger pull up to amount tokens from the caller.
func (c *Client) Approve(ctx context.Context, amount string) (*Balances, error) {
	var out Balances
	if err := c.do(ctx, http.MethodPost, "/v1/bank/approve", map[string]string{"amount": amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Faucet mints funds on development daemons. denom is "native" or "token".
func (c *Client) Faucet(ctx context.Context, account crypto.Address, denom, amount string) (*Balances, error) {
	var out Balances
	body := map[string]string{"account": account.String(), "denom": denom, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/v1/bank/faucet", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Advance moves a manually clocked daemon forward and returns the height.
func (c *Client) Advance(ctx context.Context, blocks uint64) (uint64, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/chain/advance", map[string]uint64{"blocks": blocks}, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

// Prices lists the daemon's current oracle quotes.
func (c *Client) Prices(ctx context.Context) ([]Quote, error) {
	var out []Quote
	if err := c.do(ctx, http.MethodGet, "/v1/oracle/prices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PublishPrice records a new price for asset at the daemon's current height.
func (c *Client) PublishPrice(ctx context.Context, asset, price string) (*Quote, error) {
	var out Quote
	if err := c.do(ctx, http.MethodPost, "/v1/oracle/prices", map[string]string{"asset": asset, "price": price}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) operation(ctx context.Context, path string, body map[string]string) (*Receipt, error) {
	for key, value := range body {
		if value == "" {
			delete(body, key)
		}
	}
	var out Receipt
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if !c.caller.IsZero() {
		req.Header.Set("X-Lending-Caller", c.caller.String())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
