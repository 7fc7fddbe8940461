package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendledger/core"
	ledgerstate "lendledger/core/state"
	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/native/oracle"
	"lendledger/services/lendingd/middleware"
)

const requestLimit = 1 << 20 // 1 MiB

// Ledger is the host surface the HTTP API drives.
type Ledger interface {
	Initialize(ctx context.Context, call lending.Call, asset crypto.Address) (*core.Receipt, error)
	Deposit(ctx context.Context, call lending.Call, asset crypto.Address, amount *uint256.Int) (*core.Receipt, error)
	Borrow(ctx context.Context, call lending.Call, amount *uint256.Int) (*core.Receipt, error)
	Repay(ctx context.Context, call lending.Call, amount *uint256.Int) (*core.Receipt, error)
	Withdraw(ctx context.Context, call lending.Call, asset crypto.Address, amount *uint256.Int) (*core.Receipt, error)
	Liquidate(ctx context.Context, call lending.Call, borrower crypto.Address, amount *uint256.Int) (*core.Receipt, error)
	Donate(ctx context.Context, call lending.Call) (*core.Receipt, error)
	AccruedSupplyAmount(asset crypto.Address) (*uint256.Int, error)
	Position(addr crypto.Address) (lending.Position, error)
	Market() (core.Market, error)
	Balances(addr crypto.Address) (native, token, allowance *uint256.Int, err error)
	Approve(owner crypto.Address, amount *uint256.Int) error
	Mint(denom bank.Denom, addr crypto.Address, amount *uint256.Int) error
	AdvanceBlocks(blocks uint64) (uint64, error)
	PublishPrice(asset crypto.Address, price *uint256.Int) (uint64, error)
	Prices() ([]oracle.Quote, error)
	Height() uint64
	OperationLog() *ledgerstate.OperationLog
}

// Config wires the HTTP server.
type Config struct {
	Ledger        Ledger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// Faucet exposes POST /v1/bank/faucet.
	Faucet bool
	// ManualClock exposes POST /v1/chain/advance.
	ManualClock bool
	Timeout     time.Duration
}

// Server exposes the lending ledger over JSON/HTTP.
type Server struct {
	ledger  Ledger
	logger  *slog.Logger
	faucet  bool
	timeout time.Duration
	handler http.Handler
}

// New builds the server and its route tree.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("server: ledger required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observability == nil {
		cfg.Observability = middleware.NewObservability("lending", false, cfg.Logger)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = middleware.NewRateLimiter(nil, cfg.Logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &Server{ledger: cfg.Ledger, logger: cfg.Logger, faucet: cfg.Faucet, timeout: cfg.Timeout}
	s.handler = s.routes(cfg)
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "height": s.ledger.Height()})
	})
	r.Handle("/metrics", promhttp.Handler())

	auth := cfg.Authenticator
	obs := cfg.Observability
	limiter := cfg.RateLimiter

	r.Route("/v1/lending", func(sr chi.Router) {
		sr.Use(obs.Middleware("lending"))
		sr.Get("/market", s.market)
		sr.Get("/accounts/{address}", s.position)
		sr.Get("/accounts/{address}/operations", s.operations)
		sr.Get("/supply/{asset}", s.supply)
		sr.Group(func(wr chi.Router) {
			wr.Use(auth.Middleware(middleware.ScopeWrite))
			wr.Use(limiter.Middleware("lending"))
			wr.Post("/initialize", s.initialize)
			wr.Post("/deposit", s.deposit)
			wr.Post("/borrow", s.borrow)
			wr.Post("/repay", s.repay)
			wr.Post("/withdraw", s.withdraw)
			wr.Post("/liquidate", s.liquidate)
			wr.Post("/donate", s.donate)
		})
	})

	r.Route("/v1/bank", func(sr chi.Router) {
		sr.Use(obs.Middleware("bank"))
		sr.Get("/balances/{address}", s.balances)
		sr.With(auth.Middleware(middleware.ScopeWrite), limiter.Middleware("lending")).Post("/approve", s.approve)
		if s.faucet {
			sr.With(auth.Middleware(middleware.ScopeAdmin), limiter.Middleware("admin")).Post("/faucet", s.mint)
		}
	})

	r.Route("/v1/chain", func(sr chi.Router) {
		sr.Use(obs.Middleware("chain"))
		sr.Get("/height", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, heightResponse{Height: s.ledger.Height()})
		})
		if cfg.ManualClock {
			sr.With(auth.Middleware(middleware.ScopeAdmin), limiter.Middleware("admin")).Post("/advance", s.advance)
		}
	})

	r.Route("/v1/oracle", func(sr chi.Router) {
		sr.Use(obs.Middleware("oracle"))
		sr.Get("/prices", s.prices)
		sr.With(auth.Middleware(middleware.ScopeAdmin), limiter.Middleware("admin")).Post("/prices", s.publishPrice)
	})

	return otelhttp.NewHandler(r, "lendingd")
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func decodeRequest(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > requestLimit {
		return fmt.Errorf("request body too large")
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// callFor builds the ledger call for the authenticated caller.
func callFor(r *http.Request, value *uint256.Int) (lending.Call, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return lending.Call{}, false
	}
	return lending.Call{Caller: caller, Value: value}, true
}

func (s *Server) respondReceipt(w http.ResponseWriter, receipt *core.Receipt, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceipt(receipt))
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, value)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.ledger.Initialize(ctx, call, asset)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, value)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.ledger.Deposit(ctx, call, asset, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	s.amountOperation(w, r, s.ledger.Borrow)
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.amountOperation(w, r, s.ledger.Repay)
}

func (s *Server) amountOperation(w http.ResponseWriter, r *http.Request, op func(context.Context, lending.Call, *uint256.Int) (*core.Receipt, error)) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, nil)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := op(ctx, call, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, nil)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.ledger.Withdraw(ctx, call, asset, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := crypto.ParseAddress(req.Borrower)
	if err != nil || borrower.IsZero() {
		writeBadRequest(w, fmt.Errorf("borrower: invalid address"))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, nil)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.ledger.Liquidate(ctx, call, borrower, amount)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) donate(w http.ResponseWriter, r *http.Request) {
	var req donateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	call, ok := callFor(r, value)
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.ledger.Donate(ctx, call)
	s.respondReceipt(w, receipt, err)
}

func (s *Server) market(w http.ResponseWriter, r *http.Request) {
	market, err := s.ledger.Market()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarket(market))
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil || addr.IsZero() {
		writeBadRequest(w, fmt.Errorf("address: invalid account"))
		return
	}
	position, err := s.ledger.Position(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPosition(position))
}

func (s *Server) operations(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil || addr.IsZero() {
		writeBadRequest(w, fmt.Errorf("address: invalid account"))
		return
	}
	log := s.ledger.OperationLog()
	if log == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Code: "not_found", Message: "operation journal disabled"}})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, fmt.Errorf("limit: must be a positive integer"))
			return
		}
		limit = parsed
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	records, err := log.ListByAccount(ctx, addr.String(), limit)
	if err != nil {
		s.logger.Error("list operations", slog.String("account", addr.String()), slog.Any("error", err))
		writeError(w, err)
		return
	}
	out := make([]operationResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toOperation(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := s.ledger.AccruedSupplyAmount(asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyResponse{Asset: assetString(asset), Amount: amount.Dec()})
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil || addr.IsZero() {
		writeBadRequest(w, fmt.Errorf("address: invalid account"))
		return
	}
	s.writeBalances(w, addr)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	if err := s.ledger.Approve(caller, amount); err != nil {
		writeError(w, err)
		return
	}
	s.writeBalances(w, caller)
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	account, err := crypto.ParseAddress(req.Account)
	if err != nil || account.IsZero() {
		writeBadRequest(w, fmt.Errorf("account: invalid address"))
		return
	}
	var denom bank.Denom
	switch strings.ToLower(strings.TrimSpace(req.Denom)) {
	case "native":
		denom = bank.Native
	case "token":
		denom = bank.Token
	default:
		writeBadRequest(w, fmt.Errorf("denom: must be native or token"))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.ledger.Mint(denom, account, amount); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("faucet mint", slog.String("account", account.String()), slog.String("kind", denom.String()))
	s.writeBalances(w, account)
}

func (s *Server) writeBalances(w http.ResponseWriter, addr crypto.Address) {
	native, token, allowance, err := s.ledger.Balances(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{Account: addr.String(), Native: native.Dec(), Token: token.Dec(), Allowance: allowance.Dec()})
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Blocks == 0 {
		writeBadRequest(w, fmt.Errorf("blocks: must be positive"))
		return
	}
	height, err := s.ledger.AdvanceBlocks(req.Blocks)
	if errors.Is(err, core.ErrClockNotManual) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "clock_not_manual", Message: err.Error()}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heightResponse{Height: height})
}

func (s *Server) prices(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.ledger.Prices()
	if errors.Is(err, core.ErrOracleReadOnly) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Code: "oracle_read_only", Message: err.Error()}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]quoteResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, toQuote(q))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) publishPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	height, err := s.ledger.PublishPrice(asset, price)
	if errors.Is(err, core.ErrOracleReadOnly) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "oracle_read_only", Message: err.Error()}})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Asset: assetString(asset), Price: price.Dec(), Height: height})
}
