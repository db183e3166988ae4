package server

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"nftlend/crypto"
	"nftlend/native/common"
	"nftlend/native/lend"
	"nftlend/observability/metrics"
	"nftlend/services/lendpoold/config"
)

// Server exposes the lending pool over HTTP. Mutating endpoints are bearer
// token protected; queries are open.
type Server struct {
	pool   *lend.Pool
	logger *slog.Logger
	auth   *authenticator
	nonce  atomic.Uint64

	router http.Handler
}

// New constructs a configured HTTP router over the pool.
func New(pool *lend.Pool, authCfg config.AuthConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		pool:   pool,
		logger: logger,
		auth:   newAuthenticator(authCfg),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Get("/reserves", s.listReserves)
		api.Get("/reserves/{asset}", s.getReserve)
		api.Get("/nfts", s.listNfts)
		api.Get("/nfts/{asset}", s.getNft)
		api.Get("/loans/{id}", s.getLoan)
		api.Get("/loans/{id}/auction", s.getAuction)
		api.Get("/accounts/{address}/loans", s.getAccountLoans)

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.middleware)
			protected.Post("/tx/deposit", s.handleDeposit)
			protected.Post("/tx/withdraw", s.handleWithdraw)
			protected.Post("/tx/borrow", s.handleBorrow)
			protected.Post("/tx/repay", s.handleRepay)
			protected.Post("/tx/bid", s.handleBid)
			protected.Post("/tx/redeem", s.handleRedeem)
			protected.Post("/tx/liquidate", s.handleLiquidate)
		})
	})
	return r
}

// --- Wire types ---

type errorResponse struct {
	Error string `json:"error"`
}

type txReceipt struct {
	TxHash string `json:"txHash"`
	LoanID uint64 `json:"loanId,omitempty"`
	Amount string `json:"amount,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

type reserveView struct {
	Asset                string `json:"asset"`
	Active               bool   `json:"active"`
	Frozen               bool   `json:"frozen"`
	BorrowingEnabled     bool   `json:"borrowingEnabled"`
	LiquidityIndex       string `json:"liquidityIndex"`
	VariableBorrowIndex  string `json:"variableBorrowIndex"`
	CurrentLiquidityRate string `json:"currentLiquidityRate"`
	CurrentBorrowRate    string `json:"currentBorrowRate"`
	TotalLiquidity       string `json:"totalLiquidity"`
	TotalDebt            string `json:"totalDebt"`
	AvailableLiquidity   string `json:"availableLiquidity"`
	TreasuryAccrued      string `json:"treasuryAccrued"`
}

type nftView struct {
	Asset              string `json:"asset"`
	Active             bool   `json:"active"`
	Frozen             bool   `json:"frozen"`
	LTVBPS             uint64 `json:"ltvBps"`
	LiqThresholdBPS    uint64 `json:"liqThresholdBps"`
	LiqBonusBPS        uint64 `json:"liqBonusBps"`
	RedeemDurationHrs  uint64 `json:"redeemDurationHrs"`
	AuctionDurationHrs uint64 `json:"auctionDurationHrs"`
	RedeemFineBPS      uint64 `json:"redeemFineBps"`
}

type loanView struct {
	LoanID       uint64 `json:"loanId"`
	State        string `json:"state"`
	Borrower     string `json:"borrower"`
	NftAsset     string `json:"nftAsset"`
	NftTokenID   uint64 `json:"nftTokenId"`
	ReserveAsset string `json:"reserveAsset"`
	Debt         string `json:"debt"`
	HealthFactor string `json:"healthFactor"`
}

type auctionView struct {
	LoanID                uint64 `json:"loanId"`
	Bidder                string `json:"bidder"`
	BidPrice              string `json:"bidPrice"`
	RedeemPayoff          string `json:"redeemPayoff"`
	RedeemWindowEnd       int64  `json:"redeemWindowEnd"`
	LiquidationEligibleAt int64  `json:"liquidationEligibleAt"`
}

// --- Queries ---

func (s *Server) listReserves(w http.ResponseWriter, _ *http.Request) {
	assets, err := s.pool.Reserves()
	if err != nil {
		s.writePoolError(w, "reserves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"reserves": assets})
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	reserve, err := s.pool.Reserve(asset)
	if err != nil {
		s.writePoolError(w, "reserve", err)
		return
	}
	if reserve == nil {
		writeError(w, http.StatusNotFound, "reserve not registered")
		return
	}
	liquidity, err := reserve.TotalLiquidity()
	if err != nil {
		s.writePoolError(w, "reserve", err)
		return
	}
	debt, err := reserve.TotalDebt()
	if err != nil {
		s.writePoolError(w, "reserve", err)
		return
	}
	available, err := reserve.AvailableLiquidity()
	if err != nil {
		s.writePoolError(w, "reserve", err)
		return
	}
	writeJSON(w, http.StatusOK, reserveView{
		Asset:                reserve.Asset,
		Active:               reserve.Config.Active(),
		Frozen:               reserve.Config.Frozen(),
		BorrowingEnabled:     reserve.Config.BorrowingEnabled(),
		LiquidityIndex:       reserve.LiquidityIndex.String(),
		VariableBorrowIndex:  reserve.VariableBorrowIndex.String(),
		CurrentLiquidityRate: reserve.CurrentLiquidityRate.String(),
		CurrentBorrowRate:    reserve.CurrentBorrowRate.String(),
		TotalLiquidity:       liquidity.String(),
		TotalDebt:            debt.String(),
		AvailableLiquidity:   available.String(),
		TreasuryAccrued:      reserve.TreasuryAccrued.String(),
	})
}

func (s *Server) listNfts(w http.ResponseWriter, _ *http.Request) {
	assets, err := s.pool.Nfts()
	if err != nil {
		s.writePoolError(w, "nfts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"nfts": assets})
}

func (s *Server) getNft(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	nft, err := s.pool.Nft(asset)
	if err != nil {
		s.writePoolError(w, "nft", err)
		return
	}
	if nft == nil {
		writeError(w, http.StatusNotFound, "collateral asset not registered")
		return
	}
	writeJSON(w, http.StatusOK, nftView{
		Asset:              nft.Asset,
		Active:             nft.Config.Active(),
		Frozen:             nft.Config.Frozen(),
		LTVBPS:             nft.Config.LTV(),
		LiqThresholdBPS:    nft.Config.LiqThreshold(),
		LiqBonusBPS:        nft.Config.LiqBonus(),
		RedeemDurationHrs:  nft.Config.RedeemDurationHours(),
		AuctionDurationHrs: nft.Config.AuctionDurationHours(),
		RedeemFineBPS:      nft.Config.RedeemFine(),
	})
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := s.pool.Loan(id)
	if err != nil {
		s.writePoolError(w, "loan", err)
		return
	}
	if loan == nil {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	debt, err := s.pool.LoanDebt(id)
	if err != nil {
		s.writePoolError(w, "loan", err)
		return
	}
	view := loanView{
		LoanID:       loan.LoanID,
		State:        loan.State.String(),
		Borrower:     loan.Borrower.String(),
		NftAsset:     loan.NftAsset,
		NftTokenID:   loan.NftTokenID,
		ReserveAsset: loan.ReserveAsset,
		Debt:         debt.String(),
	}
	if !loan.State.Terminal() {
		hf, err := s.pool.LoanHealthFactor(id)
		if err == nil {
			view.HealthFactor = hf.String()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.pool.Auction(id)
	if err != nil {
		s.writePoolError(w, "auction", err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{
		LoanID:                status.LoanID,
		Bidder:                status.Bidder.String(),
		BidPrice:              status.BidPrice.String(),
		RedeemPayoff:          status.RedeemPayoff.String(),
		RedeemWindowEnd:       status.RedeemWindowEnd,
		LiquidationEligibleAt: status.LiquidationEligibleAt,
	})
}

func (s *Server) getAccountLoans(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	ids, err := s.pool.LoansOf(addr)
	if err != nil {
		s.writePoolError(w, "loans", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"loans": ids})
}

// --- Transactions ---

type depositRequest struct {
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"onBehalfOf"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	onBehalfOf := caller
	if req.OnBehalfOf != "" {
		if onBehalfOf, err = crypto.DecodeAddress(req.OnBehalfOf); err != nil {
			writeError(w, http.StatusBadRequest, "invalid onBehalfOf address")
			return
		}
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	err = s.pool.Deposit(caller, onBehalfOf, req.Asset, amount)
	metrics.Lend().ObserveOperation("deposit", err)
	if err != nil {
		s.writePoolError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("deposit", req.Caller), Amount: amount.String()})
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	to := caller
	if req.To != "" {
		if to, err = crypto.DecodeAddress(req.To); err != nil {
			writeError(w, http.StatusBadRequest, "invalid receiver address")
			return
		}
	}
	var amount *big.Int
	if req.Amount == "max" {
		amount = lend.MaxWithdrawAmount()
	} else {
		var ok bool
		if amount, ok = parseAmount(req.Amount); !ok {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
	}
	withdrawn, err := s.pool.Withdraw(caller, to, req.Asset, amount)
	metrics.Lend().ObserveOperation("withdraw", err)
	if err != nil {
		s.writePoolError(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("withdraw", req.Caller), Amount: withdrawn.String()})
}

type borrowRequest struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	NftAsset string `json:"nftAsset"`
	TokenID  uint64 `json:"nftTokenId"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	loanID, err := s.pool.Borrow(caller, req.Asset, amount, req.NftAsset, req.TokenID)
	metrics.Lend().ObserveOperation("borrow", err)
	if err != nil {
		s.writePoolError(w, "borrow", err)
		return
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("borrow", req.Caller), LoanID: loanID, Amount: amount.String()})
}

type repayRequest struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	repaid, closed, err := s.pool.Repay(caller, req.LoanID, amount)
	metrics.Lend().ObserveOperation("repay", err)
	if err != nil {
		s.writePoolError(w, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("repay", req.Caller), LoanID: req.LoanID, Amount: repaid.String(), Closed: closed})
}

type bidRequest struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
	Price  string `json:"price"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	price, ok := parseAmount(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	before, _ := s.pool.Loan(req.LoanID)
	err = s.pool.Bid(caller, req.LoanID, price)
	metrics.Lend().ObserveOperation("bid", err)
	if err != nil {
		s.writePoolError(w, "bid", err)
		return
	}
	if before != nil && before.State == lend.LoanActive {
		metrics.Lend().IncAuctionOpened()
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("bid", req.Caller), LoanID: req.LoanID, Amount: price.String()})
}

type redeemRequest struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	payoff, err := s.pool.Redeem(caller, req.LoanID, amount)
	metrics.Lend().ObserveOperation("redeem", err)
	if err != nil {
		s.writePoolError(w, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("redeem", req.Caller), LoanID: req.LoanID, Amount: payoff.String(), Closed: true})
}

type liquidateRequest struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	err = s.pool.Liquidate(caller, req.LoanID)
	metrics.Lend().ObserveOperation("liquidate", err)
	if err != nil {
		s.writePoolError(w, "liquidate", err)
		return
	}
	metrics.Lend().IncLiquidation()
	writeJSON(w, http.StatusOK, txReceipt{TxHash: s.makeTxHash("liquidate", req.Caller), LoanID: req.LoanID, Closed: true})
}

// --- Helpers ---

func parseLoanID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid loan id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// makeTxHash derives an opaque receipt identifier for a completed operation.
func (s *Server) makeTxHash(op, caller string) string {
	nonce := s.nonce.Add(1)
	payload := make([]byte, 0, len(op)+len(caller)+16)
	payload = append(payload, op...)
	payload = append(payload, caller...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(time.Now().UnixNano()))
	payload = binary.BigEndian.AppendUint64(payload, nonce)
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(payload))
}

func (s *Server) writePoolError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("pool operation failed", "op", op, "error", err)
	} else {
		s.logger.Info("pool operation rejected", "op", op, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, lend.ErrLoanNotFound),
		errors.Is(err, lend.ErrReserveNotRegistered),
		errors.Is(err, lend.ErrNftNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, lend.ErrInvalidAmount),
		errors.Is(err, lend.ErrInsufficientBalance),
		errors.Is(err, lend.ErrInsufficientLiquidity),
		errors.Is(err, lend.ErrHealthFactorTooLow),
		errors.Is(err, lend.ErrHealthFactorNotBelow),
		errors.Is(err, lend.ErrBorrowCapExceeded),
		errors.Is(err, lend.ErrUtilisationCapExceeded),
		errors.Is(err, lend.ErrBidPriceTooLow),
		errors.Is(err, lend.ErrRedeemAmountTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lend.ErrReserveNotActive),
		errors.Is(err, lend.ErrReserveFrozen),
		errors.Is(err, lend.ErrBorrowingDisabled),
		errors.Is(err, lend.ErrNftNotActive),
		errors.Is(err, lend.ErrNftFrozen),
		errors.Is(err, lend.ErrLoanNotActive),
		errors.Is(err, lend.ErrLoanNotInAuction),
		errors.Is(err, lend.ErrLoanTerminal),
		errors.Is(err, lend.ErrLoanAlreadyOpen),
		errors.Is(err, lend.ErrRedeemWindowClosed),
		errors.Is(err, lend.ErrRedeemWindowOpen):
		return http.StatusConflict
	case errors.Is(err, lend.ErrOracleUnavailable),
		errors.Is(err, lend.ErrOracleZeroPrice),
		errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
