package lend

import (
	"math/big"
	"sync"
	"time"

	"nftlend/crypto"
	"nftlend/native/common"
)

// ModuleName is the pause-switch key for the lending pool.
const ModuleName = "lend"

const defaultMinBidDeltaBps = 100

// Pool orchestrates every mutating operation against the lending ledger. A
// single mutex serialises mutations; each operation stages its writes in a
// changeset and commits them through State.Apply in one step, so a failure at
// any point leaves the committed ledger untouched. External collaborator calls
// (token ledgers, custody) run before Apply for the same reason.
type Pool struct {
	mu sync.Mutex

	state    State
	oracle   PriceOracle
	receipts ReceiptLedger
	debts    DebtLedger
	custody  CollateralCustody
	model    InterestRateModel
	sink     EventSink
	pauses   common.PauseView

	nowFn          func() int64
	paused         bool
	maxReserves    int
	maxNfts        int
	minBidDeltaBps uint64
}

// NewPool wires a pool over the given state. Collaborators are attached with
// the Set methods before the first operation.
func NewPool(state State) *Pool {
	return &Pool{
		state:          state,
		model:          DefaultRateModel(),
		nowFn:          func() int64 { return time.Now().Unix() },
		maxReserves:    32,
		maxNfts:        255,
		minBidDeltaBps: defaultMinBidDeltaBps,
	}
}

func (p *Pool) SetOracle(oracle PriceOracle)             { p.oracle = oracle }
func (p *Pool) SetReceiptLedger(ledger ReceiptLedger)    { p.receipts = ledger }
func (p *Pool) SetDebtLedger(ledger DebtLedger)          { p.debts = ledger }
func (p *Pool) SetCollateralCustody(c CollateralCustody) { p.custody = c }
func (p *Pool) SetEventSink(sink EventSink)              { p.sink = sink }
func (p *Pool) SetPauses(view common.PauseView)          { p.pauses = view }

// SetNowFunc overrides the clock. Nil restores the wall clock.
func (p *Pool) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	p.nowFn = now
}

// SetRateModel swaps the interest rate model. Nil freezes the current rates.
func (p *Pool) SetRateModel(model InterestRateModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// SetPaused flips the pool-local pause switch.
func (p *Pool) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *Pool) SetMaxReserves(limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxReserves = limit
}

func (p *Pool) SetMaxNfts(limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxNfts = limit
}

// SetMinBidDelta sets the minimum rebid increment in basis points of the
// standing bid.
func (p *Pool) SetMinBidDelta(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minBidDeltaBps = bps
}

func (p *Pool) now() int64 { return p.nowFn() }

func (p *Pool) guard() error {
	if p.state == nil {
		return ErrNilState
	}
	if p.paused {
		return common.ErrModulePaused
	}
	return common.Guard(p.pauses, ModuleName)
}

func (p *Pool) requireLedgers() error {
	if p.receipts == nil || p.debts == nil {
		return ErrNilLedger
	}
	return nil
}

func (p *Pool) loadReserve(asset string) (*ReserveData, error) {
	reserve, err := p.state.Reserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotRegistered
	}
	reserve.ensureDefaults()
	return reserve, nil
}

func (p *Pool) loadNft(asset string) (*NftData, error) {
	nft, err := p.state.Nft(asset)
	if err != nil {
		return nil, err
	}
	if nft == nil {
		return nil, ErrNftNotRegistered
	}
	return nft, nil
}

func (p *Pool) openLoan(nftAsset string, tokenID uint64) (*LoanData, error) {
	id, err := p.state.OpenLoanID(nftAsset, tokenID)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	loan, err := p.state.Loan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// collateralValue prices one unit of the collateral class in reserve base
// units using the shared oracle.
func (p *Pool) collateralValue(nftAsset string, reserve *ReserveData) (*big.Int, error) {
	if p.oracle == nil {
		return nil, ErrOracleUnavailable
	}
	nftPrice, err := p.oracle.PriceOf(nftAsset)
	if err != nil {
		return nil, ErrOracleUnavailable
	}
	reservePrice, err := p.oracle.PriceOf(reserve.Asset)
	if err != nil {
		return nil, ErrOracleUnavailable
	}
	return collateralValueInReserve(nftPrice, reservePrice, reserve.Config.Decimals())
}

// stageBorrowerAdd and stageBorrowerRemove rewrite a borrower's open-loan list
// into the changeset as a full replacement.
func (p *Pool) stageBorrowerAdd(cs *Changeset, borrower crypto.Address, loanID uint64) error {
	ids, err := p.state.OpenLoanIDsOf(borrower)
	if err != nil {
		return err
	}
	cs.Borrowers[string(borrower.Bytes())] = append(ids, loanID)
	return nil
}

func (p *Pool) stageBorrowerRemove(cs *Changeset, borrower crypto.Address, loanID uint64) error {
	ids, err := p.state.OpenLoanIDsOf(borrower)
	if err != nil {
		return err
	}
	cs.Borrowers[string(borrower.Bytes())] = removeLoanID(ids, loanID)
	return nil
}

// loanScaledDebt converts the loan's projected debt back into scaled units at
// the supplied index so the reserve totals can be reduced.
func loanScaledDebt(debt, borrowIndex *big.Int) (*big.Int, error) {
	return rayDiv(debt, borrowIndex)
}

func subScaledClamped(total, scaled *big.Int) *big.Int {
	out := new(big.Int).Sub(total, scaled)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// --- Registration and configuration ---

// RegisterReserve adds a fungible reserve. The configuration carries the risk
// parameters, decimals and flags; the receipt and debt token names bind the
// reserve to its external ledgers.
func (p *Pool) RegisterReserve(asset, receiptToken, debtToken string, cfg ReserveConfiguration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return err
	}
	if asset == "" {
		return ErrInvalidAmount
	}
	existing, err := p.state.Reserve(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRegistered
	}
	list, err := p.state.ReserveList()
	if err != nil {
		return err
	}
	if p.maxReserves > 0 && len(list) >= p.maxReserves {
		return ErrRegistryFull
	}
	reserve := &ReserveData{
		Asset:               asset,
		ID:                  uint8(len(list)),
		Config:              cfg.Clone(),
		LastUpdateTimestamp: p.now(),
		ReceiptToken:        receiptToken,
		DebtToken:           debtToken,
	}
	reserve.ensureDefaults()
	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	return p.state.Apply(cs)
}

// RegisterNft adds a collateral asset class backed by the named custody.
func (p *Pool) RegisterNft(asset, custody string, cfg NftConfiguration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return err
	}
	if asset == "" {
		return ErrInvalidAmount
	}
	existing, err := p.state.Nft(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRegistered
	}
	list, err := p.state.NftList()
	if err != nil {
		return err
	}
	if p.maxNfts > 0 && len(list) >= p.maxNfts {
		return ErrRegistryFull
	}
	cs := NewChangeset()
	cs.Nfts[asset] = &NftData{
		Asset:   asset,
		ID:      uint8(len(list)),
		Config:  cfg.Clone(),
		Custody: custody,
	}
	return p.state.Apply(cs)
}

// SetReserveConfiguration replaces a reserve's configuration bitset.
func (p *Pool) SetReserveConfiguration(asset string, cfg ReserveConfiguration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	reserve.Config = cfg.Clone()
	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	return p.state.Apply(cs)
}

// SetNftConfiguration replaces a collateral class's configuration bitset.
func (p *Pool) SetNftConfiguration(asset string, cfg NftConfiguration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return ErrNilState
	}
	nft, err := p.loadNft(asset)
	if err != nil {
		return err
	}
	nft.Config = cfg.Clone()
	cs := NewChangeset()
	cs.Nfts[asset] = nft
	return p.state.Apply(cs)
}

// SetBorrowCap bounds aggregate reserve debt. Nil or zero removes the cap.
func (p *Pool) SetBorrowCap(asset string, cap *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	if cap == nil || cap.Sign() <= 0 {
		reserve.BorrowCap = nil
	} else {
		reserve.BorrowCap = new(big.Int).Set(cap)
	}
	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	return p.state.Apply(cs)
}

// SetUtilisationCap bounds reserve debt relative to total liquidity. Zero
// removes the cap.
func (p *Pool) SetUtilisationCap(asset string, bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	reserve.UtilisationCapBps = bps
	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	return p.state.Apply(cs)
}

// --- Supply side ---

// Deposit pulls amount of the reserve asset from the caller and mints receipt
// tokens to onBehalfOf at the current liquidity index.
func (p *Pool) Deposit(caller, onBehalfOf crypto.Address, asset string, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return err
	}
	if err := p.requireLedgers(); err != nil {
		return err
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	if err := validateDeposit(reserve, amount); err != nil {
		return err
	}
	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return err
	}

	scaled, err := rayDiv(amount, reserve.LiquidityIndex)
	if err != nil {
		return err
	}
	if scaled.Sign() == 0 {
		return ErrInvalidAmount
	}
	reserve.TotalScaledLiquidity = new(big.Int).Add(reserve.TotalScaledLiquidity, scaled)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return err
	}

	if err := p.receipts.TransferUnderlyingFrom(asset, caller, amount); err != nil {
		return err
	}
	if err := p.receipts.Mint(asset, onBehalfOf, amount, reserve.LiquidityIndex); err != nil {
		return err
	}

	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	if err := p.state.Apply(cs); err != nil {
		return err
	}
	if p.sink != nil {
		p.sink.Emit(NewDepositEvent(asset, caller, onBehalfOf, amount))
	}
	return nil
}

// Withdraw burns the caller's receipt tokens and releases underlying to the
// receiver. Passing MaxWithdrawAmount withdraws the caller's full balance.
func (p *Pool) Withdraw(caller, to crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	if err := p.requireLedgers(); err != nil {
		return nil, err
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return nil, err
	}

	scaledBalance, err := p.receipts.BalanceOf(asset, caller)
	if err != nil {
		return nil, err
	}
	balance, err := rayMul(scaledBalance, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}

	var scaledBurn *big.Int
	if amount != nil && amount.Cmp(maxUint256) == 0 {
		// Full exit burns the exact scaled balance so no dust remains.
		amount = balance
		scaledBurn = new(big.Int).Set(scaledBalance)
	} else {
		scaledBurn, err = rayDiv(amount, reserve.LiquidityIndex)
		if err != nil {
			return nil, err
		}
		if scaledBurn.Cmp(scaledBalance) > 0 {
			scaledBurn = new(big.Int).Set(scaledBalance)
		}
	}

	available, err := reserve.AvailableLiquidity()
	if err != nil {
		return nil, err
	}
	if err := validateWithdraw(reserve, amount, balance, available); err != nil {
		return nil, err
	}

	reserve.TotalScaledLiquidity = subScaledClamped(reserve.TotalScaledLiquidity, scaledBurn)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return nil, err
	}

	if err := p.receipts.Burn(asset, caller, to, amount, reserve.LiquidityIndex); err != nil {
		return nil, err
	}

	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	if err := p.state.Apply(cs); err != nil {
		return nil, err
	}
	if p.sink != nil {
		p.sink.Emit(NewWithdrawEvent(asset, caller, to, amount))
	}
	return amount, nil
}

// CollectTreasury mints the accumulated reserve-factor share as receipt
// tokens to the treasury address and resets the accumulator.
func (p *Pool) CollectTreasury(asset string, to crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	if err := p.requireLedgers(); err != nil {
		return nil, err
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := accrueReserve(reserve, p.now()); err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(reserve.TreasuryAccrued)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	scaled, err := rayDiv(amount, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	reserve.TotalScaledLiquidity = new(big.Int).Add(reserve.TotalScaledLiquidity, scaled)
	reserve.TreasuryAccrued = big.NewInt(0)

	if err := p.receipts.Mint(asset, to, amount, reserve.LiquidityIndex); err != nil {
		return nil, err
	}

	cs := NewChangeset()
	cs.Reserves[asset] = reserve
	if err := p.state.Apply(cs); err != nil {
		return nil, err
	}
	return amount, nil
}

// --- Borrow side ---

// Borrow draws amount of the reserve asset against the given collateral
// token. The first borrow locks the token in custody and opens a loan; later
// borrows against the same token fold into the existing loan.
func (p *Pool) Borrow(caller crypto.Address, asset string, amount *big.Int, nftAsset string, tokenID uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return 0, err
	}
	if err := p.requireLedgers(); err != nil {
		return 0, err
	}
	if p.custody == nil {
		return 0, ErrNilLedger
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return 0, err
	}
	nft, err := p.loadNft(nftAsset)
	if err != nil {
		return 0, err
	}
	loan, err := p.openLoan(nftAsset, tokenID)
	if err != nil {
		return 0, err
	}
	if loan != nil {
		if !loan.Borrower.Equal(caller) {
			return 0, ErrLoanAlreadyOpen
		}
		if loan.ReserveAsset != asset {
			return 0, ErrLoanAlreadyOpen
		}
	}

	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return 0, err
	}

	collateral, err := p.collateralValue(nftAsset, reserve)
	if err != nil {
		return 0, err
	}
	currentDebt := big.NewInt(0)
	if loan != nil {
		currentDebt, err = loanDebtValue(loan, reserve.VariableBorrowIndex)
		if err != nil {
			return 0, err
		}
	}
	if err := validateBorrow(borrowCheck{
		Reserve:         reserve,
		Nft:             nft,
		Loan:            loan,
		Amount:          amount,
		CollateralValue: collateral,
		CurrentDebt:     currentDebt,
	}); err != nil {
		return 0, err
	}
	available, err := reserve.AvailableLiquidity()
	if err != nil {
		return 0, err
	}
	if available.Cmp(amount) < 0 {
		return 0, ErrInsufficientLiquidity
	}

	cs := NewChangeset()
	opened := loan == nil
	if opened {
		id, err := p.state.NextLoanID()
		if err != nil {
			return 0, err
		}
		if err := p.custody.TransferIn(nftAsset, tokenID, caller); err != nil {
			return 0, err
		}
		loan = newLoan(id, caller, nftAsset, tokenID, asset, amount, reserve.VariableBorrowIndex, now)
		cs.TokenIndex[TokenKey{NftAsset: nftAsset, TokenID: tokenID}] = id
		cs.NextLoanID = id + 1
		if err := p.stageBorrowerAdd(cs, caller, id); err != nil {
			return 0, err
		}
	} else {
		if err := loan.applyBorrow(amount, reserve.VariableBorrowIndex, now); err != nil {
			return 0, err
		}
	}

	scaled, err := rayDiv(amount, reserve.VariableBorrowIndex)
	if err != nil {
		return 0, err
	}
	reserve.TotalScaledDebt = new(big.Int).Add(reserve.TotalScaledDebt, scaled)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return 0, err
	}

	if err := p.debts.Mint(asset, caller, amount, reserve.VariableBorrowIndex); err != nil {
		return 0, err
	}
	if err := p.receipts.TransferUnderlyingTo(asset, caller, amount); err != nil {
		return 0, err
	}

	cs.Reserves[asset] = reserve
	cs.Loans[loan.LoanID] = loan
	if err := p.state.Apply(cs); err != nil {
		return 0, err
	}
	if p.sink != nil {
		p.sink.Emit(NewBorrowEvent(loan, caller, amount))
	}
	return loan.LoanID, nil
}

// Repay pays down the loan. Overpayment is clamped to the outstanding debt;
// repaying in full closes the loan and returns the collateral to the
// borrower. Anyone may repay on a borrower's behalf.
func (p *Pool) Repay(caller crypto.Address, loanID uint64, amount *big.Int) (*big.Int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, false, err
	}
	if err := p.requireLedgers(); err != nil {
		return nil, false, err
	}
	if p.custody == nil {
		return nil, false, ErrNilLedger
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return nil, false, err
	}
	if err := validateRepay(loan, amount); err != nil {
		return nil, false, err
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return nil, false, err
	}
	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return nil, false, err
	}

	repaid, closed, err := loan.applyRepay(amount, reserve.VariableBorrowIndex, now)
	if err != nil {
		return nil, false, err
	}

	scaled, err := loanScaledDebt(repaid, reserve.VariableBorrowIndex)
	if err != nil {
		return nil, false, err
	}
	reserve.TotalScaledDebt = subScaledClamped(reserve.TotalScaledDebt, scaled)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return nil, false, err
	}

	if err := p.receipts.TransferUnderlyingFrom(loan.ReserveAsset, caller, repaid); err != nil {
		return nil, false, err
	}
	if err := p.debts.Burn(loan.ReserveAsset, loan.Borrower, repaid, reserve.VariableBorrowIndex); err != nil {
		return nil, false, err
	}

	cs := NewChangeset()
	if closed {
		if err := p.custody.TransferOut(loan.NftAsset, loan.NftTokenID, loan.Borrower); err != nil {
			return nil, false, err
		}
		cs.TokenIndex[TokenKey{NftAsset: loan.NftAsset, TokenID: loan.NftTokenID}] = 0
		if err := p.stageBorrowerRemove(cs, loan.Borrower, loan.LoanID); err != nil {
			return nil, false, err
		}
	}
	cs.Reserves[loan.ReserveAsset] = reserve
	cs.Loans[loan.LoanID] = loan
	if err := p.state.Apply(cs); err != nil {
		return nil, false, err
	}
	if p.sink != nil {
		p.sink.Emit(NewRepayEvent(loan, caller, repaid))
	}
	return repaid, closed, nil
}

// --- Auction path ---

// Bid opens or supersedes the liquidation auction on an unhealthy loan. The
// first bid requires the health factor below 1 and a price at or above the
// liquidation floor; later bids must beat the standing bid by the configured
// increment. The bid amount is escrowed; a superseded bidder is refunded in
// the same operation.
func (p *Pool) Bid(caller crypto.Address, loanID uint64, price *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return err
	}
	if err := p.requireLedgers(); err != nil {
		return err
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return ErrLoanNotFound
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return err
	}
	nft, err := p.loadNft(loan.NftAsset)
	if err != nil {
		return err
	}
	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return err
	}

	if loan.State == LoanActive {
		debt, err := loanDebtValue(loan, reserve.VariableBorrowIndex)
		if err != nil {
			return err
		}
		collateral, err := p.collateralValue(loan.NftAsset, reserve)
		if err != nil {
			return err
		}
		hf, err := healthFactor(collateral, debt, effectiveLiqThreshold(nft, reserve))
		if err != nil {
			return err
		}
		fine, err := loanBidFine(debt, nft.Config.RedeemFine())
		if err != nil {
			return err
		}
		floor, err := loanLiquidatePrice(collateral, debt, fine, effectiveLiqBonus(nft, reserve))
		if err != nil {
			return err
		}
		if err := validateFirstBid(loan, price, floor, hf); err != nil {
			return err
		}
		if err := p.receipts.TransferUnderlyingFrom(loan.ReserveAsset, caller, price); err != nil {
			return err
		}
		if err := loan.startAuction(caller, price, debt, fine, now); err != nil {
			return err
		}
	} else {
		window := int64(nft.Config.AuctionDurationHours()) * 3600
		if err := validateRebid(loan, price, p.minBidDeltaBps, now, window); err != nil {
			return err
		}
		previousBidder := loan.Bidder
		previousPrice := new(big.Int).Set(loan.BidPrice)
		if err := p.receipts.TransferUnderlyingFrom(loan.ReserveAsset, caller, price); err != nil {
			return err
		}
		if err := p.receipts.TransferUnderlyingTo(loan.ReserveAsset, previousBidder, previousPrice); err != nil {
			return err
		}
		if err := loan.replaceBid(caller, price, now); err != nil {
			return err
		}
	}

	cs := NewChangeset()
	cs.Reserves[loan.ReserveAsset] = reserve
	cs.Loans[loan.LoanID] = loan
	if err := p.state.Apply(cs); err != nil {
		return err
	}
	if p.sink != nil {
		p.sink.Emit(NewAuctionEvent(loan, caller))
	}
	return nil
}

// Redeem settles an auctioned loan before the redeem window closes. The payoff
// is the borrow amount frozen at auction start plus the bid fine; the fine and
// the escrowed bid are returned to the standing bidder and the collateral goes
// back to the borrower. Anyone may redeem on the borrower's behalf.
func (p *Pool) Redeem(caller crypto.Address, loanID uint64, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	if err := p.requireLedgers(); err != nil {
		return nil, err
	}
	if p.custody == nil {
		return nil, ErrNilLedger
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return nil, err
	}
	nft, err := p.loadNft(loan.NftAsset)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if err := accrueReserve(reserve, now); err != nil {
		return nil, err
	}

	payoff := new(big.Int).Add(loan.BidBorrowAmount, loan.BidFine)
	if err := validateRedeem(loan, amount, payoff, now, loan.redeemWindowEnd(nft)); err != nil {
		return nil, err
	}

	currentDebt, err := loanDebtValue(loan, reserve.VariableBorrowIndex)
	if err != nil {
		return nil, err
	}
	scaled, err := loanScaledDebt(currentDebt, reserve.VariableBorrowIndex)
	if err != nil {
		return nil, err
	}
	reserve.TotalScaledDebt = subScaledClamped(reserve.TotalScaledDebt, scaled)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return nil, err
	}

	bidder := loan.Bidder
	bidRefund := new(big.Int).Add(loan.BidPrice, loan.BidFine)

	if err := p.receipts.TransferUnderlyingFrom(loan.ReserveAsset, caller, payoff); err != nil {
		return nil, err
	}
	if err := p.receipts.TransferUnderlyingTo(loan.ReserveAsset, bidder, bidRefund); err != nil {
		return nil, err
	}
	if err := p.debts.Burn(loan.ReserveAsset, loan.Borrower, currentDebt, reserve.VariableBorrowIndex); err != nil {
		return nil, err
	}
	if err := p.custody.TransferOut(loan.NftAsset, loan.NftTokenID, loan.Borrower); err != nil {
		return nil, err
	}

	if err := loan.close(LoanRedeemed, now); err != nil {
		return nil, err
	}

	cs := NewChangeset()
	cs.Reserves[loan.ReserveAsset] = reserve
	cs.Loans[loan.LoanID] = loan
	cs.TokenIndex[TokenKey{NftAsset: loan.NftAsset, TokenID: loan.NftTokenID}] = 0
	if err := p.stageBorrowerRemove(cs, loan.Borrower, loan.LoanID); err != nil {
		return nil, err
	}
	if err := p.state.Apply(cs); err != nil {
		return nil, err
	}
	if p.sink != nil {
		p.sink.Emit(NewRedeemEvent(loan, caller, payoff))
	}
	return payoff, nil
}

// Liquidate settles an auctioned loan after both the redeem and auction
// windows have elapsed. The collateral goes to the standing bidder; if the bid
// does not cover the frozen borrow amount the caller pays the shortfall, and
// any excess over the debt is remitted to the borrower.
func (p *Pool) Liquidate(caller crypto.Address, loanID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return err
	}
	if err := p.requireLedgers(); err != nil {
		return err
	}
	if p.custody == nil {
		return ErrNilLedger
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return ErrLoanNotFound
	}
	nft, err := p.loadNft(loan.NftAsset)
	if err != nil {
		return err
	}
	now := p.now()
	if err := validateLiquidate(loan, now, loan.liquidationEligibleAt(nft)); err != nil {
		return err
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return err
	}
	if err := accrueReserve(reserve, now); err != nil {
		return err
	}

	debt := new(big.Int).Set(loan.BidBorrowAmount)
	shortfall := new(big.Int).Sub(debt, loan.BidPrice)
	surplus := new(big.Int).Sub(loan.BidPrice, debt)

	currentDebt, err := loanDebtValue(loan, reserve.VariableBorrowIndex)
	if err != nil {
		return err
	}
	scaled, err := loanScaledDebt(currentDebt, reserve.VariableBorrowIndex)
	if err != nil {
		return err
	}
	reserve.TotalScaledDebt = subScaledClamped(reserve.TotalScaledDebt, scaled)
	if err := refreshReserveRates(reserve, p.model, nil, nil); err != nil {
		return err
	}

	if shortfall.Sign() > 0 {
		if err := p.receipts.TransferUnderlyingFrom(loan.ReserveAsset, caller, shortfall); err != nil {
			return err
		}
	}
	if surplus.Sign() > 0 {
		if err := p.receipts.TransferUnderlyingTo(loan.ReserveAsset, loan.Borrower, surplus); err != nil {
			return err
		}
	}
	if err := p.debts.Burn(loan.ReserveAsset, loan.Borrower, currentDebt, reserve.VariableBorrowIndex); err != nil {
		return err
	}
	if err := p.custody.TransferOut(loan.NftAsset, loan.NftTokenID, loan.Bidder); err != nil {
		return err
	}

	if err := loan.close(LoanLiquidated, now); err != nil {
		return err
	}

	cs := NewChangeset()
	cs.Reserves[loan.ReserveAsset] = reserve
	cs.Loans[loan.LoanID] = loan
	cs.TokenIndex[TokenKey{NftAsset: loan.NftAsset, TokenID: loan.NftTokenID}] = 0
	if err := p.stageBorrowerRemove(cs, loan.Borrower, loan.LoanID); err != nil {
		return err
	}
	if err := p.state.Apply(cs); err != nil {
		return err
	}
	if p.sink != nil {
		if surplus.Sign() < 0 {
			surplus.SetInt64(0)
		}
		p.sink.Emit(NewLiquidateEvent(loan, caller, debt, surplus))
	}
	return nil
}

// --- Hooks ---

// ValidateReceiptTransfer gates receipt-token transfers initiated on the
// external ledger: the reserve must not be frozen and the sender must hold
// enough balance at the current index.
func (p *Pool) ValidateReceiptTransfer(asset string, from crypto.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return ErrNilState
	}
	if err := p.requireLedgers(); err != nil {
		return err
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return err
	}
	if err := validateReceiptTransfer(reserve, amount); err != nil {
		return err
	}
	scaledBalance, err := p.receipts.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	index, err := reserve.NormalizedIncome(p.now())
	if err != nil {
		return err
	}
	balance, err := rayMul(scaledBalance, index)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// --- Queries ---

// Reserve returns a copy of the reserve record, nil when unregistered.
func (p *Pool) Reserve(asset string) (*ReserveData, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.Reserve(asset)
}

// Reserves lists the registered reserve assets in sorted order.
func (p *Pool) Reserves() ([]string, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.ReserveList()
}

// Nft returns a copy of the collateral class record, nil when unregistered.
func (p *Pool) Nft(asset string) (*NftData, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.Nft(asset)
}

// Nfts lists the registered collateral assets in sorted order.
func (p *Pool) Nfts() ([]string, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.NftList()
}

// Loan returns a copy of the loan record, nil when absent.
func (p *Pool) Loan(id uint64) (*LoanData, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.Loan(id)
}

// LoanByToken resolves the open loan backing a collateral token, nil when the
// token backs no open loan.
func (p *Pool) LoanByToken(nftAsset string, tokenID uint64) (*LoanData, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.openLoan(nftAsset, tokenID)
}

// LoansOf lists a borrower's open loan ids.
func (p *Pool) LoansOf(borrower crypto.Address) ([]uint64, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	return p.state.OpenLoanIDsOf(borrower)
}

// NormalizedIncome projects the reserve's liquidity index as of now.
func (p *Pool) NormalizedIncome(asset string) (*big.Int, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedIncome(p.now())
}

// NormalizedDebt projects the reserve's variable borrow index as of now.
func (p *Pool) NormalizedDebt(asset string) (*big.Int, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedDebt(p.now())
}

// LoanDebt projects the loan's outstanding debt as of now without persisting
// the accrual.
func (p *Pool) LoanDebt(loanID uint64) (*big.Int, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.State.Terminal() {
		return big.NewInt(0), nil
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return nil, err
	}
	index, err := reserve.NormalizedDebt(p.now())
	if err != nil {
		return nil, err
	}
	return loanDebtValue(loan, index)
}

// LoanHealthFactor projects the loan's health factor as of now. Debt-free and
// terminal loans report the max sentinel.
func (p *Pool) LoanHealthFactor(loanID uint64) (*big.Int, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.State.Terminal() {
		return new(big.Int).Set(maxUint256), nil
	}
	reserve, err := p.loadReserve(loan.ReserveAsset)
	if err != nil {
		return nil, err
	}
	nft, err := p.loadNft(loan.NftAsset)
	if err != nil {
		return nil, err
	}
	index, err := reserve.NormalizedDebt(p.now())
	if err != nil {
		return nil, err
	}
	debt, err := loanDebtValue(loan, index)
	if err != nil {
		return nil, err
	}
	collateral, err := p.collateralValue(loan.NftAsset, reserve)
	if err != nil {
		return nil, err
	}
	return healthFactor(collateral, debt, effectiveLiqThreshold(nft, reserve))
}

// AvailableBorrows projects the additional amount that can be drawn against a
// collateral token at current prices.
func (p *Pool) AvailableBorrows(asset, nftAsset string, tokenID uint64) (*big.Int, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	reserve, err := p.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	nft, err := p.loadNft(nftAsset)
	if err != nil {
		return nil, err
	}
	collateral, err := p.collateralValue(nftAsset, reserve)
	if err != nil {
		return nil, err
	}
	debt := big.NewInt(0)
	loan, err := p.openLoan(nftAsset, tokenID)
	if err != nil {
		return nil, err
	}
	if loan != nil {
		index, err := reserve.NormalizedDebt(p.now())
		if err != nil {
			return nil, err
		}
		debt, err = loanDebtValue(loan, index)
		if err != nil {
			return nil, err
		}
	}
	return availableBorrows(collateral, debt, effectiveLTV(nft, reserve))
}

// AuctionStatus summarises an in-flight auction for callers deciding whether
// to rebid, redeem or liquidate.
type AuctionStatus struct {
	LoanID                uint64
	Bidder                crypto.Address
	BidPrice              *big.Int
	RedeemPayoff          *big.Int
	RedeemWindowEnd       int64
	LiquidationEligibleAt int64
}

// Auction returns the auction status of a loan. ErrLoanNotInAuction when the
// loan is not being auctioned.
func (p *Pool) Auction(loanID uint64) (*AuctionStatus, error) {
	if p.state == nil {
		return nil, ErrNilState
	}
	loan, err := p.state.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.State != LoanAuction {
		return nil, ErrLoanNotInAuction
	}
	nft, err := p.loadNft(loan.NftAsset)
	if err != nil {
		return nil, err
	}
	return &AuctionStatus{
		LoanID:                loan.LoanID,
		Bidder:                loan.Bidder,
		BidPrice:              new(big.Int).Set(loan.BidPrice),
		RedeemPayoff:          new(big.Int).Add(loan.BidBorrowAmount, loan.BidFine),
		RedeemWindowEnd:       loan.redeemWindowEnd(nft),
		LiquidationEligibleAt: loan.liquidationEligibleAt(nft),
	}, nil
}
