package lend

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/native/common"
	"nftlend/native/ledger"
)

type poolHarness struct {
	pool     *Pool
	state    *MemState
	oracle   *ledger.StaticOracle
	receipts *ledger.ReceiptBank
	debts    *ledger.DebtBook
	vault    *ledger.Vault
	events   []*types.Event
	clock    int64
}

func (h *poolHarness) Emit(evt *types.Event) {
	h.events = append(h.events, evt)
}

func (h *poolHarness) advance(seconds int64) {
	h.clock += seconds
}

const (
	reserveAsset = "usd"
	nftAsset     = "punks"
)

// newPoolHarness wires a pool over in-memory state with a 0-decimal reserve
// priced 1:1 against the numeraire and a collateral class priced at 100.
func newPoolHarness(t *testing.T) *poolHarness {
	t.Helper()
	h := &poolHarness{
		state:    NewMemState(),
		oracle:   ledger.NewStaticOracle(),
		receipts: ledger.NewReceiptBank(),
		debts:    ledger.NewDebtBook(),
		vault:    ledger.NewVault(),
		clock:    1_000,
	}
	h.pool = NewPool(h.state)
	h.pool.SetOracle(h.oracle)
	h.pool.SetReceiptLedger(h.receipts)
	h.pool.SetDebtLedger(h.debts)
	h.pool.SetCollateralCustody(h.vault)
	h.pool.SetEventSink(h)
	h.pool.SetNowFunc(func() int64 { return h.clock })

	h.oracle.SetPrice(reserveAsset, big.NewInt(1))
	h.oracle.SetPrice(nftAsset, big.NewInt(100))

	var rc ReserveConfiguration
	rc.SetLTV(4_000)
	rc.SetLiqThreshold(7_000)
	rc.SetLiqBonus(500)
	rc.SetDecimals(0)
	rc.SetActive(true)
	rc.SetBorrowingEnabled(true)
	if err := h.pool.RegisterReserve(reserveAsset, "rUSD", "dUSD", rc); err != nil {
		t.Fatalf("register reserve: %v", err)
	}

	var nc NftConfiguration
	nc.SetRedeemDurationHours(24)
	nc.SetAuctionDurationHours(48)
	nc.SetRedeemFine(500)
	nc.SetActive(true)
	if err := h.pool.RegisterNft(nftAsset, "vault", nc); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	return h
}

func (h *poolHarness) fund(addr crypto.Address, amount int64) {
	h.receipts.Fund(reserveAsset, addr, big.NewInt(amount))
}

func (h *poolHarness) lastEvent(t *testing.T) *types.Event {
	t.Helper()
	if len(h.events) == 0 {
		t.Fatal("no events emitted")
	}
	return h.events[len(h.events)-1]
}

func TestPoolRegisterDuplicate(t *testing.T) {
	h := newPoolHarness(t)
	var rc ReserveConfiguration
	rc.SetActive(true)
	if err := h.pool.RegisterReserve(reserveAsset, "r", "d", rc); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate reserve: %v", err)
	}
	var nc NftConfiguration
	nc.SetActive(true)
	if err := h.pool.RegisterNft(nftAsset, "vault", nc); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate collateral: %v", err)
	}
}

func TestPoolRegistryCapacity(t *testing.T) {
	h := newPoolHarness(t)
	h.pool.SetMaxReserves(1)
	var rc ReserveConfiguration
	rc.SetActive(true)
	if err := h.pool.RegisterReserve("eur", "rEUR", "dEUR", rc); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected registry full, got %v", err)
	}
}

func TestPoolDepositAndWithdrawExactAmount(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddress(1)
	h.fund(alice, 1_000)

	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := h.receipts.CashOf(reserveAsset, alice); got.Sign() != 0 {
		t.Fatalf("cash after deposit: %s", got)
	}
	if got := h.receipts.EscrowOf(reserveAsset); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("escrow after deposit: %s", got)
	}
	if evt := h.lastEvent(t); evt.Type != EventTypeDeposit {
		t.Fatalf("event type: %s", evt.Type)
	}

	withdrawn, err := h.pool.Withdraw(alice, alice, reserveAsset, big.NewInt(400))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("withdrawn: %s", withdrawn)
	}
	if got := h.receipts.CashOf(reserveAsset, alice); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("cash after withdraw: %s", got)
	}

	// The max sentinel drains the remaining balance exactly.
	withdrawn, err = h.pool.Withdraw(alice, alice, reserveAsset, MaxWithdrawAmount())
	if err != nil {
		t.Fatalf("withdraw max: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("max withdraw amount: %s", withdrawn)
	}
	scaled, err := h.receipts.BalanceOf(reserveAsset, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if scaled.Sign() != 0 {
		t.Fatalf("scaled balance after full exit: %s", scaled)
	}
	if got := h.receipts.CashOf(reserveAsset, alice); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("cash after full exit: %s", got)
	}
}

func TestPoolWithdrawRejectsOverdraw(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddress(1)
	h.fund(alice, 100)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.pool.Withdraw(alice, alice, reserveAsset, big.NewInt(200)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: %v", err)
	}
}

func setupFundedMarket(t *testing.T, h *poolHarness) (lender, borrower crypto.Address) {
	t.Helper()
	lender = testAddress(1)
	borrower = testAddress(2)
	h.fund(lender, 1_000)
	if err := h.pool.Deposit(lender, lender, reserveAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	h.vault.SetOwner(nftAsset, 7, borrower)
	return lender, borrower
}

func TestPoolBorrowRepayLifecycle(t *testing.T) {
	h := newPoolHarness(t)
	_, borrower := setupFundedMarket(t, h)

	loanID, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(30), nftAsset, 7)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if loanID != 1 {
		t.Fatalf("first loan id: %d", loanID)
	}
	if got := h.receipts.CashOf(reserveAsset, borrower); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("borrower cash: %s", got)
	}
	if _, held := h.vault.OwnerOf(nftAsset, 7); !held {
		t.Fatal("collateral not locked")
	}
	openID, err := h.state.OpenLoanID(nftAsset, 7)
	if err != nil || openID != loanID {
		t.Fatalf("token index: %d %v", openID, err)
	}
	ids, err := h.pool.LoansOf(borrower)
	if err != nil || len(ids) != 1 || ids[0] != loanID {
		t.Fatalf("borrower loans: %v %v", ids, err)
	}

	// Second drawdown folds into the same loan.
	again, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(10), nftAsset, 7)
	if err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	if again != loanID {
		t.Fatalf("expected same loan id, got %d", again)
	}
	debt, err := h.pool.LoanDebt(loanID)
	if err != nil {
		t.Fatalf("loan debt: %v", err)
	}
	if debt.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("debt after two draws: %s", debt)
	}

	repaid, closed, err := h.pool.Repay(borrower, loanID, big.NewInt(15))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if closed || repaid.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("partial repay: repaid=%s closed=%v", repaid, closed)
	}

	repaid, closed, err = h.pool.Repay(borrower, loanID, big.NewInt(100))
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if !closed || repaid.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("full repay: repaid=%s closed=%v", repaid, closed)
	}
	owner, held := h.vault.OwnerOf(nftAsset, 7)
	if held || !owner.Equal(borrower) {
		t.Fatal("collateral not returned on full repay")
	}
	openID, err = h.state.OpenLoanID(nftAsset, 7)
	if err != nil || openID != 0 {
		t.Fatalf("token index after close: %d %v", openID, err)
	}
	loan, err := h.pool.Loan(loanID)
	if err != nil || loan.State != LoanRepaid {
		t.Fatalf("loan state after close: %+v %v", loan, err)
	}
	ids, err = h.pool.LoansOf(borrower)
	if err != nil || len(ids) != 0 {
		t.Fatalf("borrower loans after close: %v %v", ids, err)
	}
}

func TestPoolBorrowEnforcesLimits(t *testing.T) {
	h := newPoolHarness(t)
	_, borrower := setupFundedMarket(t, h)

	// LTV 40% of a collateral worth 100 caps the draw at 40.
	if _, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(41), nftAsset, 7); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("borrow above ltv: %v", err)
	}

	// A stranger cannot draw against someone else's locked collateral.
	if _, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(40), nftAsset, 7); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	stranger := testAddress(3)
	if _, err := h.pool.Borrow(stranger, reserveAsset, big.NewInt(1), nftAsset, 7); !errors.Is(err, ErrLoanAlreadyOpen) {
		t.Fatalf("stranger borrow: %v", err)
	}
}

func TestPoolBorrowRespectsBorrowCap(t *testing.T) {
	h := newPoolHarness(t)
	_, borrower := setupFundedMarket(t, h)
	if err := h.pool.SetBorrowCap(reserveAsset, big.NewInt(30)); err != nil {
		t.Fatalf("set borrow cap: %v", err)
	}
	if _, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(40), nftAsset, 7); !errors.Is(err, ErrBorrowCapExceeded) {
		t.Fatalf("borrow above cap: %v", err)
	}
	if _, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(30), nftAsset, 7); err != nil {
		t.Fatalf("borrow at cap: %v", err)
	}
}

// openUnderwaterAuction drives a loan to health factor below one and places
// the opening bid at the liquidation floor.
func openUnderwaterAuction(t *testing.T, h *poolHarness) (borrower, bidder crypto.Address, loanID uint64) {
	t.Helper()
	_, borrower = setupFundedMarket(t, h)
	loanID, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(40), nftAsset, 7)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	bidder = testAddress(5)
	h.fund(bidder, 1_000)

	// Healthy loans cannot be auctioned.
	if err := h.pool.Bid(bidder, loanID, big.NewInt(95)); !errors.Is(err, ErrHealthFactorNotBelow) {
		t.Fatalf("bid on healthy loan: %v", err)
	}

	// Collateral collapses from 100 to 50: hf = 50*0.7/40 < 1.
	h.oracle.SetPrice(nftAsset, big.NewInt(50))

	// Floor is max(50*(1-5%), 40+2) = 47; a lower bid is rejected.
	if err := h.pool.Bid(bidder, loanID, big.NewInt(46)); !errors.Is(err, ErrBidPriceTooLow) {
		t.Fatalf("bid below floor: %v", err)
	}
	if err := h.pool.Bid(bidder, loanID, big.NewInt(47)); err != nil {
		t.Fatalf("opening bid: %v", err)
	}
	return borrower, bidder, loanID
}

func TestPoolAuctionBidAndRebid(t *testing.T) {
	h := newPoolHarness(t)
	_, first, loanID := openUnderwaterAuction(t, h)

	if got := h.receipts.CashOf(reserveAsset, first); got.Cmp(big.NewInt(953)) != 0 {
		t.Fatalf("first bidder cash after escrow: %s", got)
	}
	status, err := h.pool.Auction(loanID)
	if err != nil {
		t.Fatalf("auction status: %v", err)
	}
	if status.BidPrice.Cmp(big.NewInt(47)) != 0 || status.RedeemPayoff.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("auction status: %+v", status)
	}

	// Repay is blocked while the auction runs.
	if _, _, err := h.pool.Repay(testAddress(2), loanID, big.NewInt(42)); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("repay during auction: %v", err)
	}

	second := testAddress(6)
	h.fund(second, 1_000)
	if err := h.pool.Bid(second, loanID, big.NewInt(47)); !errors.Is(err, ErrBidPriceTooLow) {
		t.Fatalf("non-improving rebid: %v", err)
	}
	if err := h.pool.Bid(second, loanID, big.NewInt(48)); err != nil {
		t.Fatalf("rebid: %v", err)
	}

	// The superseded bidder is made whole in the same operation.
	if got := h.receipts.CashOf(reserveAsset, first); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("first bidder refund: %s", got)
	}
	status, err = h.pool.Auction(loanID)
	if err != nil {
		t.Fatalf("auction status: %v", err)
	}
	if !status.Bidder.Equal(second) || status.BidPrice.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("standing bid: %+v", status)
	}
}

func TestPoolRedeemReturnsCollateral(t *testing.T) {
	h := newPoolHarness(t)
	borrower, bidder, loanID := openUnderwaterAuction(t, h)

	// Borrower holds the 40 drawn down; the payoff needs debt plus fine.
	h.fund(borrower, 2)

	if _, err := h.pool.Redeem(borrower, loanID, big.NewInt(41)); !errors.Is(err, ErrRedeemAmountTooLow) {
		t.Fatalf("short redeem: %v", err)
	}
	payoff, err := h.pool.Redeem(borrower, loanID, big.NewInt(42))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payoff.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("payoff: %s", payoff)
	}

	owner, held := h.vault.OwnerOf(nftAsset, 7)
	if held || !owner.Equal(borrower) {
		t.Fatal("collateral not returned to borrower")
	}
	// Bidder recovers the escrowed 47 plus the 2 fine.
	if got := h.receipts.CashOf(reserveAsset, bidder); got.Cmp(big.NewInt(1_002)) != 0 {
		t.Fatalf("bidder cash after redeem: %s", got)
	}
	loan, err := h.pool.Loan(loanID)
	if err != nil || loan.State != LoanRedeemed {
		t.Fatalf("loan state: %+v %v", loan, err)
	}
	if id, _ := h.state.OpenLoanID(nftAsset, 7); id != 0 {
		t.Fatal("token index not cleared on redeem")
	}
	if evt := h.lastEvent(t); evt.Type != EventTypeRedeem {
		t.Fatalf("event type: %s", evt.Type)
	}
}

func TestPoolRedeemWindowCloses(t *testing.T) {
	h := newPoolHarness(t)
	borrower, _, loanID := openUnderwaterAuction(t, h)
	h.fund(borrower, 10)

	h.advance(25 * 3600)
	if _, err := h.pool.Redeem(borrower, loanID, big.NewInt(50)); !errors.Is(err, ErrRedeemWindowClosed) {
		t.Fatalf("redeem after window: %v", err)
	}
}

func TestPoolLiquidateAfterWindows(t *testing.T) {
	h := newPoolHarness(t)
	borrower, bidder, loanID := openUnderwaterAuction(t, h)
	keeper := testAddress(9)

	if err := h.pool.Liquidate(keeper, loanID); !errors.Is(err, ErrRedeemWindowOpen) {
		t.Fatalf("early liquidation: %v", err)
	}

	h.advance(49 * 3600)
	if err := h.pool.Liquidate(keeper, loanID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	owner, held := h.vault.OwnerOf(nftAsset, 7)
	if held || !owner.Equal(bidder) {
		t.Fatal("collateral not delivered to the winning bidder")
	}
	// Bid 47 against a frozen borrow amount of 40 leaves 7 for the borrower.
	if got := h.receipts.CashOf(reserveAsset, borrower); got.Cmp(big.NewInt(47)) != 0 {
		t.Fatalf("borrower surplus: %s", got)
	}
	loan, err := h.pool.Loan(loanID)
	if err != nil || loan.State != LoanLiquidated {
		t.Fatalf("loan state: %+v %v", loan, err)
	}
	if id, _ := h.state.OpenLoanID(nftAsset, 7); id != 0 {
		t.Fatal("token index not cleared on liquidation")
	}
	if evt := h.lastEvent(t); evt.Type != EventTypeLiquidate {
		t.Fatalf("event type: %s", evt.Type)
	}
}

func TestPoolPauseGuard(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddress(1)
	h.fund(alice, 100)

	h.pool.SetPaused(true)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(100)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("deposit while paused: %v", err)
	}
	h.pool.SetPaused(false)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(100)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}

	// The shared pause registry gates the module the same way.
	var pauses common.Pauses
	pauses.Set(ModuleName, true)
	h.pool.SetPauses(&pauses)
	h.fund(alice, 50)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(50)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("deposit with registry pause: %v", err)
	}
	pauses.Set(ModuleName, false)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(50)); err != nil {
		t.Fatalf("deposit after registry unpause: %v", err)
	}
}

func TestPoolFailedOperationLeavesStateUntouched(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddress(1)
	h.fund(alice, 50)

	// Deposit exceeding the funded balance fails at the ledger pull; the
	// committed reserve must not record the attempted liquidity.
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(100)); err == nil {
		t.Fatal("expected deposit failure")
	}
	reserve, err := h.pool.Reserve(reserveAsset)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.TotalScaledLiquidity.Sign() != 0 {
		t.Fatalf("failed deposit leaked into state: %s", reserve.TotalScaledLiquidity)
	}
}

func TestPoolInterestAccruesOverTime(t *testing.T) {
	h := newPoolHarness(t)
	_, borrower := setupFundedMarket(t, h)
	loanID, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(40), nftAsset, 7)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	debtBefore, err := h.pool.LoanDebt(loanID)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	h.advance(secondsPerYear)
	debtAfter, err := h.pool.LoanDebt(loanID)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debtAfter.Cmp(debtBefore) <= 0 {
		t.Fatalf("debt did not accrue: before=%s after=%s", debtBefore, debtAfter)
	}
	index, err := h.pool.NormalizedDebt(reserveAsset)
	if err != nil {
		t.Fatalf("normalized debt: %v", err)
	}
	if index.Cmp(Ray()) <= 0 {
		t.Fatalf("borrow index did not grow: %s", index)
	}
}

func TestPoolValidateReceiptTransfer(t *testing.T) {
	h := newPoolHarness(t)
	alice := testAddress(1)
	h.fund(alice, 100)
	if err := h.pool.Deposit(alice, alice, reserveAsset, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := h.pool.ValidateReceiptTransfer(reserveAsset, alice, big.NewInt(100)); err != nil {
		t.Fatalf("transfer within balance rejected: %v", err)
	}
	if err := h.pool.ValidateReceiptTransfer(reserveAsset, alice, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("transfer above balance: %v", err)
	}

	var frozen ReserveConfiguration
	frozen.SetActive(true)
	frozen.SetFrozen(true)
	if err := h.pool.SetReserveConfiguration(reserveAsset, frozen); err != nil {
		t.Fatalf("freeze reserve: %v", err)
	}
	if err := h.pool.ValidateReceiptTransfer(reserveAsset, alice, big.NewInt(10)); !errors.Is(err, ErrReserveFrozen) {
		t.Fatalf("transfer on frozen reserve: %v", err)
	}
}

func TestPoolCollectTreasury(t *testing.T) {
	h := newPoolHarness(t)

	var rc ReserveConfiguration
	rc.SetLTV(4_000)
	rc.SetLiqThreshold(7_000)
	rc.SetDecimals(0)
	rc.SetReserveFactor(1_000)
	rc.SetActive(true)
	rc.SetBorrowingEnabled(true)
	if err := h.pool.SetReserveConfiguration(reserveAsset, rc); err != nil {
		t.Fatalf("configure reserve factor: %v", err)
	}

	lender := testAddress(1)
	borrower := testAddress(2)
	h.fund(lender, 100_000)
	if err := h.pool.Deposit(lender, lender, reserveAsset, big.NewInt(100_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.vault.SetOwner(nftAsset, 7, borrower)
	h.oracle.SetPrice(nftAsset, big.NewInt(100_000))
	if _, err := h.pool.Borrow(borrower, reserveAsset, big.NewInt(40_000), nftAsset, 7); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	h.advance(secondsPerYear)
	treasury := testAddress(8)
	collected, err := h.pool.CollectTreasury(reserveAsset, treasury)
	if err != nil {
		t.Fatalf("collect treasury: %v", err)
	}
	if collected.Sign() <= 0 {
		t.Fatalf("expected treasury accrual after a year of debt, got %s", collected)
	}
	scaled, err := h.receipts.BalanceOf(reserveAsset, treasury)
	if err != nil || scaled.Sign() <= 0 {
		t.Fatalf("treasury receipt balance: %s %v", scaled, err)
	}
	reserve, err := h.pool.Reserve(reserveAsset)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserve.TreasuryAccrued.Sign() != 0 {
		t.Fatalf("accumulator not reset: %s", reserve.TreasuryAccrued)
	}
}
