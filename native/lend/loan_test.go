package lend

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/crypto"
)

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestNewLoanSnapshot(t *testing.T) {
	borrower := testAddress(1)
	loan := newLoan(7, borrower, "punk", 42, "usd", big.NewInt(100), Ray(), 1_000)
	if loan.State != LoanActive {
		t.Fatalf("new loan state: %v", loan.State)
	}
	if loan.LoanID != 7 || loan.NftTokenID != 42 {
		t.Fatalf("identity fields wrong: %+v", loan)
	}
	if loan.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("principal: %s", loan.Amount)
	}
	if loan.BorrowIndex.Cmp(ray) != 0 {
		t.Fatalf("index snapshot: %s", loan.BorrowIndex)
	}
}

func TestApplyBorrowFoldsAccruedDebt(t *testing.T) {
	loan := newLoan(1, testAddress(1), "punk", 1, "usd", big.NewInt(100), Ray(), 0)
	// Index grew 10% since origination; drawing 50 more folds the accrued
	// interest into the principal and refreshes the snapshot.
	grown := new(big.Int).Add(Ray(), new(big.Int).Quo(ray, big.NewInt(10)))
	if err := loan.applyBorrow(big.NewInt(50), grown, 10); err != nil {
		t.Fatalf("apply borrow: %v", err)
	}
	if loan.Amount.Cmp(big.NewInt(160)) != 0 {
		t.Fatalf("expected principal 110+50=160, got %s", loan.Amount)
	}
	if loan.BorrowIndex.Cmp(grown) != 0 {
		t.Fatal("snapshot not refreshed")
	}
}

func TestApplyRepayPartialAndFull(t *testing.T) {
	loan := newLoan(1, testAddress(1), "punk", 1, "usd", big.NewInt(100), Ray(), 0)

	repaid, closed, err := loan.applyRepay(big.NewInt(40), Ray(), 5)
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if closed || repaid.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("partial repay: repaid=%s closed=%v", repaid, closed)
	}
	if loan.Amount.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("remaining principal: %s", loan.Amount)
	}

	// Overpayment clamps to the outstanding debt and closes the loan.
	repaid, closed, err = loan.applyRepay(big.NewInt(1_000), Ray(), 6)
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if !closed || repaid.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("full repay: repaid=%s closed=%v", repaid, closed)
	}
	if loan.State != LoanRepaid {
		t.Fatalf("state after full repay: %v", loan.State)
	}
	if _, _, err := loan.applyRepay(big.NewInt(1), Ray(), 7); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("repay on closed loan: %v", err)
	}
}

func TestAuctionTransitions(t *testing.T) {
	loan := newLoan(1, testAddress(1), "punk", 1, "usd", big.NewInt(40), Ray(), 0)
	bidder := testAddress(2)

	if err := loan.replaceBid(bidder, big.NewInt(50), 10); !errors.Is(err, ErrLoanNotInAuction) {
		t.Fatalf("rebid before auction: %v", err)
	}
	if err := loan.startAuction(bidder, big.NewInt(47), big.NewInt(40), big.NewInt(2), 10); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if loan.State != LoanAuction || loan.BidStartTimestamp != 10 {
		t.Fatalf("auction bookkeeping: %+v", loan)
	}
	if err := loan.startAuction(bidder, big.NewInt(48), big.NewInt(40), big.NewInt(2), 11); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("double auction start: %v", err)
	}

	second := testAddress(3)
	if err := loan.replaceBid(second, big.NewInt(48), 12); err != nil {
		t.Fatalf("replace bid: %v", err)
	}
	if !loan.Bidder.Equal(second) || loan.BidPrice.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("bid not replaced: %+v", loan)
	}
	if loan.BidStartTimestamp != 10 {
		t.Fatal("redeem window must keep counting from the first bid")
	}
}

func TestCloseRejectsDoubleTerminal(t *testing.T) {
	loan := newLoan(1, testAddress(1), "punk", 1, "usd", big.NewInt(40), Ray(), 0)
	if err := loan.close(LoanActive, 5); !errors.Is(err, ErrLoanTerminal) {
		t.Fatalf("close to non-terminal state: %v", err)
	}
	if err := loan.close(LoanLiquidated, 5); err != nil {
		t.Fatalf("close: %v", err)
	}
	if loan.Amount.Sign() != 0 {
		t.Fatal("closing must zero the principal")
	}
	if err := loan.close(LoanRedeemed, 6); !errors.Is(err, ErrLoanTerminal) {
		t.Fatalf("double close: %v", err)
	}
}

func TestLiquidationWindows(t *testing.T) {
	nft := testNftWithConfig(func(c *NftConfiguration) {
		c.SetRedeemDurationHours(24)
		c.SetAuctionDurationHours(48)
	})
	loan := newLoan(1, testAddress(1), "punk", 1, "usd", big.NewInt(40), Ray(), 0)
	if err := loan.startAuction(testAddress(2), big.NewInt(47), big.NewInt(40), big.NewInt(2), 1_000); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if got := loan.redeemWindowEnd(nft); got != 1_000+24*3600 {
		t.Fatalf("redeem window end: %d", got)
	}
	if got := loan.auctionWindowEnd(nft); got != 1_000+48*3600 {
		t.Fatalf("auction window end: %d", got)
	}
	if got := loan.liquidationEligibleAt(nft); got != 1_000+48*3600 {
		t.Fatalf("liquidation eligible at: %d", got)
	}
}

func TestRemoveLoanID(t *testing.T) {
	ids := removeLoanID([]uint64{1, 2, 3}, 2)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if got := removeLoanID(nil, 1); len(got) != 0 {
		t.Fatalf("removing from empty list: %v", got)
	}
}
