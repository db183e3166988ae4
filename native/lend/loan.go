package lend

import (
	"math/big"

	"nftlend/crypto"
)

// Loan lifecycle transitions. Each helper mutates a staged clone of the loan
// record; the pool commits the clone through the changeset. Auction, redeem
// and liquidation bookkeeping lives here alongside the plain borrow/repay
// transitions so every state write happens in one place.

func newLoan(id uint64, borrower crypto.Address, nftAsset string, tokenID uint64, reserveAsset string, amount, borrowIndex *big.Int, now int64) *LoanData {
	return &LoanData{
		LoanID:         id,
		State:          LoanActive,
		Borrower:       borrower,
		NftAsset:       nftAsset,
		NftTokenID:     tokenID,
		ReserveAsset:   reserveAsset,
		Amount:         new(big.Int).Set(amount),
		BorrowIndex:    new(big.Int).Set(borrowIndex),
		StateTimestamp: now,
	}
}

// applyBorrow folds an additional drawdown into the principal and refreshes
// the index snapshot so interest accrued so far is baked into the principal.
func (l *LoanData) applyBorrow(amount, currentBorrowIndex *big.Int, now int64) error {
	if l.State != LoanActive {
		return ErrLoanNotActive
	}
	debt, err := loanDebtValue(l, currentBorrowIndex)
	if err != nil {
		return err
	}
	l.Amount = debt.Add(debt, amount)
	l.BorrowIndex = new(big.Int).Set(currentBorrowIndex)
	l.StateTimestamp = now
	return nil
}

// applyRepay reduces the principal. Repaying the full outstanding debt closes
// the loan as Repaid; a partial repayment refreshes the index snapshot and
// keeps the loan Active.
func (l *LoanData) applyRepay(amount, currentBorrowIndex *big.Int, now int64) (repaid *big.Int, closed bool, err error) {
	if l.State != LoanActive {
		return nil, false, ErrLoanNotActive
	}
	debt, err := loanDebtValue(l, currentBorrowIndex)
	if err != nil {
		return nil, false, err
	}
	if amount.Cmp(debt) >= 0 {
		l.Amount = big.NewInt(0)
		l.State = LoanRepaid
		l.StateTimestamp = now
		return debt, true, nil
	}
	l.Amount = new(big.Int).Sub(debt, amount)
	l.BorrowIndex = new(big.Int).Set(currentBorrowIndex)
	l.StateTimestamp = now
	return new(big.Int).Set(amount), false, nil
}

// startAuction records the opening bid and moves the loan into Auction. The
// borrow amount and fine are frozen at auction start so the redeem payoff is
// stable for the whole window.
func (l *LoanData) startAuction(bidder crypto.Address, price, debt, fine *big.Int, now int64) error {
	if l.State != LoanActive {
		return ErrLoanNotActive
	}
	l.State = LoanAuction
	l.Bidder = bidder
	l.BidPrice = new(big.Int).Set(price)
	l.BidBorrowAmount = new(big.Int).Set(debt)
	l.BidFine = new(big.Int).Set(fine)
	l.BidStartTimestamp = now
	l.StateTimestamp = now
	return nil
}

// replaceBid supersedes the current bid. The redeem window keeps counting
// from the first bid.
func (l *LoanData) replaceBid(bidder crypto.Address, price *big.Int, now int64) error {
	if l.State != LoanAuction {
		return ErrLoanNotInAuction
	}
	l.Bidder = bidder
	l.BidPrice = new(big.Int).Set(price)
	l.StateTimestamp = now
	return nil
}

// close moves the loan into a terminal state. Terminal records are immutable
// history; the pool clears the token index in the same changeset so the
// (asset, token) pair can back a fresh loan later.
func (l *LoanData) close(state LoanState, now int64) error {
	if !state.Terminal() {
		return ErrLoanTerminal
	}
	if l.State.Terminal() {
		return ErrLoanTerminal
	}
	l.State = state
	l.Amount = big.NewInt(0)
	l.StateTimestamp = now
	return nil
}

// redeemWindowEnd is the instant the borrower loses the right to redeem.
func (l *LoanData) redeemWindowEnd(nft *NftData) int64 {
	return l.BidStartTimestamp + int64(nft.Config.RedeemDurationHours())*3600
}

// auctionWindowEnd is the instant bidding closes.
func (l *LoanData) auctionWindowEnd(nft *NftData) int64 {
	return l.BidStartTimestamp + int64(nft.Config.AuctionDurationHours())*3600
}

// liquidationEligibleAt is when the loan may be liquidated: both the redeem
// window and the auction window must have elapsed.
func (l *LoanData) liquidationEligibleAt(nft *NftData) int64 {
	redeemEnd := l.redeemWindowEnd(nft)
	auctionEnd := l.auctionWindowEnd(nft)
	if auctionEnd > redeemEnd {
		return auctionEnd
	}
	return redeemEnd
}

// removeLoanID drops one id from a borrower's open-loan list.
func removeLoanID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
