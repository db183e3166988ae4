package lend

import "math/big"

// The validation gate is a set of pure precondition checks. Every mutating
// pool operation consults the relevant check before touching any state; each
// failure maps to a distinct sentinel error.

func validateDeposit(reserve *ReserveData, amount *big.Int) error {
	if reserve == nil {
		return ErrReserveNotRegistered
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !reserve.Config.Active() {
		return ErrReserveNotActive
	}
	if reserve.Config.Frozen() {
		return ErrReserveFrozen
	}
	return nil
}

func validateWithdraw(reserve *ReserveData, amount, userBalance, availableLiquidity *big.Int) error {
	if reserve == nil {
		return ErrReserveNotRegistered
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !reserve.Config.Active() {
		return ErrReserveNotActive
	}
	if userBalance == nil || userBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if availableLiquidity == nil || availableLiquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

type borrowCheck struct {
	Reserve         *ReserveData
	Nft             *NftData
	Loan            *LoanData // nil on first borrow against the token
	Amount          *big.Int
	CollateralValue *big.Int
	CurrentDebt     *big.Int
}

func validateBorrow(in borrowCheck) error {
	if in.Reserve == nil {
		return ErrReserveNotRegistered
	}
	if in.Nft == nil {
		return ErrNftNotRegistered
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !in.Reserve.Config.Active() {
		return ErrReserveNotActive
	}
	if in.Reserve.Config.Frozen() {
		return ErrReserveFrozen
	}
	if !in.Reserve.Config.BorrowingEnabled() {
		return ErrBorrowingDisabled
	}
	if !in.Nft.Config.Active() {
		return ErrNftNotActive
	}
	if in.Nft.Config.Frozen() {
		return ErrNftFrozen
	}
	if in.Loan != nil && in.Loan.State != LoanActive {
		return ErrLoanNotActive
	}

	newDebt := new(big.Int).Add(in.CurrentDebt, in.Amount)

	// The borrow limit uses LTV, stricter than the liquidation threshold,
	// so a passing borrow always leaves the health factor above 1.
	limit, err := availableBorrows(in.CollateralValue, in.CurrentDebt, effectiveLTV(in.Nft, in.Reserve))
	if err != nil {
		return err
	}
	if limit.Cmp(in.Amount) < 0 {
		return ErrHealthFactorTooLow
	}
	hf, err := healthFactor(in.CollateralValue, newDebt, effectiveLiqThreshold(in.Nft, in.Reserve))
	if err != nil {
		return err
	}
	if hf.Cmp(ray) < 0 {
		return ErrHealthFactorTooLow
	}

	return validateBorrowCaps(in.Reserve, in.Amount)
}

// validateBorrowCaps enforces the optional per-reserve borrow throttles.
func validateBorrowCaps(reserve *ReserveData, amount *big.Int) error {
	debt, err := reserve.TotalDebt()
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(debt, amount)
	if reserve.BorrowCap != nil && reserve.BorrowCap.Sign() > 0 && projected.Cmp(reserve.BorrowCap) > 0 {
		return ErrBorrowCapExceeded
	}
	if reserve.UtilisationCapBps > 0 {
		liquidity, err := reserve.TotalLiquidity()
		if err != nil {
			return err
		}
		limit, err := percentMul(liquidity, reserve.UtilisationCapBps)
		if err != nil {
			return err
		}
		if projected.Cmp(limit) > 0 {
			return ErrUtilisationCapExceeded
		}
	}
	return nil
}

func validateRepay(loan *LoanData, amount *big.Int) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	switch loan.State {
	case LoanActive:
		return nil
	case LoanAuction:
		return ErrLoanNotActive
	default:
		return ErrLoanTerminal
	}
}

func validateFirstBid(loan *LoanData, price, floor, hf *big.Int) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if loan.State != LoanActive {
		if loan.State.Terminal() {
			return ErrLoanTerminal
		}
		return ErrLoanNotActive
	}
	if hf == nil || hf.Cmp(ray) >= 0 {
		return ErrHealthFactorNotBelow
	}
	if price.Cmp(floor) < 0 {
		return ErrBidPriceTooLow
	}
	return nil
}

func validateRebid(loan *LoanData, price *big.Int, minDeltaBps uint64, now int64, auctionWindow int64) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if loan.State != LoanAuction {
		if loan.State.Terminal() {
			return ErrLoanTerminal
		}
		return ErrLoanNotInAuction
	}
	if auctionWindow > 0 && now > loan.BidStartTimestamp+auctionWindow {
		return ErrRedeemWindowClosed
	}
	increment, err := percentMul(loan.BidPrice, minDeltaBps)
	if err != nil {
		return err
	}
	minimum := new(big.Int).Add(loan.BidPrice, increment)
	if price.Cmp(loan.BidPrice) <= 0 || price.Cmp(minimum) < 0 {
		return ErrBidPriceTooLow
	}
	return nil
}

func validateRedeem(loan *LoanData, amount, payoff *big.Int, now, windowEnd int64) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if loan.State != LoanAuction {
		if loan.State.Terminal() {
			return ErrLoanTerminal
		}
		return ErrLoanNotInAuction
	}
	if now >= windowEnd {
		return ErrRedeemWindowClosed
	}
	if amount.Cmp(payoff) < 0 {
		return ErrRedeemAmountTooLow
	}
	return nil
}

func validateLiquidate(loan *LoanData, now, windowEnd int64) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if loan.State != LoanAuction {
		if loan.State.Terminal() {
			return ErrLoanTerminal
		}
		return ErrLoanNotInAuction
	}
	if now < windowEnd {
		return ErrRedeemWindowOpen
	}
	return nil
}

// validateReceiptTransfer gates the receipt-token transfer hook. Receipt
// balances never collateralize loans, so the check is freeze state and amount;
// the balance check happens at the pool with the projected index.
func validateReceiptTransfer(reserve *ReserveData, amount *big.Int) error {
	if reserve == nil {
		return ErrReserveNotRegistered
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if reserve.Config.Frozen() {
		return ErrReserveFrozen
	}
	return nil
}
