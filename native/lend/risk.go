package lend

import "math/big"

// Collateral-specific risk parameters come from the NFT configuration and
// fall back to the reserve configuration when unset, so a freshly registered
// collateral class inherits the reserve defaults until the configurator tunes
// it.
func effectiveLTV(nft *NftData, reserve *ReserveData) uint64 {
	if v := nft.Config.LTV(); v > 0 {
		return v
	}
	return reserve.Config.LTV()
}

func effectiveLiqThreshold(nft *NftData, reserve *ReserveData) uint64 {
	if v := nft.Config.LiqThreshold(); v > 0 {
		return v
	}
	return reserve.Config.LiqThreshold()
}

func effectiveLiqBonus(nft *NftData, reserve *ReserveData) uint64 {
	if v := nft.Config.LiqBonus(); v > 0 {
		return v
	}
	return reserve.Config.LiqBonus()
}

// collateralValueInReserve converts a collateral price into reserve base
// units: price quotes are wad values in a common numeraire, so the value is
// nftPrice * 10^reserveDecimals / reservePrice, truncated. Collateral is
// never over-counted.
func collateralValueInReserve(nftPrice, reservePrice *big.Int, reserveDecimals uint64) (*big.Int, error) {
	if nftPrice == nil || reservePrice == nil {
		return nil, ErrOracleUnavailable
	}
	if reservePrice.Sign() == 0 {
		return nil, ErrOracleZeroPrice
	}
	unit := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(reserveDecimals), nil)
	return mulDivDown(nftPrice, unit, reservePrice)
}

// loanDebtValue scales the loan principal by the ratio of the current borrow
// index to the snapshot taken at origination or last update, rounding up so
// debt is never under-counted.
func loanDebtValue(loan *LoanData, currentBorrowIndex *big.Int) (*big.Int, error) {
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.Amount == nil || loan.Amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if loan.BorrowIndex == nil || loan.BorrowIndex.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return mulDivUp(loan.Amount, currentBorrowIndex, loan.BorrowIndex)
}

// availableBorrows is max(0, collateral*ltv - debt), truncated so the
// borrower is never over-credited.
func availableBorrows(collateralValue, debtValue *big.Int, ltvBps uint64) (*big.Int, error) {
	limit, err := percentMul(collateralValue, ltvBps)
	if err != nil {
		return nil, err
	}
	if debtValue != nil {
		limit.Sub(limit, debtValue)
	}
	if limit.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return limit, nil
}

// healthFactor is collateral*liquidationThreshold / debt in ray units. A
// debt-free position is healthy by definition and reports the max sentinel.
func healthFactor(collateralValue, debtValue *big.Int, liqThresholdBps uint64) (*big.Int, error) {
	if debtValue == nil || debtValue.Sign() == 0 {
		return new(big.Int).Set(maxUint256), nil
	}
	adjusted, err := percentMul(collateralValue, liqThresholdBps)
	if err != nil {
		return nil, err
	}
	return mulDivDown(adjusted, ray, debtValue)
}

// loanLiquidatePrice derives the auction floor. The oracle-derived price is
// discounted by the liquidation bonus, then clamped to never fall below the
// payback amount (outstanding debt plus the bid fine): the solvency floor
// guarantees a winning bid always covers what is owed.
func loanLiquidatePrice(nftPriceInReserve, debtValue, bidFine *big.Int, liqBonusBps uint64) (*big.Int, error) {
	if liqBonusBps > 10_000 {
		liqBonusBps = 10_000
	}
	computed, err := percentMul(nftPriceInReserve, 10_000-liqBonusBps)
	if err != nil {
		return nil, err
	}
	payback := new(big.Int)
	if debtValue != nil {
		payback.Set(debtValue)
	}
	if bidFine != nil {
		payback.Add(payback, bidFine)
	}
	if computed.Cmp(payback) < 0 {
		return payback, nil
	}
	return computed, nil
}

// loanBidFine is the redeem penalty owed to the bidder, a configured share of
// the outstanding debt at auction start.
func loanBidFine(debtValue *big.Int, redeemFineBps uint64) (*big.Int, error) {
	return percentMul(debtValue, redeemFineBps)
}
