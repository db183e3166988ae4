package lend

import "math/big"

// calculateLinearInterest returns the cumulated linear growth factor in ray
// for an annualised rate over the elapsed interval.
func calculateLinearInterest(rate *big.Int, lastUpdate, now int64) (*big.Int, error) {
	if rate == nil || rate.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if now < lastUpdate {
		return nil, ErrNegativeAmount
	}
	elapsed := new(big.Int).SetInt64(now - lastUpdate)
	growth := new(big.Int).Mul(rate, elapsed)
	growth.Quo(growth, big.NewInt(secondsPerYear))
	return growth.Add(growth, ray), nil
}

// calculateCompoundedInterest approximates (1 + rate/secondsPerYear)^elapsed
// in ray with a third-order binomial expansion, matching the reference debt
// accrual used by variable-rate pools.
func calculateCompoundedInterest(rate *big.Int, lastUpdate, now int64) (*big.Int, error) {
	if rate == nil || rate.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if now < lastUpdate {
		return nil, ErrNegativeAmount
	}
	elapsed := now - lastUpdate
	if elapsed == 0 {
		return Ray(), nil
	}

	exp := new(big.Int).SetInt64(elapsed)
	expMinusOne := new(big.Int).SetInt64(elapsed - 1)
	expMinusTwo := big.NewInt(0)
	if elapsed > 2 {
		expMinusTwo.SetInt64(elapsed - 2)
	}

	ratePerSecond := new(big.Int).Quo(rate, big.NewInt(secondsPerYear))
	basePowerTwo, err := rayMul(ratePerSecond, ratePerSecond)
	if err != nil {
		return nil, err
	}
	basePowerThree, err := rayMul(basePowerTwo, ratePerSecond)
	if err != nil {
		return nil, err
	}

	firstTerm := new(big.Int).Mul(exp, ratePerSecond)

	secondTerm := new(big.Int).Mul(exp, expMinusOne)
	secondTerm.Mul(secondTerm, basePowerTwo)
	secondTerm.Quo(secondTerm, big.NewInt(2))

	thirdTerm := new(big.Int).Mul(exp, expMinusOne)
	thirdTerm.Mul(thirdTerm, expMinusTwo)
	thirdTerm.Mul(thirdTerm, basePowerThree)
	thirdTerm.Quo(thirdTerm, big.NewInt(6))

	out := Ray()
	out.Add(out, firstTerm)
	out.Add(out, secondTerm)
	return out.Add(out, thirdTerm), nil
}

// accrueReserve rolls both cumulative indexes forward to now. Accruing twice
// at the same timestamp is a no-op, so every mutating operation may call it
// unconditionally before reading index-denominated amounts.
func accrueReserve(r *ReserveData, now int64) error {
	if r == nil {
		return ErrReserveNotRegistered
	}
	r.ensureDefaults()
	if now == r.LastUpdateTimestamp {
		return nil
	}
	if now < r.LastUpdateTimestamp {
		return ErrNegativeAmount
	}

	if r.CurrentLiquidityRate.Sign() > 0 {
		linear, err := calculateLinearInterest(r.CurrentLiquidityRate, r.LastUpdateTimestamp, now)
		if err != nil {
			return err
		}
		newIndex, err := rayMul(r.LiquidityIndex, linear)
		if err != nil {
			return err
		}
		r.LiquidityIndex = newIndex
	}

	if r.TotalScaledDebt.Sign() > 0 && r.CurrentBorrowRate.Sign() > 0 {
		previousDebt, err := rayMul(r.TotalScaledDebt, r.VariableBorrowIndex)
		if err != nil {
			return err
		}
		compounded, err := calculateCompoundedInterest(r.CurrentBorrowRate, r.LastUpdateTimestamp, now)
		if err != nil {
			return err
		}
		newIndex, err := rayMul(r.VariableBorrowIndex, compounded)
		if err != nil {
			return err
		}
		r.VariableBorrowIndex = newIndex

		// Route the reserve-factor share of freshly accrued debt
		// interest to the treasury accumulator.
		currentDebt, err := rayMul(r.TotalScaledDebt, r.VariableBorrowIndex)
		if err != nil {
			return err
		}
		accrued := new(big.Int).Sub(currentDebt, previousDebt)
		if accrued.Sign() > 0 {
			share, err := percentMul(accrued, r.Config.ReserveFactor())
			if err != nil {
				return err
			}
			r.TreasuryAccrued = new(big.Int).Add(r.TreasuryAccrued, share)
		}
	}

	r.LastUpdateTimestamp = now
	return nil
}

// refreshReserveRates recomputes the reserve rates from the pluggable model.
// It mutates only the rate fields.
func refreshReserveRates(r *ReserveData, model InterestRateModel, liquidityAdded, liquidityTaken *big.Int) error {
	if r == nil {
		return ErrReserveNotRegistered
	}
	if model == nil {
		return nil
	}
	r.ensureDefaults()
	available, err := r.AvailableLiquidity()
	if err != nil {
		return err
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return err
	}
	liquidityRate, borrowRate, err := model.CalculateRates(available, debt, liquidityAdded, liquidityTaken, r.Config.ReserveFactor())
	if err != nil {
		return err
	}
	r.CurrentLiquidityRate = liquidityRate
	r.CurrentBorrowRate = borrowRate
	return nil
}

// NormalizedIncome projects the liquidity index as of now without persisting
// the accrual. Safe to call from concurrent read-only queries.
func (r *ReserveData) NormalizedIncome(now int64) (*big.Int, error) {
	r.ensureDefaults()
	if now == r.LastUpdateTimestamp || r.CurrentLiquidityRate.Sign() == 0 {
		return new(big.Int).Set(r.LiquidityIndex), nil
	}
	linear, err := calculateLinearInterest(r.CurrentLiquidityRate, r.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return rayMul(r.LiquidityIndex, linear)
}

// NormalizedDebt projects the variable borrow index as of now without
// persisting the accrual.
func (r *ReserveData) NormalizedDebt(now int64) (*big.Int, error) {
	r.ensureDefaults()
	if now == r.LastUpdateTimestamp || r.CurrentBorrowRate.Sign() == 0 {
		return new(big.Int).Set(r.VariableBorrowIndex), nil
	}
	compounded, err := calculateCompoundedInterest(r.CurrentBorrowRate, r.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return rayMul(r.VariableBorrowIndex, compounded)
}
