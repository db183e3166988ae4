package lend

import "math/big"

// InterestRateModel derives the reserve rates from utilisation. The added and
// taken amounts describe liquidity movements that are not yet reflected in the
// reserve totals when the rates are recomputed.
type InterestRateModel interface {
	CalculateRates(availableLiquidity, totalDebt, liquidityAdded, liquidityTaken *big.Int, reserveFactorBps uint64) (liquidityRate, borrowRate *big.Int, err error)
}

// KinkedRateModel is a two-slope utilisation curve. Rates are annualised ray
// values; the borrow rate climbs along Slope1 until utilisation reaches
// OptimalUtilisation and along Slope2 beyond it.
type KinkedRateModel struct {
	OptimalUtilisation *big.Int
	BaseRate           *big.Int
	Slope1             *big.Int
	Slope2             *big.Int
}

// NewKinkedRateModel builds a rate model from basis-point parameters, e.g.
// base 100 bps, slope1 800 bps, slope2 20000 bps, optimal 6500 bps.
func NewKinkedRateModel(baseBps, slope1Bps, slope2Bps, optimalBps uint64) *KinkedRateModel {
	return &KinkedRateModel{
		OptimalUtilisation: rayFromBps(optimalBps),
		BaseRate:           rayFromBps(baseBps),
		Slope1:             rayFromBps(slope1Bps),
		Slope2:             rayFromBps(slope2Bps),
	}
}

func rayFromBps(bps uint64) *big.Int {
	v := new(big.Int).Mul(ray, new(big.Int).SetUint64(bps))
	return v.Quo(v, percentageFactor)
}

// Clone returns a deep copy of the rate model.
func (m *KinkedRateModel) Clone() *KinkedRateModel {
	if m == nil {
		return nil
	}
	clone := &KinkedRateModel{
		OptimalUtilisation: big.NewInt(0),
		BaseRate:           big.NewInt(0),
		Slope1:             big.NewInt(0),
		Slope2:             big.NewInt(0),
	}
	if m.OptimalUtilisation != nil {
		clone.OptimalUtilisation.Set(m.OptimalUtilisation)
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	return clone
}

// Utilisation computes totalDebt / (available + added - taken + totalDebt) in
// ray. Zero liquidity is defined as zero utilisation.
func (m *KinkedRateModel) Utilisation(availableLiquidity, totalDebt, added, taken *big.Int) (*big.Int, error) {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	cash := new(big.Int)
	if availableLiquidity != nil {
		cash.Set(availableLiquidity)
	}
	if added != nil {
		cash.Add(cash, added)
	}
	if taken != nil {
		cash.Sub(cash, taken)
	}
	if cash.Sign() < 0 {
		cash.SetInt64(0)
	}
	denominator := new(big.Int).Add(cash, totalDebt)
	if denominator.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return rayDiv(totalDebt, denominator)
}

// CalculateRates implements InterestRateModel.
func (m *KinkedRateModel) CalculateRates(availableLiquidity, totalDebt, added, taken *big.Int, reserveFactorBps uint64) (*big.Int, *big.Int, error) {
	utilisation, err := m.Utilisation(availableLiquidity, totalDebt, added, taken)
	if err != nil {
		return nil, nil, err
	}

	borrowRate := new(big.Int)
	if m.BaseRate != nil {
		borrowRate.Set(m.BaseRate)
	}
	optimal := m.OptimalUtilisation
	if optimal == nil || optimal.Sign() == 0 {
		optimal = Ray()
	}

	if utilisation.Cmp(optimal) <= 0 {
		ratio, err := rayDiv(utilisation, optimal)
		if err != nil {
			return nil, nil, err
		}
		slope, err := rayMul(m.Slope1, ratio)
		if err != nil {
			return nil, nil, err
		}
		borrowRate.Add(borrowRate, slope)
	} else {
		borrowRate.Add(borrowRate, m.Slope1)
		excess := new(big.Int).Sub(utilisation, optimal)
		span := new(big.Int).Sub(ray, optimal)
		if span.Sign() > 0 {
			ratio, err := rayDiv(excess, span)
			if err != nil {
				return nil, nil, err
			}
			slope, err := rayMul(m.Slope2, ratio)
			if err != nil {
				return nil, nil, err
			}
			borrowRate.Add(borrowRate, slope)
		}
	}

	// Suppliers earn the borrow rate scaled by utilisation, minus the
	// reserve-factor share routed to the treasury.
	liquidityRate, err := rayMul(borrowRate, utilisation)
	if err != nil {
		return nil, nil, err
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	liquidityRate, err = percentMul(liquidityRate, 10_000-reserveFactorBps)
	if err != nil {
		return nil, nil, err
	}
	return liquidityRate, borrowRate, nil
}

// DefaultRateModel is a conservative starting curve: 1% base, 8% slope to a
// 65% kink, 100% slope beyond it.
func DefaultRateModel() *KinkedRateModel {
	return NewKinkedRateModel(100, 800, 10_000, 6_500)
}
