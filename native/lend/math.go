package lend

import "math/big"

// Fixed-point scales used across the pool: ray (1e27) for indexes and rates,
// wad (1e18) for oracle prices, basis points (1e4) for percentage parameters.
var (
	wad              = mustBigInt("1000000000000000000")
	ray              = mustBigInt("1000000000000000000000000000")
	halfWad          = new(big.Int).Rsh(wad, 1)
	halfRay          = new(big.Int).Rsh(ray, 1)
	percentageFactor = big.NewInt(10_000)
	halfPercent      = big.NewInt(5_000)

	// maxUint256 doubles as the "withdraw everything" sentinel and the
	// health factor reported for debt-free positions.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Ray returns one ray (1e27).
func Ray() *big.Int { return new(big.Int).Set(ray) }

// Wad returns one wad (1e18).
func Wad() *big.Int { return new(big.Int).Set(wad) }

// MaxWithdrawAmount is the sentinel that withdraws a caller's full balance.
func MaxWithdrawAmount() *big.Int { return new(big.Int).Set(maxUint256) }

// rayMul multiplies two ray values rounding half-up.
func rayMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product, nil
}

// rayDiv divides two ray values rounding half-up.
func rayDiv(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	half := new(big.Int).Rsh(b, 1)
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, half)
	numerator.Quo(numerator, b)
	return numerator, nil
}

// wadMul multiplies two wad values rounding half-up.
func wadMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfWad)
	product.Quo(product, wad)
	return product, nil
}

// percentMul scales an amount by basis points, truncating the result so the
// caller is never over-credited.
func percentMul(amount *big.Int, bps uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	product := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	product.Quo(product, percentageFactor)
	return product, nil
}

// percentDiv divides an amount by basis points rounding half-up.
func percentDiv(amount *big.Int, bps uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if bps == 0 {
		return nil, ErrDivisionByZero
	}
	divisor := new(big.Int).SetUint64(bps)
	numerator := new(big.Int).Mul(amount, percentageFactor)
	numerator.Add(numerator, new(big.Int).Rsh(divisor, 1))
	numerator.Quo(numerator, divisor)
	return numerator, nil
}

// mulDivDown computes a*b/den truncated toward zero.
func mulDivDown(a, b, den *big.Int) (*big.Int, error) {
	if a == nil || b == nil || den == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den), nil
}

// mulDivUp computes ceil(a*b/den). Debt conversions round up so outstanding
// debt is never under-counted.
func mulDivUp(a, b, den *big.Int) (*big.Int, error) {
	if a == nil || b == nil || den == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, new(big.Int).Sub(den, big.NewInt(1)))
	return product.Quo(product, den), nil
}
