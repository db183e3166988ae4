package lend

import (
	"errors"
	"math/big"
	"testing"
)

func fivePercentRay() *big.Int {
	return new(big.Int).Quo(new(big.Int).Mul(ray, big.NewInt(5)), big.NewInt(100))
}

func TestAccrueReserveLinearSupplyIndex(t *testing.T) {
	reserve := &ReserveData{
		Asset:                "usd",
		CurrentLiquidityRate: fivePercentRay(),
		TotalScaledLiquidity: big.NewInt(1_000),
		LastUpdateTimestamp:  0,
	}
	if err := accrueReserve(reserve, secondsPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// One year at 5% linear growth takes the index from 1.00 to 1.05.
	want := new(big.Int).Add(Ray(), fivePercentRay())
	if reserve.LiquidityIndex.Cmp(want) != 0 {
		t.Fatalf("liquidity index: want %s got %s", want, reserve.LiquidityIndex)
	}
	liquidity, err := reserve.TotalLiquidity()
	if err != nil {
		t.Fatalf("total liquidity: %v", err)
	}
	if liquidity.Cmp(big.NewInt(1_050)) != 0 {
		t.Fatalf("1000 deposited at 5%% for a year should project 1050, got %s", liquidity)
	}
	if reserve.LastUpdateTimestamp != secondsPerYear {
		t.Fatalf("timestamp not stamped: %d", reserve.LastUpdateTimestamp)
	}
}

func TestAccrueReserveSameTimestampNoOp(t *testing.T) {
	reserve := &ReserveData{
		Asset:                "usd",
		CurrentLiquidityRate: fivePercentRay(),
		TotalScaledLiquidity: big.NewInt(1_000),
		LastUpdateTimestamp:  100,
	}
	if err := accrueReserve(reserve, 100); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	before := new(big.Int).Set(reserve.LiquidityIndex)
	if err := accrueReserve(reserve, 100); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if reserve.LiquidityIndex.Cmp(before) != 0 {
		t.Fatal("accruing twice at the same timestamp must not move the index")
	}
}

func TestAccrueReserveRejectsTimeRegression(t *testing.T) {
	reserve := &ReserveData{Asset: "usd", LastUpdateTimestamp: 100}
	if err := accrueReserve(reserve, 50); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected error on time regression, got %v", err)
	}
}

func TestAccrueReserveCompoundsDebt(t *testing.T) {
	tenPercent := new(big.Int).Quo(ray, big.NewInt(10))
	reserve := &ReserveData{
		Asset:               "usd",
		CurrentBorrowRate:   tenPercent,
		TotalScaledDebt:     big.NewInt(1_000_000),
		LastUpdateTimestamp: 0,
	}
	var cfg ReserveConfiguration
	cfg.SetReserveFactor(1_000)
	reserve.Config = cfg

	if err := accrueReserve(reserve, secondsPerYear); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// Compounded 10% over a year lands between the linear 1.10 and e^0.1.
	linear := new(big.Int).Add(Ray(), tenPercent)
	if reserve.VariableBorrowIndex.Cmp(linear) <= 0 {
		t.Fatalf("compounded index %s not above linear %s", reserve.VariableBorrowIndex, linear)
	}
	upper, _ := new(big.Int).SetString("1105200000000000000000000000", 10) // 1.1052 ray
	if reserve.VariableBorrowIndex.Cmp(upper) >= 0 {
		t.Fatalf("compounded index %s above expected bound %s", reserve.VariableBorrowIndex, upper)
	}

	// 10% of the freshly accrued interest lands in the treasury accumulator.
	debt, err := reserve.TotalDebt()
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	accrued := new(big.Int).Sub(debt, big.NewInt(1_000_000))
	want, err := percentMul(accrued, 1_000)
	if err != nil {
		t.Fatalf("percentMul: %v", err)
	}
	if reserve.TreasuryAccrued.Cmp(want) != 0 {
		t.Fatalf("treasury accrued: want %s got %s", want, reserve.TreasuryAccrued)
	}
}

func TestNormalizedProjectionsDoNotPersist(t *testing.T) {
	reserve := &ReserveData{
		Asset:                "usd",
		CurrentLiquidityRate: fivePercentRay(),
		TotalScaledLiquidity: big.NewInt(1_000),
		LastUpdateTimestamp:  0,
	}
	reserve.ensureDefaults()
	stored := new(big.Int).Set(reserve.LiquidityIndex)

	projected, err := reserve.NormalizedIncome(secondsPerYear)
	if err != nil {
		t.Fatalf("normalized income: %v", err)
	}
	if projected.Cmp(stored) <= 0 {
		t.Fatal("projection should exceed the stored index")
	}
	if reserve.LiquidityIndex.Cmp(stored) != 0 {
		t.Fatal("projection must not mutate the stored index")
	}
}

func TestRefreshReserveRates(t *testing.T) {
	reserve := &ReserveData{
		Asset:                "usd",
		TotalScaledLiquidity: big.NewInt(1_000),
		TotalScaledDebt:      big.NewInt(400),
	}
	if err := refreshReserveRates(reserve, DefaultRateModel(), nil, nil); err != nil {
		t.Fatalf("refresh rates: %v", err)
	}
	if reserve.CurrentBorrowRate.Sign() <= 0 {
		t.Fatal("borrow rate should be positive with outstanding debt")
	}
	if reserve.CurrentLiquidityRate.Sign() <= 0 {
		t.Fatal("liquidity rate should be positive with outstanding debt")
	}
	if reserve.CurrentLiquidityRate.Cmp(reserve.CurrentBorrowRate) >= 0 {
		t.Fatal("liquidity rate should sit below the borrow rate")
	}
}
