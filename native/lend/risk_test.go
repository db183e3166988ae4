package lend

import (
	"math/big"
	"testing"
)

func testNftWithConfig(mutate func(*NftConfiguration)) *NftData {
	nft := &NftData{Asset: "punk"}
	if mutate != nil {
		mutate(&nft.Config)
	}
	return nft
}

func testReserveWithConfig(mutate func(*ReserveConfiguration)) *ReserveData {
	reserve := &ReserveData{Asset: "usd"}
	if mutate != nil {
		mutate(&reserve.Config)
	}
	reserve.ensureDefaults()
	return reserve
}

func TestEffectiveRiskParamsFallBackToReserve(t *testing.T) {
	reserve := testReserveWithConfig(func(c *ReserveConfiguration) {
		c.SetLTV(4_000)
		c.SetLiqThreshold(7_000)
		c.SetLiqBonus(500)
	})
	bare := testNftWithConfig(nil)
	if got := effectiveLTV(bare, reserve); got != 4_000 {
		t.Fatalf("expected reserve ltv fallback, got %d", got)
	}
	if got := effectiveLiqThreshold(bare, reserve); got != 7_000 {
		t.Fatalf("expected reserve threshold fallback, got %d", got)
	}
	if got := effectiveLiqBonus(bare, reserve); got != 500 {
		t.Fatalf("expected reserve bonus fallback, got %d", got)
	}

	tuned := testNftWithConfig(func(c *NftConfiguration) {
		c.SetLTV(3_000)
	})
	if got := effectiveLTV(tuned, reserve); got != 3_000 {
		t.Fatalf("collateral ltv should win when set, got %d", got)
	}
}

func TestCollateralValueInReserve(t *testing.T) {
	// Collateral worth 100 numeraire units, reserve worth 2, 0 decimals.
	value, err := collateralValueInReserve(big.NewInt(100), big.NewInt(2), 0)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 reserve units, got %s", value)
	}
	if _, err := collateralValueInReserve(big.NewInt(100), big.NewInt(0), 0); err != ErrOracleZeroPrice {
		t.Fatalf("expected zero price error, got %v", err)
	}
	if _, err := collateralValueInReserve(nil, big.NewInt(1), 0); err != ErrOracleUnavailable {
		t.Fatalf("expected oracle unavailable, got %v", err)
	}
}

func TestLoanDebtValueRoundsUp(t *testing.T) {
	index := new(big.Int).Add(Ray(), big.NewInt(1))
	loan := &LoanData{Amount: big.NewInt(3), BorrowIndex: Ray()}
	debt, err := loanDebtValue(loan, index)
	if err != nil {
		t.Fatalf("loan debt: %v", err)
	}
	// 3 * (ray+1)/ray is fractionally above 3; debt must round up to 4.
	if debt.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("expected debt 4, got %s", debt)
	}

	settled := &LoanData{Amount: big.NewInt(0), BorrowIndex: Ray()}
	debt, err = loanDebtValue(settled, index)
	if err != nil {
		t.Fatalf("loan debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("zero principal should project zero debt, got %s", debt)
	}
}

func TestHealthFactor(t *testing.T) {
	hf, err := healthFactor(big.NewInt(100), big.NewInt(40), 7_000)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// 100 * 0.7 / 40 = 1.75 in ray.
	want := new(big.Int).Quo(new(big.Int).Mul(ray, big.NewInt(175)), big.NewInt(100))
	if hf.Cmp(want) != 0 {
		t.Fatalf("want %s got %s", want, hf)
	}

	debtFree, err := healthFactor(big.NewInt(100), big.NewInt(0), 7_000)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if debtFree.Cmp(maxUint256) != 0 {
		t.Fatal("debt-free position should report the max sentinel")
	}
}

func TestAvailableBorrowsFloorsAtZero(t *testing.T) {
	available, err := availableBorrows(big.NewInt(100), big.NewInt(90), 4_000)
	if err != nil {
		t.Fatalf("available borrows: %v", err)
	}
	if available.Sign() != 0 {
		t.Fatalf("expected zero headroom, got %s", available)
	}
	available, err = availableBorrows(big.NewInt(100), big.NewInt(10), 4_000)
	if err != nil {
		t.Fatalf("available borrows: %v", err)
	}
	if available.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("expected 30 headroom, got %s", available)
	}
}

func TestLoanLiquidatePriceClampsToPayback(t *testing.T) {
	// Discounted price 95 stays above debt 40 + fine 2.
	price, err := loanLiquidatePrice(big.NewInt(100), big.NewInt(40), big.NewInt(2), 500)
	if err != nil {
		t.Fatalf("liquidate price: %v", err)
	}
	if price.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("expected discounted price 95, got %s", price)
	}

	// Collapsed collateral: the floor clamps up to debt plus fine so a
	// winning bid always covers what is owed.
	price, err = loanLiquidatePrice(big.NewInt(30), big.NewInt(40), big.NewInt(2), 500)
	if err != nil {
		t.Fatalf("liquidate price: %v", err)
	}
	if price.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected clamped payback 42, got %s", price)
	}
}

func TestLoanBidFine(t *testing.T) {
	fine, err := loanBidFine(big.NewInt(40), 500)
	if err != nil {
		t.Fatalf("bid fine: %v", err)
	}
	if fine.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected fine 2, got %s", fine)
	}
}
