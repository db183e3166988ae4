package lend

import (
	"math/big"
	"testing"
)

func TestKinkedRateModelIdleReserve(t *testing.T) {
	model := NewKinkedRateModel(100, 800, 10_000, 6_500)
	liquidityRate, borrowRate, err := model.CalculateRates(big.NewInt(1_000), big.NewInt(0), nil, nil, 0)
	if err != nil {
		t.Fatalf("calculate rates: %v", err)
	}
	if borrowRate.Cmp(rayFromBps(100)) != 0 {
		t.Fatalf("expected base borrow rate, got %s", borrowRate)
	}
	if liquidityRate.Sign() != 0 {
		t.Fatalf("expected zero liquidity rate with no debt, got %s", liquidityRate)
	}
}

func TestKinkedRateModelAtOptimal(t *testing.T) {
	model := NewKinkedRateModel(100, 800, 10_000, 5_000)
	// 50 debt against 50 cash puts utilisation exactly at the 50% kink.
	_, borrowRate, err := model.CalculateRates(big.NewInt(50), big.NewInt(50), nil, nil, 0)
	if err != nil {
		t.Fatalf("calculate rates: %v", err)
	}
	want := rayFromBps(900) // base + full slope1
	if borrowRate.Cmp(want) != 0 {
		t.Fatalf("expected %s at the kink, got %s", want, borrowRate)
	}
}

func TestKinkedRateModelFullUtilisation(t *testing.T) {
	model := NewKinkedRateModel(100, 800, 10_000, 5_000)
	_, borrowRate, err := model.CalculateRates(big.NewInt(0), big.NewInt(100), nil, nil, 0)
	if err != nil {
		t.Fatalf("calculate rates: %v", err)
	}
	want := rayFromBps(100 + 800 + 10_000)
	if borrowRate.Cmp(want) != 0 {
		t.Fatalf("expected %s at full utilisation, got %s", want, borrowRate)
	}
}

func TestKinkedRateModelReserveFactorHaircut(t *testing.T) {
	model := NewKinkedRateModel(0, 1_000, 0, 10_000)
	// Utilisation 100%, borrow rate 10%, reserve factor 20%.
	withCut, _, err := model.CalculateRates(big.NewInt(0), big.NewInt(100), nil, nil, 2_000)
	if err != nil {
		t.Fatalf("calculate rates: %v", err)
	}
	noCut, _, err := model.CalculateRates(big.NewInt(0), big.NewInt(100), nil, nil, 0)
	if err != nil {
		t.Fatalf("calculate rates: %v", err)
	}
	want, err := percentMul(noCut, 8_000)
	if err != nil {
		t.Fatalf("percentMul: %v", err)
	}
	if withCut.Cmp(want) != 0 {
		t.Fatalf("expected liquidity rate %s after 20%% haircut, got %s", want, withCut)
	}
}

func TestUtilisationCountsPendingFlows(t *testing.T) {
	model := DefaultRateModel()
	base, err := model.Utilisation(big.NewInt(100), big.NewInt(100), nil, nil)
	if err != nil {
		t.Fatalf("utilisation: %v", err)
	}
	withAdd, err := model.Utilisation(big.NewInt(100), big.NewInt(100), big.NewInt(100), nil)
	if err != nil {
		t.Fatalf("utilisation: %v", err)
	}
	if withAdd.Cmp(base) >= 0 {
		t.Fatalf("pending inflow should lower utilisation: base=%s with=%s", base, withAdd)
	}
	withTake, err := model.Utilisation(big.NewInt(100), big.NewInt(100), nil, big.NewInt(50))
	if err != nil {
		t.Fatalf("utilisation: %v", err)
	}
	if withTake.Cmp(base) <= 0 {
		t.Fatalf("pending outflow should raise utilisation: base=%s with=%s", base, withTake)
	}
}
