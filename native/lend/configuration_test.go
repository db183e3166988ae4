package lend

import "testing"

func TestReserveConfigurationRoundTrip(t *testing.T) {
	var cfg ReserveConfiguration
	cfg.SetLTV(4_000)
	cfg.SetLiqThreshold(7_000)
	cfg.SetLiqBonus(500)
	cfg.SetDecimals(18)
	cfg.SetReserveFactor(1_000)
	cfg.SetActive(true)
	cfg.SetBorrowingEnabled(true)

	if got := cfg.LTV(); got != 4_000 {
		t.Fatalf("ltv: got %d", got)
	}
	if got := cfg.LiqThreshold(); got != 7_000 {
		t.Fatalf("liq threshold: got %d", got)
	}
	if got := cfg.LiqBonus(); got != 500 {
		t.Fatalf("liq bonus: got %d", got)
	}
	if got := cfg.Decimals(); got != 18 {
		t.Fatalf("decimals: got %d", got)
	}
	if got := cfg.ReserveFactor(); got != 1_000 {
		t.Fatalf("reserve factor: got %d", got)
	}
	if !cfg.Active() || cfg.Frozen() || !cfg.BorrowingEnabled() {
		t.Fatalf("unexpected flags: active=%v frozen=%v borrowing=%v", cfg.Active(), cfg.Frozen(), cfg.BorrowingEnabled())
	}

	// Overwriting a field leaves its neighbours intact.
	cfg.SetLiqThreshold(8_000)
	if got := cfg.LTV(); got != 4_000 {
		t.Fatalf("ltv disturbed by threshold write: got %d", got)
	}
	if got := cfg.LiqBonus(); got != 500 {
		t.Fatalf("bonus disturbed by threshold write: got %d", got)
	}
	if got := cfg.LiqThreshold(); got != 8_000 {
		t.Fatalf("threshold: got %d", got)
	}
}

func TestReserveConfigurationFlagClear(t *testing.T) {
	var cfg ReserveConfiguration
	cfg.SetActive(true)
	cfg.SetFrozen(true)
	cfg.SetFrozen(false)
	if !cfg.Active() {
		t.Fatal("active flag lost when clearing frozen")
	}
	if cfg.Frozen() {
		t.Fatal("frozen flag not cleared")
	}
}

func TestNftConfigurationRoundTrip(t *testing.T) {
	var cfg NftConfiguration
	cfg.SetLTV(3_000)
	cfg.SetLiqThreshold(6_000)
	cfg.SetLiqBonus(1_000)
	cfg.SetRedeemDurationHours(24)
	cfg.SetAuctionDurationHours(48)
	cfg.SetRedeemFine(500)
	cfg.SetRedeemThreshold(5_000)
	cfg.SetActive(true)

	if got := cfg.RedeemDurationHours(); got != 24 {
		t.Fatalf("redeem duration: got %d", got)
	}
	if got := cfg.AuctionDurationHours(); got != 48 {
		t.Fatalf("auction duration: got %d", got)
	}
	if got := cfg.RedeemFine(); got != 500 {
		t.Fatalf("redeem fine: got %d", got)
	}
	if got := cfg.RedeemThreshold(); got != 5_000 {
		t.Fatalf("redeem threshold: got %d", got)
	}
	if got := cfg.LTV(); got != 3_000 {
		t.Fatalf("ltv: got %d", got)
	}
	if !cfg.Active() || cfg.Frozen() {
		t.Fatalf("unexpected flags: active=%v frozen=%v", cfg.Active(), cfg.Frozen())
	}
}

func TestConfigurationCloneIsolation(t *testing.T) {
	var cfg ReserveConfiguration
	cfg.SetLTV(4_000)
	clone := cfg.Clone()
	clone.SetLTV(1)
	if got := cfg.LTV(); got != 4_000 {
		t.Fatalf("clone write leaked into original: got %d", got)
	}
}
