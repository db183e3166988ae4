package config

import (
	"fmt"
	"math/big"
)

// ValidateConfig rejects parameter files that would register unsafe markets.
func ValidateConfig(c *Config) error {
	if c.Pool.MaxReserves < 0 || c.Pool.MaxCollections < 0 {
		return fmt.Errorf("pool: negative registry limit")
	}
	if c.Pool.MinBidDeltaBPS > 10_000 {
		return fmt.Errorf("pool: min_bid_delta_bps > 10000")
	}
	if c.RateModel.OptimalBPS == 0 || c.RateModel.OptimalBPS > 10_000 {
		return fmt.Errorf("ratemodel: optimal_bps outside (0, 10000]")
	}
	for _, r := range c.Reserves {
		if r.Asset == "" {
			return fmt.Errorf("reserve: empty asset")
		}
		if r.LTVBPS > r.LiqThresholdBPS {
			return fmt.Errorf("reserve %s: ltv_bps > liq_threshold_bps", r.Asset)
		}
		if r.LiqThresholdBPS > 10_000 {
			return fmt.Errorf("reserve %s: liq_threshold_bps > 10000", r.Asset)
		}
		if r.LiqBonusBPS > 10_000 {
			return fmt.Errorf("reserve %s: liq_bonus_bps > 10000", r.Asset)
		}
		if r.ReserveFactorBPS > 10_000 {
			return fmt.Errorf("reserve %s: reserve_factor_bps > 10000", r.Asset)
		}
		if r.Decimals > 38 {
			return fmt.Errorf("reserve %s: decimals > 38", r.Asset)
		}
		if r.BorrowCap != "" {
			if _, ok := new(big.Int).SetString(r.BorrowCap, 10); !ok {
				return fmt.Errorf("reserve %s: borrow_cap not a base-10 integer", r.Asset)
			}
		}
	}
	for _, n := range c.Collections {
		if n.Asset == "" {
			return fmt.Errorf("collection: empty asset")
		}
		if n.LTVBPS > n.LiqThresholdBPS {
			return fmt.Errorf("collection %s: ltv_bps > liq_threshold_bps", n.Asset)
		}
		if n.LiqThresholdBPS > 10_000 {
			return fmt.Errorf("collection %s: liq_threshold_bps > 10000", n.Asset)
		}
		if n.RedeemFineBPS > 10_000 {
			return fmt.Errorf("collection %s: redeem_fine_bps > 10000", n.Asset)
		}
		if n.RedeemDurationHrs == 0 || n.AuctionDurationHrs == 0 {
			return fmt.Errorf("collection %s: zero auction or redeem window", n.Asset)
		}
	}
	for _, p := range c.Prices {
		if p.Asset == "" {
			return fmt.Errorf("price: empty asset")
		}
		v, ok := new(big.Int).SetString(p.Price, 10)
		if !ok || v.Sign() <= 0 {
			return fmt.Errorf("price %s: not a positive base-10 integer", p.Asset)
		}
	}
	return nil
}
