package lend

import "math/big"

// Reserve and collateral configuration are packed into big.Int bitsets so a
// configurator update is a single field write and the stored form matches the
// wire form byte for byte.
//
// Reserve layout (bit offsets):
//
//	0..15    loan-to-value, bps
//	16..31   liquidation threshold, bps
//	32..47   liquidation bonus, bps
//	48..55   underlying decimals
//	56       active flag
//	57       frozen flag
//	58       borrowing enabled flag
//	64..79   reserve factor, bps
//
// Collateral (NFT) layout:
//
//	0..15    loan-to-value, bps
//	16..31   liquidation threshold, bps
//	32..47   liquidation bonus, bps
//	48..63   redeem duration, hours
//	64..79   auction duration, hours
//	80..95   redeem fine, bps
//	96..111  redeem threshold, bps
//	112      active flag
//	113      frozen flag
const (
	cfgLTVOffset              = 0
	cfgLiqThresholdOffset     = 16
	cfgLiqBonusOffset         = 32
	cfgDecimalsOffset         = 48
	cfgActiveBit              = 56
	cfgFrozenBit              = 57
	cfgBorrowingBit           = 58
	cfgReserveFactorOffset    = 64
	cfgRedeemDurationOffset   = 48
	cfgAuctionDurationOffset  = 64
	cfgRedeemFineOffset       = 80
	cfgRedeemThresholdOffset  = 96
	cfgNftActiveBit           = 112
	cfgNftFrozenBit           = 113
)

func getBits(data *big.Int, offset, size uint) uint64 {
	if data == nil {
		return 0
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), size), big.NewInt(1))
	v := new(big.Int).Rsh(data, offset)
	v.And(v, mask)
	return v.Uint64()
}

func setBits(data *big.Int, offset, size uint, value uint64) *big.Int {
	if data == nil {
		data = new(big.Int)
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), size), big.NewInt(1))
	cleared := new(big.Int).AndNot(data, new(big.Int).Lsh(mask, offset))
	v := new(big.Int).And(new(big.Int).SetUint64(value), mask)
	return cleared.Or(cleared, v.Lsh(v, offset))
}

func getFlag(data *big.Int, bit uint) bool {
	if data == nil {
		return false
	}
	return data.Bit(int(bit)) == 1
}

func setFlag(data *big.Int, bit uint, value bool) *big.Int {
	if data == nil {
		data = new(big.Int)
	}
	out := new(big.Int).Set(data)
	if value {
		return out.SetBit(out, int(bit), 1)
	}
	return out.SetBit(out, int(bit), 0)
}

// ReserveConfiguration is the packed configuration bitset for a reserve.
type ReserveConfiguration struct {
	Data *big.Int `json:"data"`
}

func (c *ReserveConfiguration) ensure() {
	if c.Data == nil {
		c.Data = new(big.Int)
	}
}

func (c *ReserveConfiguration) Clone() ReserveConfiguration {
	clone := ReserveConfiguration{Data: new(big.Int)}
	if c != nil && c.Data != nil {
		clone.Data.Set(c.Data)
	}
	return clone
}

func (c *ReserveConfiguration) LTV() uint64          { return getBits(c.Data, cfgLTVOffset, 16) }
func (c *ReserveConfiguration) LiqThreshold() uint64 { return getBits(c.Data, cfgLiqThresholdOffset, 16) }
func (c *ReserveConfiguration) LiqBonus() uint64     { return getBits(c.Data, cfgLiqBonusOffset, 16) }
func (c *ReserveConfiguration) Decimals() uint64     { return getBits(c.Data, cfgDecimalsOffset, 8) }
func (c *ReserveConfiguration) Active() bool         { return getFlag(c.Data, cfgActiveBit) }
func (c *ReserveConfiguration) Frozen() bool         { return getFlag(c.Data, cfgFrozenBit) }
func (c *ReserveConfiguration) BorrowingEnabled() bool {
	return getFlag(c.Data, cfgBorrowingBit)
}
func (c *ReserveConfiguration) ReserveFactor() uint64 {
	return getBits(c.Data, cfgReserveFactorOffset, 16)
}

func (c *ReserveConfiguration) SetLTV(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLTVOffset, 16, bps)
}
func (c *ReserveConfiguration) SetLiqThreshold(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLiqThresholdOffset, 16, bps)
}
func (c *ReserveConfiguration) SetLiqBonus(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLiqBonusOffset, 16, bps)
}
func (c *ReserveConfiguration) SetDecimals(decimals uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgDecimalsOffset, 8, decimals)
}
func (c *ReserveConfiguration) SetActive(active bool) {
	c.ensure()
	c.Data = setFlag(c.Data, cfgActiveBit, active)
}
func (c *ReserveConfiguration) SetFrozen(frozen bool) {
	c.ensure()
	c.Data = setFlag(c.Data, cfgFrozenBit, frozen)
}
func (c *ReserveConfiguration) SetBorrowingEnabled(enabled bool) {
	c.ensure()
	c.Data = setFlag(c.Data, cfgBorrowingBit, enabled)
}
func (c *ReserveConfiguration) SetReserveFactor(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgReserveFactorOffset, 16, bps)
}

// NftConfiguration is the packed configuration bitset for a collateral asset
// class.
type NftConfiguration struct {
	Data *big.Int `json:"data"`
}

func (c *NftConfiguration) ensure() {
	if c.Data == nil {
		c.Data = new(big.Int)
	}
}

func (c *NftConfiguration) Clone() NftConfiguration {
	clone := NftConfiguration{Data: new(big.Int)}
	if c != nil && c.Data != nil {
		clone.Data.Set(c.Data)
	}
	return clone
}

func (c *NftConfiguration) LTV() uint64          { return getBits(c.Data, cfgLTVOffset, 16) }
func (c *NftConfiguration) LiqThreshold() uint64 { return getBits(c.Data, cfgLiqThresholdOffset, 16) }
func (c *NftConfiguration) LiqBonus() uint64     { return getBits(c.Data, cfgLiqBonusOffset, 16) }
func (c *NftConfiguration) RedeemDurationHours() uint64 {
	return getBits(c.Data, cfgRedeemDurationOffset, 16)
}
func (c *NftConfiguration) AuctionDurationHours() uint64 {
	return getBits(c.Data, cfgAuctionDurationOffset, 16)
}
func (c *NftConfiguration) RedeemFine() uint64 {
	return getBits(c.Data, cfgRedeemFineOffset, 16)
}
func (c *NftConfiguration) RedeemThreshold() uint64 {
	return getBits(c.Data, cfgRedeemThresholdOffset, 16)
}
func (c *NftConfiguration) Active() bool { return getFlag(c.Data, cfgNftActiveBit) }
func (c *NftConfiguration) Frozen() bool { return getFlag(c.Data, cfgNftFrozenBit) }

func (c *NftConfiguration) SetLTV(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLTVOffset, 16, bps)
}
func (c *NftConfiguration) SetLiqThreshold(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLiqThresholdOffset, 16, bps)
}
func (c *NftConfiguration) SetLiqBonus(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgLiqBonusOffset, 16, bps)
}
func (c *NftConfiguration) SetRedeemDurationHours(hours uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgRedeemDurationOffset, 16, hours)
}
func (c *NftConfiguration) SetAuctionDurationHours(hours uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgAuctionDurationOffset, 16, hours)
}
func (c *NftConfiguration) SetRedeemFine(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgRedeemFineOffset, 16, bps)
}
func (c *NftConfiguration) SetRedeemThreshold(bps uint64) {
	c.ensure()
	c.Data = setBits(c.Data, cfgRedeemThresholdOffset, 16, bps)
}
func (c *NftConfiguration) SetActive(active bool) {
	c.ensure()
	c.Data = setFlag(c.Data, cfgNftActiveBit, active)
}
func (c *NftConfiguration) SetFrozen(frozen bool) {
	c.ensure()
	c.Data = setFlag(c.Data, cfgNftFrozenBit, frozen)
}
