package config

// Pool carries the pool-wide protocol parameters.
type Pool struct {
	MaxReserves    int    `toml:"MaxReserves"`
	MaxCollections int    `toml:"MaxCollections"`
	MinBidDeltaBPS uint64 `toml:"MinBidDeltaBPS"`
	Paused         bool   `toml:"Paused"`
}

// RateModel parameterises the two-slope interest curve in basis points.
type RateModel struct {
	BaseBPS    uint64 `toml:"BaseBPS"`
	Slope1BPS  uint64 `toml:"Slope1BPS"`
	Slope2BPS  uint64 `toml:"Slope2BPS"`
	OptimalBPS uint64 `toml:"OptimalBPS"`
}

// Reserve describes one fungible reserve to register at startup.
type Reserve struct {
	Asset             string `toml:"Asset"`
	Decimals          uint64 `toml:"Decimals"`
	ReceiptToken      string `toml:"ReceiptToken"`
	DebtToken         string `toml:"DebtToken"`
	LTVBPS            uint64 `toml:"LTVBPS"`
	LiqThresholdBPS   uint64 `toml:"LiqThresholdBPS"`
	LiqBonusBPS       uint64 `toml:"LiqBonusBPS"`
	ReserveFactorBPS  uint64 `toml:"ReserveFactorBPS"`
	BorrowCap         string `toml:"BorrowCap"`
	UtilisationCapBPS uint64 `toml:"UtilisationCapBPS"`
	BorrowingEnabled  bool   `toml:"BorrowingEnabled"`
	Frozen            bool   `toml:"Frozen"`
}

// Price seeds the static oracle with a wad price for an asset.
type Price struct {
	Asset string `toml:"Asset"`
	Price string `toml:"Price"`
}

// Collection describes one collateral asset class to register at startup.
type Collection struct {
	Asset              string `toml:"Asset"`
	Custody            string `toml:"Custody"`
	LTVBPS             uint64 `toml:"LTVBPS"`
	LiqThresholdBPS    uint64 `toml:"LiqThresholdBPS"`
	LiqBonusBPS        uint64 `toml:"LiqBonusBPS"`
	RedeemDurationHrs  uint64 `toml:"RedeemDurationHrs"`
	AuctionDurationHrs uint64 `toml:"AuctionDurationHrs"`
	RedeemFineBPS      uint64 `toml:"RedeemFineBPS"`
	RedeemThresholdBPS uint64 `toml:"RedeemThresholdBPS"`
	Frozen             bool   `toml:"Frozen"`
}
