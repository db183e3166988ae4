package lend

import (
	"math/big"

	"nftlend/crypto"
)

// LoanState enumerates the lifecycle states of a collateralized loan. None is
// never stored; it is the absence of an open loan id for a token.
type LoanState uint8

const (
	LoanNone LoanState = iota
	LoanActive
	LoanAuction
	LoanRepaid
	LoanRedeemed
	LoanLiquidated
)

func (s LoanState) String() string {
	switch s {
	case LoanNone:
		return "none"
	case LoanActive:
		return "active"
	case LoanAuction:
		return "auction"
	case LoanRepaid:
		return "repaid"
	case LoanRedeemed:
		return "redeemed"
	case LoanLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state closes the loan permanently.
func (s LoanState) Terminal() bool {
	return s == LoanRepaid || s == LoanRedeemed || s == LoanLiquidated
}

// ReserveData captures the accounting state of a fungible reserve. Indexes
// are ray values starting at 1 ray and only ever increase.
type ReserveData struct {
	// Asset is the reserve asset identity used for oracle lookups and
	// ledger calls.
	Asset string `json:"asset"`
	// ID is the dense registry index assigned at registration.
	ID uint8 `json:"id"`
	// Config is the packed configuration bitset.
	Config ReserveConfiguration `json:"config"`
	// LiquidityIndex is the cumulative supplier yield index in ray.
	LiquidityIndex *big.Int `json:"liquidityIndex"`
	// VariableBorrowIndex is the cumulative borrower interest index in ray.
	VariableBorrowIndex *big.Int `json:"variableBorrowIndex"`
	// CurrentLiquidityRate is the annualised supplier rate in ray.
	CurrentLiquidityRate *big.Int `json:"currentLiquidityRate"`
	// CurrentBorrowRate is the annualised variable borrow rate in ray.
	CurrentBorrowRate *big.Int `json:"currentBorrowRate"`
	// LastUpdateTimestamp records when the indexes were last accrued.
	LastUpdateTimestamp int64 `json:"lastUpdateTimestamp"`
	// TotalScaledLiquidity is the receipt-token scaled supply backing the
	// reserve.
	TotalScaledLiquidity *big.Int `json:"totalScaledLiquidity"`
	// TotalScaledDebt is the debt-token scaled supply drawn from the
	// reserve.
	TotalScaledDebt *big.Int `json:"totalScaledDebt"`
	// ReceiptToken and DebtToken reference the external ledger contracts.
	ReceiptToken string `json:"receiptToken"`
	DebtToken    string `json:"debtToken"`
	// BorrowCap bounds aggregate outstanding debt; nil or zero disables it.
	BorrowCap *big.Int `json:"borrowCap,omitempty"`
	// UtilisationCapBps bounds debt relative to liquidity; zero disables it.
	UtilisationCapBps uint64 `json:"utilisationCapBps,omitempty"`
	// TreasuryAccrued collects the reserve-factor share of accrued interest.
	TreasuryAccrued *big.Int `json:"treasuryAccrued"`
}

func (r *ReserveData) ensureDefaults() {
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = Ray()
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = Ray()
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentBorrowRate == nil {
		r.CurrentBorrowRate = big.NewInt(0)
	}
	if r.TotalScaledLiquidity == nil {
		r.TotalScaledLiquidity = big.NewInt(0)
	}
	if r.TotalScaledDebt == nil {
		r.TotalScaledDebt = big.NewInt(0)
	}
	if r.TreasuryAccrued == nil {
		r.TreasuryAccrued = big.NewInt(0)
	}
}

// Clone returns a deep copy of the reserve record.
func (r *ReserveData) Clone() *ReserveData {
	if r == nil {
		return nil
	}
	clone := &ReserveData{
		Asset:               r.Asset,
		ID:                  r.ID,
		Config:              r.Config.Clone(),
		LastUpdateTimestamp: r.LastUpdateTimestamp,
		ReceiptToken:        r.ReceiptToken,
		DebtToken:           r.DebtToken,
		UtilisationCapBps:   r.UtilisationCapBps,
	}
	if r.LiquidityIndex != nil {
		clone.LiquidityIndex = new(big.Int).Set(r.LiquidityIndex)
	}
	if r.VariableBorrowIndex != nil {
		clone.VariableBorrowIndex = new(big.Int).Set(r.VariableBorrowIndex)
	}
	if r.CurrentLiquidityRate != nil {
		clone.CurrentLiquidityRate = new(big.Int).Set(r.CurrentLiquidityRate)
	}
	if r.CurrentBorrowRate != nil {
		clone.CurrentBorrowRate = new(big.Int).Set(r.CurrentBorrowRate)
	}
	if r.TotalScaledLiquidity != nil {
		clone.TotalScaledLiquidity = new(big.Int).Set(r.TotalScaledLiquidity)
	}
	if r.TotalScaledDebt != nil {
		clone.TotalScaledDebt = new(big.Int).Set(r.TotalScaledDebt)
	}
	if r.BorrowCap != nil {
		clone.BorrowCap = new(big.Int).Set(r.BorrowCap)
	}
	if r.TreasuryAccrued != nil {
		clone.TreasuryAccrued = new(big.Int).Set(r.TreasuryAccrued)
	}
	return clone
}

// TotalLiquidity projects the underlying liquidity backing the reserve at the
// current liquidity index.
func (r *ReserveData) TotalLiquidity() (*big.Int, error) {
	r.ensureDefaults()
	return rayMul(r.TotalScaledLiquidity, r.LiquidityIndex)
}

// TotalDebt projects the outstanding debt at the current borrow index.
func (r *ReserveData) TotalDebt() (*big.Int, error) {
	r.ensureDefaults()
	return rayMul(r.TotalScaledDebt, r.VariableBorrowIndex)
}

// AvailableLiquidity is total liquidity minus outstanding debt, floored at 0.
func (r *ReserveData) AvailableLiquidity() (*big.Int, error) {
	liquidity, err := r.TotalLiquidity()
	if err != nil {
		return nil, err
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Sub(liquidity, debt)
	if available.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return available, nil
}

// NftData captures a registered collateral asset class. The identity is
// immutable after registration; only the configuration bitset may change.
type NftData struct {
	Asset   string           `json:"asset"`
	ID      uint8            `json:"id"`
	Config  NftConfiguration `json:"config"`
	Custody string           `json:"custody"`
}

// Clone returns a deep copy of the collateral asset record.
func (n *NftData) Clone() *NftData {
	if n == nil {
		return nil
	}
	return &NftData{
		Asset:   n.Asset,
		ID:      n.ID,
		Config:  n.Config.Clone(),
		Custody: n.Custody,
	}
}

// LoanData is the ledger record for a single loan. Amount is the principal as
// of the BorrowIndex snapshot; the current debt is Amount scaled by the ratio
// of the reserve's borrow index to the snapshot.
type LoanData struct {
	LoanID       uint64         `json:"loanId"`
	State        LoanState      `json:"state"`
	Borrower     crypto.Address `json:"borrower"`
	NftAsset     string         `json:"nftAsset"`
	NftTokenID   uint64         `json:"nftTokenId"`
	ReserveAsset string         `json:"reserveAsset"`
	Amount       *big.Int       `json:"amount"`
	BorrowIndex  *big.Int       `json:"borrowIndex"`

	Bidder            crypto.Address `json:"bidder,omitempty"`
	BidPrice          *big.Int       `json:"bidPrice,omitempty"`
	BidBorrowAmount   *big.Int       `json:"bidBorrowAmount,omitempty"`
	BidFine           *big.Int       `json:"bidFine,omitempty"`
	BidStartTimestamp int64          `json:"bidStartTimestamp,omitempty"`
	StateTimestamp    int64          `json:"stateTimestamp"`
}

// Clone returns a deep copy of the loan record.
func (l *LoanData) Clone() *LoanData {
	if l == nil {
		return nil
	}
	clone := &LoanData{
		LoanID:            l.LoanID,
		State:             l.State,
		Borrower:          l.Borrower,
		NftAsset:          l.NftAsset,
		NftTokenID:        l.NftTokenID,
		ReserveAsset:      l.ReserveAsset,
		Bidder:            l.Bidder,
		BidStartTimestamp: l.BidStartTimestamp,
		StateTimestamp:    l.StateTimestamp,
	}
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	if l.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(l.BorrowIndex)
	}
	if l.BidPrice != nil {
		clone.BidPrice = new(big.Int).Set(l.BidPrice)
	}
	if l.BidBorrowAmount != nil {
		clone.BidBorrowAmount = new(big.Int).Set(l.BidBorrowAmount)
	}
	if l.BidFine != nil {
		clone.BidFine = new(big.Int).Set(l.BidFine)
	}
	return clone
}

// PriceOracle supplies asset prices in wad units of a common numeraire for
// both reserve and collateral assets.
type PriceOracle interface {
	PriceOf(asset string) (*big.Int, error)
}

// ReceiptLedger is the interest-bearing receipt token contract. All amounts
// are computed by the pool; the ledger never derives them.
type ReceiptLedger interface {
	Mint(asset string, to crypto.Address, amount, index *big.Int) error
	Burn(asset string, from, receiver crypto.Address, amount, index *big.Int) error
	BalanceOf(asset string, addr crypto.Address) (*big.Int, error)
	TransferUnderlyingTo(asset string, to crypto.Address, amount *big.Int) error
	TransferUnderlyingFrom(asset string, from crypto.Address, amount *big.Int) error
}

// DebtLedger is the variable debt token contract.
type DebtLedger interface {
	Mint(asset string, to crypto.Address, amount, index *big.Int) error
	Burn(asset string, from crypto.Address, amount, index *big.Int) error
}

// CollateralCustody holds locked non-fungible collateral for open loans.
type CollateralCustody interface {
	TransferIn(nftAsset string, tokenID uint64, from crypto.Address) error
	TransferOut(nftAsset string, tokenID uint64, to crypto.Address) error
}
