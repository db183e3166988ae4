package lend

import (
	"math/big"
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	EventTypeDeposit   = "lend.deposit"
	EventTypeWithdraw  = "lend.withdraw"
	EventTypeBorrow    = "lend.borrow"
	EventTypeRepay     = "lend.repay"
	EventTypeAuction   = "lend.auction"
	EventTypeRedeem    = "lend.redeem"
	EventTypeLiquidate = "lend.liquidate"
)

// EventSink receives the structured event emitted at the end of every
// successful mutating operation.
type EventSink interface {
	Emit(evt *types.Event)
}

func eventAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return make(map[string]string)
	}
	return attrs
}

func putAmount(attrs map[string]string, key string, amount *big.Int) {
	if amount != nil {
		attrs[key] = amount.String()
	}
}

// NewDepositEvent returns the canonical payload for a reserve deposit.
func NewDepositEvent(reserve string, caller, onBehalfOf crypto.Address, amount *big.Int) *types.Event {
	attrs := eventAttrs(map[string]string{
		"reserve":    reserve,
		"caller":     caller.String(),
		"onBehalfOf": onBehalfOf.String(),
	})
	putAmount(attrs, "amount", amount)
	return &types.Event{Type: EventTypeDeposit, Attributes: attrs}
}

// NewWithdrawEvent returns the canonical payload for a reserve withdrawal.
func NewWithdrawEvent(reserve string, caller, to crypto.Address, amount *big.Int) *types.Event {
	attrs := eventAttrs(map[string]string{
		"reserve": reserve,
		"caller":  caller.String(),
		"to":      to.String(),
	})
	putAmount(attrs, "amount", amount)
	return &types.Event{Type: EventTypeWithdraw, Attributes: attrs}
}

func loanEvent(eventType string, loan *LoanData) *types.Event {
	attrs := eventAttrs(nil)
	if loan == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(loan.LoanID, 10)
	attrs["state"] = loan.State.String()
	attrs["borrower"] = loan.Borrower.String()
	attrs["nftAsset"] = loan.NftAsset
	attrs["nftTokenId"] = strconv.FormatUint(loan.NftTokenID, 10)
	attrs["reserve"] = loan.ReserveAsset
	putAmount(attrs, "amount", loan.Amount)
	if !loan.Bidder.IsZero() {
		attrs["bidder"] = loan.Bidder.String()
	}
	putAmount(attrs, "bidPrice", loan.BidPrice)
	putAmount(attrs, "bidFine", loan.BidFine)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBorrowEvent returns the canonical payload for a drawdown.
func NewBorrowEvent(loan *LoanData, caller crypto.Address, amount *big.Int) *types.Event {
	evt := loanEvent(EventTypeBorrow, loan)
	evt.Attributes["caller"] = caller.String()
	putAmount(evt.Attributes, "borrowed", amount)
	return evt
}

// NewRepayEvent returns the canonical payload for a repayment.
func NewRepayEvent(loan *LoanData, caller crypto.Address, amount *big.Int) *types.Event {
	evt := loanEvent(EventTypeRepay, loan)
	evt.Attributes["caller"] = caller.String()
	putAmount(evt.Attributes, "repaid", amount)
	return evt
}

// NewAuctionEvent returns the canonical payload when a bid opens or
// supersedes an auction.
func NewAuctionEvent(loan *LoanData, caller crypto.Address) *types.Event {
	evt := loanEvent(EventTypeAuction, loan)
	evt.Attributes["caller"] = caller.String()
	return evt
}

// NewRedeemEvent returns the canonical payload for a successful redeem.
func NewRedeemEvent(loan *LoanData, caller crypto.Address, payoff *big.Int) *types.Event {
	evt := loanEvent(EventTypeRedeem, loan)
	evt.Attributes["caller"] = caller.String()
	putAmount(evt.Attributes, "payoff", payoff)
	return evt
}

// NewLiquidateEvent returns the canonical payload for a liquidation.
func NewLiquidateEvent(loan *LoanData, caller crypto.Address, debt, surplus *big.Int) *types.Event {
	evt := loanEvent(EventTypeLiquidate, loan)
	evt.Attributes["caller"] = caller.String()
	putAmount(evt.Attributes, "debt", debt)
	putAmount(evt.Attributes, "surplus", surplus)
	return evt
}
