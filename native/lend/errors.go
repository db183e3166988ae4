package lend

import "errors"

// Validation errors: a precondition failed before any state was touched.
var (
	ErrInvalidAmount          = errors.New("lend pool: amount must be positive")
	ErrReserveNotRegistered   = errors.New("lend pool: reserve not registered")
	ErrReserveNotActive       = errors.New("lend pool: reserve not active")
	ErrReserveFrozen          = errors.New("lend pool: reserve frozen")
	ErrBorrowingDisabled      = errors.New("lend pool: borrowing not enabled on reserve")
	ErrNftNotRegistered       = errors.New("lend pool: collateral asset not registered")
	ErrNftNotActive           = errors.New("lend pool: collateral asset not active")
	ErrNftFrozen              = errors.New("lend pool: collateral asset frozen")
	ErrInsufficientBalance    = errors.New("lend pool: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("lend pool: insufficient reserve liquidity")
	ErrHealthFactorTooLow     = errors.New("lend pool: health factor would drop below 1")
	ErrHealthFactorNotBelow   = errors.New("lend pool: health factor not below 1")
	ErrBorrowCapExceeded      = errors.New("lend pool: reserve borrow cap exceeded")
	ErrUtilisationCapExceeded = errors.New("lend pool: reserve utilisation cap exceeded")
	ErrBidPriceTooLow         = errors.New("lend pool: bid price below required minimum")
	ErrRedeemAmountTooLow     = errors.New("lend pool: redeem amount below debt and bid fine")
	ErrRegistryFull           = errors.New("lend pool: registry capacity reached")
	ErrAlreadyRegistered      = errors.New("lend pool: asset already registered")
)

// State errors: the requested transition is invalid for the loan's state.
var (
	ErrLoanNotFound       = errors.New("lend pool: loan not found")
	ErrLoanNotActive      = errors.New("lend pool: loan not in active state")
	ErrLoanNotInAuction   = errors.New("lend pool: loan not in auction state")
	ErrLoanTerminal       = errors.New("lend pool: loan already closed")
	ErrRedeemWindowClosed = errors.New("lend pool: redeem window has elapsed")
	ErrRedeemWindowOpen   = errors.New("lend pool: redeem window still open")
	ErrLoanAlreadyOpen    = errors.New("lend pool: token already backs an open loan")
)

// External errors: a collaborator call failed or returned an unusable result.
var (
	ErrOracleUnavailable = errors.New("lend pool: oracle price unavailable")
	ErrOracleZeroPrice   = errors.New("lend pool: oracle returned zero price")
)

// Arithmetic errors: fixed-point math cannot proceed; the operation aborts
// rather than saturating or wrapping.
var (
	ErrDivisionByZero = errors.New("lend pool: division by zero")
	ErrNegativeAmount = errors.New("lend pool: negative amount in fixed-point math")
)

// Engine wiring errors.
var (
	ErrNilState  = errors.New("lend pool: state not configured")
	ErrNilLedger = errors.New("lend pool: external ledger not configured")
)
