// Package ledger provides in-memory implementations of the external
// collaborators the lending pool depends on: a price oracle, the receipt and
// debt token books and a collateral vault. They back tests and single-node
// deployments; production deployments substitute on-chain contracts.
package ledger

import (
	"errors"
	"math/big"
	"sync"

	"nftlend/crypto"
)

var (
	ErrUnknownAsset      = errors.New("ledger: unknown asset")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrTokenNotOwned     = errors.New("ledger: token not owned by transferor")
	ErrTokenHeld         = errors.New("ledger: token already in custody")
	ErrTokenNotHeld      = errors.New("ledger: token not in custody")
)

var oneRay = func() *big.Int {
	v, _ := new(big.Int).SetString("1000000000000000000000000000", 10)
	return v
}()

// scaleDown converts an underlying amount into scaled units at the given ray
// index, rounding half-up to match the pool's arithmetic.
func scaleDown(amount, index *big.Int) (*big.Int, error) {
	if amount == nil || index == nil || index.Sign() == 0 {
		return nil, ErrInsufficientFunds
	}
	out := new(big.Int).Mul(amount, oneRay)
	out.Add(out, new(big.Int).Rsh(index, 1))
	return out.Quo(out, index), nil
}

func addrKey(addr crypto.Address) string { return string(addr.Bytes()) }

// StaticOracle serves operator-set prices. Prices are wad values in a common
// numeraire.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

// SetPrice installs or updates the price for an asset.
func (o *StaticOracle) SetPrice(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil {
		delete(o.prices, asset)
		return
	}
	o.prices[asset] = new(big.Int).Set(price)
}

func (o *StaticOracle) PriceOf(asset string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	return new(big.Int).Set(price), nil
}

// ReceiptBank keeps the receipt-token book and the underlying cash it
// escrows. Receipt balances are scaled; cash balances are plain underlying
// units held per account, with the pool escrow tracked separately per asset.
type ReceiptBank struct {
	mu       sync.Mutex
	cash     map[string]map[string]*big.Int
	escrow   map[string]*big.Int
	receipts map[string]map[string]*big.Int
}

func NewReceiptBank() *ReceiptBank {
	return &ReceiptBank{
		cash:     make(map[string]map[string]*big.Int),
		escrow:   make(map[string]*big.Int),
		receipts: make(map[string]map[string]*big.Int),
	}
}

func getBucket(m map[string]map[string]*big.Int, asset string) map[string]*big.Int {
	bucket, ok := m[asset]
	if !ok {
		bucket = make(map[string]*big.Int)
		m[asset] = bucket
	}
	return bucket
}

func balanceOf(bucket map[string]*big.Int, key string) *big.Int {
	if v, ok := bucket[key]; ok {
		return v
	}
	zero := big.NewInt(0)
	bucket[key] = zero
	return zero
}

// Fund credits underlying cash to an account, seeding test and genesis
// balances.
func (b *ReceiptBank) Fund(asset string, addr crypto.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := balanceOf(getBucket(b.cash, asset), addrKey(addr))
	bal.Add(bal, amount)
}

// CashOf reports an account's underlying balance.
func (b *ReceiptBank) CashOf(asset string, addr crypto.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(balanceOf(getBucket(b.cash, asset), addrKey(addr)))
}

// EscrowOf reports the underlying held by the pool for an asset.
func (b *ReceiptBank) EscrowOf(asset string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.escrow[asset]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Mint credits scaled receipt tokens at the given liquidity index.
func (b *ReceiptBank) Mint(asset string, to crypto.Address, amount, index *big.Int) error {
	scaled, err := scaleDown(amount, index)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := balanceOf(getBucket(b.receipts, asset), addrKey(to))
	bal.Add(bal, scaled)
	return nil
}

// Burn debits scaled receipt tokens and pays underlying to the receiver.
func (b *ReceiptBank) Burn(asset string, from, receiver crypto.Address, amount, index *big.Int) error {
	scaled, err := scaleDown(amount, index)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := balanceOf(getBucket(b.receipts, asset), addrKey(from))
	if bal.Cmp(scaled) < 0 {
		// Index rounding can leave the last burn a hair above the
		// recorded balance; clear it instead of failing a full exit.
		diff := new(big.Int).Sub(scaled, bal)
		if diff.Cmp(big.NewInt(2)) > 0 {
			return ErrInsufficientFunds
		}
		scaled = new(big.Int).Set(bal)
	}
	bal.Sub(bal, scaled)
	return b.payOutLocked(asset, receiver, amount)
}

// BalanceOf reports the scaled receipt balance.
func (b *ReceiptBank) BalanceOf(asset string, addr crypto.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(balanceOf(getBucket(b.receipts, asset), addrKey(addr))), nil
}

// TransferUnderlyingTo pays underlying out of the pool escrow.
func (b *ReceiptBank) TransferUnderlyingTo(asset string, to crypto.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payOutLocked(asset, to, amount)
}

// TransferUnderlyingFrom pulls underlying from an account into the escrow.
func (b *ReceiptBank) TransferUnderlyingFrom(asset string, from crypto.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return ErrInsufficientFunds
	}
	bal := balanceOf(getBucket(b.cash, asset), addrKey(from))
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	escrow, ok := b.escrow[asset]
	if !ok {
		escrow = big.NewInt(0)
		b.escrow[asset] = escrow
	}
	escrow.Add(escrow, amount)
	return nil
}

func (b *ReceiptBank) payOutLocked(asset string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInsufficientFunds
	}
	escrow, ok := b.escrow[asset]
	if !ok || escrow.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	escrow.Sub(escrow, amount)
	bal := balanceOf(getBucket(b.cash, asset), addrKey(to))
	bal.Add(bal, amount)
	return nil
}

// DebtBook keeps the variable debt token book in scaled units.
type DebtBook struct {
	mu    sync.Mutex
	debts map[string]map[string]*big.Int
}

func NewDebtBook() *DebtBook {
	return &DebtBook{debts: make(map[string]map[string]*big.Int)}
}

// Mint credits scaled debt at the given borrow index.
func (d *DebtBook) Mint(asset string, to crypto.Address, amount, index *big.Int) error {
	scaled, err := scaleDown(amount, index)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bal := balanceOf(getBucket(d.debts, asset), addrKey(to))
	bal.Add(bal, scaled)
	return nil
}

// Burn debits scaled debt, clamping rounding dust on a full payoff.
func (d *DebtBook) Burn(asset string, from crypto.Address, amount, index *big.Int) error {
	scaled, err := scaleDown(amount, index)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bal := balanceOf(getBucket(d.debts, asset), addrKey(from))
	if bal.Cmp(scaled) < 0 {
		scaled = new(big.Int).Set(bal)
	}
	bal.Sub(bal, scaled)
	return nil
}

// ScaledDebtOf reports the scaled debt balance.
func (d *DebtBook) ScaledDebtOf(asset string, addr crypto.Address) *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return new(big.Int).Set(balanceOf(getBucket(d.debts, asset), addrKey(addr)))
}

type tokenRef struct {
	asset   string
	tokenID uint64
}

type tokenRecord struct {
	owner crypto.Address
	held  bool
}

// Vault is the collateral custody: it records token ownership and locks
// tokens for the duration of a loan.
type Vault struct {
	mu     sync.Mutex
	tokens map[tokenRef]*tokenRecord
}

func NewVault() *Vault {
	return &Vault{tokens: make(map[tokenRef]*tokenRecord)}
}

// SetOwner seeds or overrides token ownership.
func (v *Vault) SetOwner(nftAsset string, tokenID uint64, owner crypto.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[tokenRef{asset: nftAsset, tokenID: tokenID}] = &tokenRecord{owner: owner}
}

// OwnerOf reports the current owner and whether the token is locked.
func (v *Vault) OwnerOf(nftAsset string, tokenID uint64) (crypto.Address, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.tokens[tokenRef{asset: nftAsset, tokenID: tokenID}]
	if !ok {
		return crypto.Address{}, false
	}
	return rec.owner, rec.held
}

// TransferIn locks a token owned by from.
func (v *Vault) TransferIn(nftAsset string, tokenID uint64, from crypto.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.tokens[tokenRef{asset: nftAsset, tokenID: tokenID}]
	if !ok || !rec.owner.Equal(from) {
		return ErrTokenNotOwned
	}
	if rec.held {
		return ErrTokenHeld
	}
	rec.held = true
	return nil
}

// TransferOut releases a locked token to the receiver.
func (v *Vault) TransferOut(nftAsset string, tokenID uint64, to crypto.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.tokens[tokenRef{asset: nftAsset, tokenID: tokenID}]
	if !ok || !rec.held {
		return ErrTokenNotHeld
	}
	rec.held = false
	rec.owner = to
	return nil
}
