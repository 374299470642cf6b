package token

import (
	"errors"
	"math/big"
	"sync"

	"rwalend/crypto"
)

var (
	ErrInvalidAsset      = errors.New("token ledger: invalid asset identifier")
	ErrInvalidAmount     = errors.New("token ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("token ledger: insufficient balance")
	ErrNotAuthority      = errors.New("token ledger: caller is not the mint authority")
)

// Ledger is an in-memory fungible token ledger covering every asset the pool
// touches: debt assets, RWA collateral tokens and the backstop asset. Mint and
// Burn are restricted to the configured authority (the pool module address);
// RWA collateral tokens are only ever transferred, never minted by the pool.
type Ledger struct {
	mu        sync.RWMutex
	authority crypto.Address
	balances  map[string]map[string]*big.Int
}

// NewLedger constructs a ledger whose mint/burn authority is the supplied
// address.
func NewLedger(authority crypto.Address) *Ledger {
	return &Ledger{
		authority: authority,
		balances:  make(map[string]map[string]*big.Int),
	}
}

func (l *Ledger) bucket(asset AssetID) map[string]*big.Int {
	key := asset.Key()
	if b, ok := l.balances[key]; ok {
		return b
	}
	b := make(map[string]*big.Int)
	l.balances[key] = b
	return b
}

// Balance returns a copy of the balance held by addr in the given asset.
func (l *Ledger) Balance(asset AssetID, addr crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !asset.Valid() {
		return big.NewInt(0)
	}
	if b, ok := l.balances[asset.Key()]; ok {
		if bal, ok := b[string(addr.Bytes())]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(asset AssetID, from, to crypto.Address, amount *big.Int) error {
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.bucket(asset)
	fromKey := string(from.Bytes())
	balance, ok := bucket[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bucket[fromKey] = new(big.Int).Sub(balance, amount)
	toKey := string(to.Bytes())
	if existing, ok := bucket[toKey]; ok {
		bucket[toKey] = new(big.Int).Add(existing, amount)
	} else {
		bucket[toKey] = new(big.Int).Set(amount)
	}
	return nil
}

// Mint credits freshly issued units to an account. Only the authority may mint.
func (l *Ledger) Mint(caller crypto.Address, asset AssetID, to crypto.Address, amount *big.Int) error {
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !caller.Equal(l.authority) {
		return ErrNotAuthority
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.bucket(asset)
	toKey := string(to.Bytes())
	if existing, ok := bucket[toKey]; ok {
		bucket[toKey] = new(big.Int).Add(existing, amount)
	} else {
		bucket[toKey] = new(big.Int).Set(amount)
	}
	return nil
}

// Burn destroys units held by an account. Only the authority may burn.
func (l *Ledger) Burn(caller crypto.Address, asset AssetID, from crypto.Address, amount *big.Int) error {
	if !asset.Valid() {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !caller.Equal(l.authority) {
		return ErrNotAuthority
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.bucket(asset)
	fromKey := string(from.Bytes())
	balance, ok := bucket[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bucket[fromKey] = new(big.Int).Sub(balance, amount)
	return nil
}
