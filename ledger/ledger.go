package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// AssetLedger is the engine's token-movement capability. The engine never
// assumes decimals or symbol metadata; amounts are raw unsigned integers.
type AssetLedger interface {
	// BalanceOf returns the account's balance of the asset. The returned
	// value must not be mutated by the caller.
	BalanceOf(asset, account common.Address) *big.Int
	// Transfer moves amount of asset from one account to another.
	Transfer(asset, from, to common.Address, amount *big.Int) error
	// TransferFrom pulls amount of asset out of a third-party account on
	// the caller's behalf. The in-process ledger carries no authorization
	// layer, so only the balance check applies; implementations backed by
	// real custody enforce consent here.
	TransferFrom(asset, from, to common.Address, amount *big.Int) error
}

// MemLedger is an in-process AssetLedger backed by maps, used by tests and
// the simulator.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Issue credits freshly created units of the asset to an account.
func (l *MemLedger) Issue(asset, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(asset, account).Add(l.account(asset, account), amount)
}

func (l *MemLedger) BalanceOf(asset, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if accounts := l.balances[asset]; accounts != nil {
		if b := accounts[account]; b != nil {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

func (l *MemLedger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("negative transfer amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.account(asset, from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	dst := l.account(asset, to)
	dst.Add(dst, amount)
	return nil
}

// TransferFrom moves funds out of a third-party account. The in-memory
// ledger has no allowance bookkeeping, so the pull is subject only to the
// balance check.
func (l *MemLedger) TransferFrom(asset, from, to common.Address, amount *big.Int) error {
	return l.Transfer(asset, from, to, amount)
}

// account returns the live balance entry, creating it lazily. Callers hold
// the write lock.
func (l *MemLedger) account(asset, holder common.Address) *big.Int {
	accounts := l.balances[asset]
	if accounts == nil {
		accounts = make(map[common.Address]*big.Int)
		l.balances[asset] = accounts
	}
	b := accounts[holder]
	if b == nil {
		b = new(big.Int)
		accounts[holder] = b
	}
	return b
}
