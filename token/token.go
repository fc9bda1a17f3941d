// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token defines the fungible token surface the bridge core pulls
// fees and locked value through, plus an in-memory implementation used by
// tests and local deployments.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient token balance")
	ErrTransferRejected  = errors.New("token transfer rejected")
)

// Token is the minimal fungible-token surface the bridge consumes.
// Transfer returns the amount actually received by the destination, which
// may be less than requested for tokens that deduct a transfer tax.
type Token interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) (*big.Int, error)
	Approve(owner, spender common.Address, amount *big.Int)
	Allowance(owner, spender common.Address) *big.Int
}

// TransferHook runs inside Transfer before balances move. A non-nil error
// aborts the transfer. Tests use it to model tokens with hostile hooks.
type TransferHook func(from, to common.Address, amount *big.Int) error

// MemToken is an in-memory Token. TaxBasisPoints, when nonzero, is the
// share of every transfer withheld (burned), modelling fee-on-transfer
// tokens.
type MemToken struct {
	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	TaxBasisPoints uint64
	hook           TransferHook
}

const basisPoints = 10000

// NewMemToken creates an empty in-memory token.
func NewMemToken() *MemToken {
	return &MemToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits addr with amount out of thin air.
func (t *MemToken) Mint(addr common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[addr] = new(big.Int).Add(t.balance(addr), amount)
}

// SetHook installs a transfer hook. Pass nil to clear.
func (t *MemToken) SetHook(hook TransferHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = hook
}

func (t *MemToken) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(addr))
}

// Transfer moves amount from one holder to another, returning the amount
// the destination actually received after any transfer tax.
func (t *MemToken) Transfer(from, to common.Address, amount *big.Int) (*big.Int, error) {
	t.mu.Lock()
	hook := t.hook
	t.mu.Unlock()

	// The hook runs unlocked so it can call back into the token or the
	// bridge, the way an EVM token's transfer hook reaches arbitrary code.
	if hook != nil {
		if err := hook(from, to, amount); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if amount == nil || amount.Sign() < 0 {
		return nil, ErrTransferRejected
	}
	if t.balance(from).Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}

	received := new(big.Int).Set(amount)
	if t.TaxBasisPoints > 0 {
		tax := new(big.Int).Mul(amount, new(big.Int).SetUint64(t.TaxBasisPoints))
		tax.Div(tax, big.NewInt(basisPoints))
		received.Sub(received, tax)
	}

	t.balances[from] = new(big.Int).Sub(t.balance(from), amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), received)
	return received, nil
}

func (t *MemToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (t *MemToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.allowances[owner] == nil || t.allowances[owner][spender] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t.allowances[owner][spender])
}

// balance returns the stored balance without copying. Callers hold t.mu.
func (t *MemToken) balance(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}
