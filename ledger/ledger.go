// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger tracks, per remote bridge endpoint, how much locked value
// that endpoint is entitled to release. It is the single source of truth
// consulted by the receive path before any value leaves custody.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

var (
	ErrInsufficientBalance = errors.New("insufficient bridge balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// balancePrefix namespaces ledger records in the shared database.
var balancePrefix = []byte("brdg")

// Endpoint identifies one remote bridge instance.
type Endpoint struct {
	ChainID uint32
	Bridge  common.Address
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d:%s", e.ChainID, e.Bridge.Hex())
}

// Ledger maps endpoints to their outstanding balances. Balances are cached
// in memory and persisted through the database, so a ledger reopened over
// the same database observes prior balances. Entries are never deleted;
// they may return to zero.
type Ledger struct {
	mu       sync.RWMutex
	db       database.Database
	balances map[Endpoint]*big.Int
}

// New creates a ledger over db. db must not be nil.
func New(db database.Database) *Ledger {
	return &Ledger{
		db:       db,
		balances: make(map[Endpoint]*big.Int),
	}
}

// Credit increases the endpoint's balance. Callers must only credit after
// the corresponding value is actually held in custody.
func (l *Ledger) Credit(ep Endpoint, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.load(ep)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(current, amount)
	if err := l.store(ep, updated); err != nil {
		return err
	}
	l.balances[ep] = updated
	return nil
}

// Debit decreases the endpoint's balance, rejecting any attempt to release
// more than the endpoint has outstanding. The balance is unchanged on error.
func (l *Ledger) Debit(ep Endpoint, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.load(ep)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: endpoint %s has %s, debit of %s requested",
			ErrInsufficientBalance, ep, current, amount)
	}
	updated := new(big.Int).Sub(current, amount)
	if err := l.store(ep, updated); err != nil {
		return err
	}
	l.balances[ep] = updated
	return nil
}

// Balance returns the endpoint's outstanding balance. Unknown endpoints
// report zero.
func (l *Ledger) Balance(ep Endpoint) *big.Int {
	l.mu.RLock()
	if cached, ok := l.balances[ep]; ok {
		defer l.mu.RUnlock()
		return new(big.Int).Set(cached)
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.load(ep)
	if err != nil {
		return new(big.Int)
	}
	return new(big.Int).Set(current)
}

// load returns the current balance, consulting the cache first and the
// database on a miss. Callers hold l.mu.
func (l *Ledger) load(ep Endpoint) (*big.Int, error) {
	if cached, ok := l.balances[ep]; ok {
		return cached, nil
	}
	raw, err := l.db.Get(balanceKey(ep))
	if errors.Is(err, database.ErrNotFound) {
		zero := new(big.Int)
		l.balances[ep] = zero
		return zero, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading balance for %s: %w", ep, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("corrupt balance record for %s: %d bytes", ep, len(raw))
	}
	balance := new(uint256.Int).SetBytes32(raw).ToBig()
	l.balances[ep] = balance
	return balance, nil
}

// store persists the balance as a 32-byte big-endian record. Callers hold l.mu.
func (l *Ledger) store(ep Endpoint, balance *big.Int) error {
	v, overflow := uint256.FromBig(balance)
	if overflow {
		return fmt.Errorf("balance for %s exceeds 256 bits", ep)
	}
	record := v.Bytes32()
	if err := l.db.Put(balanceKey(ep), record[:]); err != nil {
		return fmt.Errorf("storing balance for %s: %w", ep, err)
	}
	return nil
}

func balanceKey(ep Endpoint) []byte {
	h := blake3.New()
	h.Write(balancePrefix)
	var chain [4]byte
	binary.BigEndian.PutUint32(chain[:], ep.ChainID)
	h.Write(chain[:])
	h.Write(ep.Bridge[:])
	return h.Sum(nil)
}
