// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry holds the owner-mutated allow-lists consulted by the
// send path: which tokens may pay message fees and which relayers may
// deliver outbound messages.
package registry

import (
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

var (
	ErrUnauthorized   = errors.New("caller is not the registry owner")
	ErrDuplicateEntry = errors.New("entry already present")
	ErrNotFound       = errors.New("entry not present")
)

// Registry is the fee-token allow-list plus the ordered relayer set.
// Both are mutated only by the owner fixed at construction.
type Registry struct {
	mu    sync.RWMutex
	owner common.Address
	log   log.Logger

	feeTokens map[common.Address]bool

	// relayers is kept dense so the full list can be attached to outbound
	// messages; relayerIndex gives O(1) removal by swap-and-pop.
	relayers     []common.Address
	relayerIndex map[common.Address]int
}

// New creates a registry owned by owner. A nil logger gets a default.
func New(owner common.Address, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Registry{
		owner:        owner,
		log:          logger,
		feeTokens:    make(map[common.Address]bool),
		relayers:     make([]common.Address, 0),
		relayerIndex: make(map[common.Address]int),
	}
}

// Owner returns the authority allowed to mutate the registry.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// SetFeeToken adds or removes a token from the fee allow-list.
func (r *Registry) SetFeeToken(caller, token common.Address, add bool) error {
	if caller != r.owner {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if add {
		if r.feeTokens[token] {
			return ErrDuplicateEntry
		}
		r.feeTokens[token] = true
	} else {
		if !r.feeTokens[token] {
			return ErrNotFound
		}
		delete(r.feeTokens, token)
	}
	r.log.Info("fee token option updated", "token", token, "added", add)
	return nil
}

// SetRelayer adds or removes a relayer from the allow-list.
func (r *Registry) SetRelayer(caller, relayer common.Address, add bool) error {
	if caller != r.owner {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if add {
		if _, ok := r.relayerIndex[relayer]; ok {
			return ErrDuplicateEntry
		}
		r.relayerIndex[relayer] = len(r.relayers)
		r.relayers = append(r.relayers, relayer)
	} else {
		idx, ok := r.relayerIndex[relayer]
		if !ok {
			return ErrNotFound
		}
		// Swap with the last entry, fix its index, shrink.
		last := len(r.relayers) - 1
		moved := r.relayers[last]
		r.relayers[idx] = moved
		r.relayerIndex[moved] = idx
		r.relayers = r.relayers[:last]
		delete(r.relayerIndex, relayer)
	}
	r.log.Info("relayer allow-list updated", "relayer", relayer, "added", add)
	return nil
}

// IsFeeToken reports fee allow-list membership.
func (r *Registry) IsFeeToken(token common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeTokens[token]
}

// IsRelayer reports relayer allow-list membership.
func (r *Registry) IsRelayer(relayer common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.relayerIndex[relayer]
	return ok
}

// Relayers returns a copy of the relayer list. Order is insertion order
// except where removals have swapped entries.
func (r *Registry) Relayers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.relayers))
	copy(out, r.relayers)
	return out
}
