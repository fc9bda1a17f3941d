// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package source

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/tokenbridge/message"
	"github.com/luxfi/tokenbridge/token"
)

// TokenHandler implements the asset-specific custody operations the bridge
// core drives. Deposit returns the amount actually locked, which may be
// less than supplied for fee-on-transfer assets.
type TokenHandler interface {
	Deposit(from common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(to common.Address, amount *big.Int) error
	ForwardCall(call *message.SingleHopCall, amount *big.Int) error
}

// CallReceiver is the contract-side surface of a call-forwarded transfer.
// It is told where the transfer originally entered the bridge, which after
// a multi-hop is not the chain that delivered the message.
type CallReceiver interface {
	ReceiveTokens(originChainID uint32, originSender common.Address, payload []byte) error
}

// ERC20Handler keeps bridged value as balances of a fungible token held by
// the bridge account.
type ERC20Handler struct {
	tok    token.Token
	bridge common.Address
	log    log.Logger

	mu        sync.RWMutex
	receivers map[common.Address]CallReceiver
}

// NewERC20Handler creates a handler custodying tok under the bridge account.
func NewERC20Handler(tok token.Token, bridge common.Address, logger log.Logger) *ERC20Handler {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &ERC20Handler{
		tok:       tok,
		bridge:    bridge,
		log:       logger,
		receivers: make(map[common.Address]CallReceiver),
	}
}

// RegisterReceiver binds a contract address to its call-forwarding
// implementation. Forwards to unregistered addresses fail over to the
// fallback recipient.
func (h *ERC20Handler) RegisterReceiver(addr common.Address, r CallReceiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receivers[addr] = r
}

func (h *ERC20Handler) Deposit(from common.Address, amount *big.Int) (*big.Int, error) {
	received, err := h.tok.Transfer(from, h.bridge, amount)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return received, nil
}

func (h *ERC20Handler) Withdraw(to common.Address, amount *big.Int) error {
	if _, err := h.tok.Transfer(h.bridge, to, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

// ForwardCall funds the recipient contract and invokes it. If the call
// fails, the value transfer is unwound and the full amount is paid to the
// fallback recipient instead. A succeeding recipient keeps whatever it was
// given; value it leaves unspent is not recovered.
// TODO: route partially-spent remainders to the fallback recipient once
// recipient spend tracking exists.
func (h *ERC20Handler) ForwardCall(call *message.SingleHopCall, amount *big.Int) error {
	h.mu.RLock()
	receiver, registered := h.receivers[call.RecipientContract]
	h.mu.RUnlock()

	if registered {
		if _, err := h.tok.Transfer(h.bridge, call.RecipientContract, amount); err != nil {
			return fmt.Errorf("funding recipient contract: %w", err)
		}
		err := receiver.ReceiveTokens(call.OriginChainID, call.OriginSender, call.RecipientPayload)
		if err == nil {
			return nil
		}
		h.log.Info("recipient call failed, paying fallback",
			"recipient", call.RecipientContract,
			"fallback", call.FallbackRecipient,
			"err", err)
		if _, err := h.tok.Transfer(call.RecipientContract, h.bridge, amount); err != nil {
			return fmt.Errorf("unwinding failed recipient call: %w", err)
		}
	} else {
		h.log.Info("no receiver registered, paying fallback",
			"recipient", call.RecipientContract,
			"fallback", call.FallbackRecipient)
	}

	if _, err := h.tok.Transfer(h.bridge, call.FallbackRecipient, amount); err != nil {
		return fmt.Errorf("paying fallback recipient: %w", err)
	}
	return nil
}
