// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport is the boundary to the authenticated cross-chain
// messaging layer. The bridge core only submits outbound envelopes and
// reacts to inbound ones; authentication, relaying and delivery are the
// transport's problem.
package transport

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

var ErrSendFailed = errors.New("transport rejected message")

// SendInput is one outbound cross-chain message submission.
type SendInput struct {
	DestinationChainID uint32
	DestinationBridge  common.Address
	FeeToken           common.Address
	FeeAmount          *big.Int
	RequiredGasLimit   uint64
	AllowedRelayers    []common.Address
	Message            []byte
}

// Messenger submits messages to the cross-chain transport.
type Messenger interface {
	// Send submits the message and returns its transport-assigned ID.
	Send(input SendInput) (common.Hash, error)

	// FeeAccount is the account the sender approves fee withdrawals for.
	FeeAccount() common.Address
}

// Receiver is implemented by anything that accepts authenticated inbound
// messages from the transport. The transport guarantees that
// (sourceChainID, originSender) correctly attribute the message.
type Receiver interface {
	OnMessage(sourceChainID uint32, originSender common.Address, raw []byte) error
}
