// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message defines the bridge message union exchanged between
// bridge instances and its canonical binary encoding.
package message

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Type tags the payload variant carried by a Message.
type Type uint8

const (
	TypeSingleHopSend Type = iota + 1
	TypeSingleHopCall
	TypeMultiHopSend
	TypeMultiHopCall
)

func (t Type) String() string {
	switch t {
	case TypeSingleHopSend:
		return "SINGLE_HOP_SEND"
	case TypeSingleHopCall:
		return "SINGLE_HOP_CALL"
	case TypeMultiHopSend:
		return "MULTI_HOP_SEND"
	case TypeMultiHopCall:
		return "MULTI_HOP_CALL"
	default:
		return "UNKNOWN"
	}
}

// Message is the envelope shared by all variants. Exactly one of the
// payload fields is non-nil, matching Type.
type Message struct {
	Type   Type
	Amount *big.Int

	SingleHopSend *SingleHopSend
	SingleHopCall *SingleHopCall
	MultiHopSend  *MultiHopSend
	MultiHopCall  *MultiHopCall
}

// SingleHopSend releases the amount directly to a recipient address.
type SingleHopSend struct {
	Recipient common.Address
}

// SingleHopCall releases the amount through a programmable call to a
// recipient contract. SourceChainID names the chain whose bridge built
// this message and must match the transport's attribution on delivery.
// OriginChainID and OriginSender identify where the transfer originally
// entered the bridge, which differs from SourceChainID after a multi-hop.
type SingleHopCall struct {
	SourceChainID     uint32
	OriginChainID     uint32
	OriginSender      common.Address
	RecipientContract common.Address
	RecipientPayload  []byte
	RecipientGasLimit uint64
	FallbackRecipient common.Address
}

// MultiHopSend instructs the receiving bridge to re-lock the amount and
// forward it to a third endpoint.
type MultiHopSend struct {
	DestinationChainID uint32
	DestinationBridge  common.Address
	Recipient          common.Address
	OriginSender       common.Address
	SecondaryFeeToken  common.Address
	SecondaryFee       *big.Int
	SecondaryGasLimit  uint64
}

// MultiHopCall is the call-forwarding analogue of MultiHopSend.
type MultiHopCall struct {
	DestinationChainID uint32
	DestinationBridge  common.Address
	RecipientContract  common.Address
	RecipientPayload   []byte
	RecipientGasLimit  uint64
	FallbackRecipient  common.Address
	OriginSender       common.Address
	SecondaryFeeToken  common.Address
	SecondaryFee       *big.Int
	SecondaryGasLimit  uint64
}

// Codec errors
var (
	ErrMalformedMessage   = errors.New("malformed bridge message")
	ErrUnknownMessageType = errors.New("unknown bridge message type")
	ErrAmountOverflow     = errors.New("bridge message amount exceeds 256 bits")
)

// NewSingleHopSend builds a SINGLE_HOP_SEND message.
func NewSingleHopSend(amount *big.Int, recipient common.Address) *Message {
	return &Message{
		Type:          TypeSingleHopSend,
		Amount:        new(big.Int).Set(amount),
		SingleHopSend: &SingleHopSend{Recipient: recipient},
	}
}

// NewSingleHopCall builds a SINGLE_HOP_CALL message.
func NewSingleHopCall(amount *big.Int, call *SingleHopCall) *Message {
	return &Message{
		Type:          TypeSingleHopCall,
		Amount:        new(big.Int).Set(amount),
		SingleHopCall: call,
	}
}

// NewMultiHopSend builds a MULTI_HOP_SEND message.
func NewMultiHopSend(amount *big.Int, hop *MultiHopSend) *Message {
	return &Message{
		Type:         TypeMultiHopSend,
		Amount:       new(big.Int).Set(amount),
		MultiHopSend: hop,
	}
}

// NewMultiHopCall builds a MULTI_HOP_CALL message.
func NewMultiHopCall(amount *big.Int, hop *MultiHopCall) *Message {
	return &Message{
		Type:         TypeMultiHopCall,
		Amount:       new(big.Int).Set(amount),
		MultiHopCall: hop,
	}
}
