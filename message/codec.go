// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// codecVersion is the wire format version. Bumped on any layout change.
const codecVersion = byte(1)

// Encode serializes the message into its canonical wire form: a version
// byte, a type tag, the 32-byte big-endian amount, then the variant
// fields in declaration order. Opaque payloads are uint32 length-prefixed.
func (m *Message) Encode() ([]byte, error) {
	if m.Amount == nil || m.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: missing or negative amount", ErrMalformedMessage)
	}
	amount, overflow := uint256.FromBig(m.Amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	amountBytes := amount.Bytes32()

	w := make([]byte, 0, 128)
	w = append(w, codecVersion, byte(m.Type))
	w = append(w, amountBytes[:]...)

	switch m.Type {
	case TypeSingleHopSend:
		if m.SingleHopSend == nil {
			return nil, fmt.Errorf("%w: missing SINGLE_HOP_SEND payload", ErrMalformedMessage)
		}
		w = append(w, m.SingleHopSend.Recipient[:]...)

	case TypeSingleHopCall:
		p := m.SingleHopCall
		if p == nil {
			return nil, fmt.Errorf("%w: missing SINGLE_HOP_CALL payload", ErrMalformedMessage)
		}
		w = binary.BigEndian.AppendUint32(w, p.SourceChainID)
		w = binary.BigEndian.AppendUint32(w, p.OriginChainID)
		w = append(w, p.OriginSender[:]...)
		w = append(w, p.RecipientContract[:]...)
		w = appendBytes(w, p.RecipientPayload)
		w = binary.BigEndian.AppendUint64(w, p.RecipientGasLimit)
		w = append(w, p.FallbackRecipient[:]...)

	case TypeMultiHopSend:
		p := m.MultiHopSend
		if p == nil {
			return nil, fmt.Errorf("%w: missing MULTI_HOP_SEND payload", ErrMalformedMessage)
		}
		w = binary.BigEndian.AppendUint32(w, p.DestinationChainID)
		w = append(w, p.DestinationBridge[:]...)
		w = append(w, p.Recipient[:]...)
		w = append(w, p.OriginSender[:]...)
		w = append(w, p.SecondaryFeeToken[:]...)
		fw, err := appendAmount(w, p.SecondaryFee)
		if err != nil {
			return nil, err
		}
		w = binary.BigEndian.AppendUint64(fw, p.SecondaryGasLimit)

	case TypeMultiHopCall:
		p := m.MultiHopCall
		if p == nil {
			return nil, fmt.Errorf("%w: missing MULTI_HOP_CALL payload", ErrMalformedMessage)
		}
		w = binary.BigEndian.AppendUint32(w, p.DestinationChainID)
		w = append(w, p.DestinationBridge[:]...)
		w = append(w, p.RecipientContract[:]...)
		w = appendBytes(w, p.RecipientPayload)
		w = binary.BigEndian.AppendUint64(w, p.RecipientGasLimit)
		w = append(w, p.FallbackRecipient[:]...)
		w = append(w, p.OriginSender[:]...)
		w = append(w, p.SecondaryFeeToken[:]...)
		fw, err := appendAmount(w, p.SecondaryFee)
		if err != nil {
			return nil, err
		}
		w = binary.BigEndian.AppendUint64(fw, p.SecondaryGasLimit)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}
	return w, nil
}

// Decode parses the canonical wire form. It rejects unknown type tags,
// truncated fields and trailing bytes.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(raw))
	}
	if raw[0] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedMessage, raw[0])
	}
	r := &reader{buf: raw, off: 2}

	msg := &Message{Type: Type(raw[1])}
	msg.Amount = r.amount()

	switch msg.Type {
	case TypeSingleHopSend:
		msg.SingleHopSend = &SingleHopSend{
			Recipient: r.address(),
		}
	case TypeSingleHopCall:
		msg.SingleHopCall = &SingleHopCall{
			SourceChainID:     r.uint32(),
			OriginChainID:     r.uint32(),
			OriginSender:      r.address(),
			RecipientContract: r.address(),
			RecipientPayload:  r.bytes(),
			RecipientGasLimit: r.uint64(),
			FallbackRecipient: r.address(),
		}
	case TypeMultiHopSend:
		msg.MultiHopSend = &MultiHopSend{
			DestinationChainID: r.uint32(),
			DestinationBridge:  r.address(),
			Recipient:          r.address(),
			OriginSender:       r.address(),
			SecondaryFeeToken:  r.address(),
			SecondaryFee:       r.amount(),
			SecondaryGasLimit:  r.uint64(),
		}
	case TypeMultiHopCall:
		msg.MultiHopCall = &MultiHopCall{
			DestinationChainID: r.uint32(),
			DestinationBridge:  r.address(),
			RecipientContract:  r.address(),
			RecipientPayload:   r.bytes(),
			RecipientGasLimit:  r.uint64(),
			FallbackRecipient:  r.address(),
			OriginSender:       r.address(),
			SecondaryFeeToken:  r.address(),
			SecondaryFee:       r.amount(),
			SecondaryGasLimit:  r.uint64(),
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, raw[1])
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(r.buf)-r.off)
	}
	return msg, nil
}

func appendBytes(w, b []byte) []byte {
	w = binary.BigEndian.AppendUint32(w, uint32(len(b)))
	return append(w, b...)
}

func appendAmount(w []byte, v *big.Int) ([]byte, error) {
	if v == nil {
		v = common.Big0
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrMalformedMessage)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOverflow
	}
	b := u.Bytes32()
	return append(w, b[:]...), nil
}

// reader consumes fixed-width fields, latching the first error.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedMessage, r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) address() common.Address {
	var addr common.Address
	if b := r.take(common.AddressLength); b != nil {
		copy(addr[:], b)
	}
	return addr
}

func (r *reader) amount() *big.Int {
	b := r.take(32)
	if b == nil {
		return new(big.Int)
	}
	return new(uint256.Int).SetBytes32(b).ToBig()
}

// bytes reads a length-prefixed payload. Zero length decodes to nil so a
// round trip of a nil payload compares equal field-for-field.
func (r *reader) bytes() []byte {
	n := r.uint32()
	if n == 0 {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
