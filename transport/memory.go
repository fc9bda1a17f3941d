// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"encoding/binary"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Envelope is a recorded outbound submission plus its assigned ID and the
// source attribution a delivering transport would attach.
type Envelope struct {
	ID            common.Hash
	SourceChainID uint32
	SourceAddress common.Address
	SendInput
}

// MemMessenger is an in-memory Messenger for tests and local wiring. It
// records every submission and can replay an envelope into a Receiver the
// way the real transport would deliver it.
type MemMessenger struct {
	mu      sync.Mutex
	chainID uint32
	sender  common.Address
	account common.Address
	nonce   uint64
	sent    []Envelope

	// FailNext makes the next Send fail, for rollback tests.
	FailNext bool
}

// NewMemMessenger creates a messenger attached to the bridge at sender on
// chainID. The fee account is derived from the sender address.
func NewMemMessenger(chainID uint32, sender common.Address) *MemMessenger {
	account := sender
	account[common.AddressLength-1] ^= 0xff
	return &MemMessenger{
		chainID: chainID,
		sender:  sender,
		account: account,
	}
}

func (m *MemMessenger) FeeAccount() common.Address {
	return m.account
}

func (m *MemMessenger) Send(input SendInput) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		return common.Hash{}, ErrSendFailed
	}

	id := m.messageID(input)
	m.nonce++
	m.sent = append(m.sent, Envelope{
		ID:            id,
		SourceChainID: m.chainID,
		SourceAddress: m.sender,
		SendInput:     input,
	})
	return id, nil
}

// Sent returns all recorded envelopes, oldest first.
func (m *MemMessenger) Sent() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent envelope and whether one exists.
func (m *MemMessenger) Last() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Envelope{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Deliver replays an envelope into r with this messenger's attribution.
func (m *MemMessenger) Deliver(env Envelope, r Receiver) error {
	return r.OnMessage(env.SourceChainID, env.SourceAddress, env.Message)
}

// messageID derives a deterministic ID from the sender, nonce and message.
// Callers hold m.mu.
func (m *MemMessenger) messageID(input SendInput) common.Hash {
	h := blake3.New()
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], m.chainID)
	h.Write(scratch[:4])
	h.Write(m.sender[:])
	binary.BigEndian.PutUint64(scratch[:], m.nonce)
	h.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], input.DestinationChainID)
	h.Write(scratch[:4])
	h.Write(input.DestinationBridge[:])
	h.Write(input.Message)

	var id common.Hash
	copy(id[:], h.Sum(nil))
	return id
}
