// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000002")

	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000A2")

	relayer1 = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	relayer2 = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	relayer3 = common.HexToAddress("0x00000000000000000000000000000000000000B3")
)

func TestOwnerGate(t *testing.T) {
	r := New(owner, nil)

	require.ErrorIs(t, r.SetFeeToken(stranger, tokenA, true), ErrUnauthorized)
	require.ErrorIs(t, r.SetRelayer(stranger, relayer1, true), ErrUnauthorized)
	require.False(t, r.IsFeeToken(tokenA))
	require.False(t, r.IsRelayer(relayer1))
}

func TestFeeTokenAddRemove(t *testing.T) {
	r := New(owner, nil)

	require.NoError(t, r.SetFeeToken(owner, tokenA, true))
	require.True(t, r.IsFeeToken(tokenA))
	require.False(t, r.IsFeeToken(tokenB))

	require.ErrorIs(t, r.SetFeeToken(owner, tokenA, true), ErrDuplicateEntry)

	require.NoError(t, r.SetFeeToken(owner, tokenA, false))
	require.False(t, r.IsFeeToken(tokenA))
	require.ErrorIs(t, r.SetFeeToken(owner, tokenA, false), ErrNotFound)
}

func TestRelayerRemoveMiddle(t *testing.T) {
	r := New(owner, nil)
	require.NoError(t, r.SetRelayer(owner, relayer1, true))
	require.NoError(t, r.SetRelayer(owner, relayer2, true))
	require.NoError(t, r.SetRelayer(owner, relayer3, true))

	require.NoError(t, r.SetRelayer(owner, relayer2, false))

	require.True(t, r.IsRelayer(relayer1))
	require.False(t, r.IsRelayer(relayer2))
	require.True(t, r.IsRelayer(relayer3))

	// relayer3 was swapped into the removed slot.
	require.Equal(t, []common.Address{relayer1, relayer3}, r.Relayers())

	// The swapped entry's index stayed consistent: removing it again works.
	require.NoError(t, r.SetRelayer(owner, relayer3, false))
	require.Equal(t, []common.Address{relayer1}, r.Relayers())
}

func TestRelayerRemoveLast(t *testing.T) {
	r := New(owner, nil)
	require.NoError(t, r.SetRelayer(owner, relayer1, true))
	require.NoError(t, r.SetRelayer(owner, relayer2, true))

	require.NoError(t, r.SetRelayer(owner, relayer2, false))
	require.Equal(t, []common.Address{relayer1}, r.Relayers())
	require.False(t, r.IsRelayer(relayer2))

	require.NoError(t, r.SetRelayer(owner, relayer1, false))
	require.Empty(t, r.Relayers())
}

func TestRelayerReAddAfterRemoval(t *testing.T) {
	r := New(owner, nil)
	require.NoError(t, r.SetRelayer(owner, relayer1, true))
	require.NoError(t, r.SetRelayer(owner, relayer1, false))
	require.NoError(t, r.SetRelayer(owner, relayer1, true))
	require.True(t, r.IsRelayer(relayer1))
	require.ErrorIs(t, r.SetRelayer(owner, relayer1, true), ErrDuplicateEntry)
}

func TestRelayersReturnsCopy(t *testing.T) {
	r := New(owner, nil)
	require.NoError(t, r.SetRelayer(owner, relayer1, true))

	list := r.Relayers()
	list[0] = stranger
	require.Equal(t, []common.Address{relayer1}, r.Relayers())
}
