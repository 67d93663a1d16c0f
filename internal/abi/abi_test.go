package abi_test

import (
	"errors"
	"testing"

	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodID_InterfaceIDs(t *testing.T) {
	assert.Equal(t, core.InterfaceERC165, abi.InterfaceOf(abi.MethodID("supportsInterface(bytes4)")))
	assert.Equal(t, core.InterfaceERC725X, abi.InterfaceOf(abi.MethodID("execute(uint256,address,uint256,bytes)")))
	assert.Equal(t, core.InterfaceERC725Y, abi.InterfaceOf(
		abi.MethodID("getData(bytes32)"),
		abi.MethodID("setData(bytes32,bytes)"),
	))
	assert.Equal(t, core.InterfaceERC1271, abi.InterfaceOf(abi.MethodID("isValidSignature(bytes32,bytes)")))
	assert.Equal(t, core.InterfaceLSP1, abi.InterfaceOf(abi.MethodID("universalReceiver(bytes32,bytes)")))
}

func TestEncodeDecode(t *testing.T) {
	sel := abi.MethodID("execute(uint256,address,uint256,bytes)")
	target := core.Address{0x42}
	input := abi.NewCall(sel).
		Uint(2).
		Address(target).
		Uint(10).
		Bytes([]byte("payload")).
		Encode()

	gotSel, args, err := abi.SplitCall(input)
	require.NoError(t, err)
	assert.Equal(t, sel, gotSel)

	v, err := abi.Decode(args)
	require.NoError(t, err)

	kind, err := v.Uint(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), kind)

	addr, err := v.Address(2)
	require.NoError(t, err)
	assert.Equal(t, target, addr)

	payload, err := v.Bytes(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
}

func TestDecode_MissingArgumentsAreZero(t *testing.T) {
	v, err := abi.Decode(nil)
	require.NoError(t, err)

	n, err := v.Uint(1)
	require.NoError(t, err)
	assert.Zero(t, n)

	addr, err := v.Address(2)
	require.NoError(t, err)
	assert.True(t, addr.IsZero())

	b, err := v.Bytes(3)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.False(t, v.Has(1))

	v, err = abi.Decode(abi.NewValues().Uint(0).Encode())
	require.NoError(t, err)
	assert.True(t, v.Has(1))
	assert.False(t, v.Has(2))
}

func TestDecode_Errors(t *testing.T) {
	_, _, err := abi.SplitCall([]byte{1, 2})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = abi.Decode([]byte{0xff})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	v, err := abi.Decode(abi.NewValues().Bytes([]byte{1, 2, 3}).Encode())
	require.NoError(t, err)
	_, err = v.Address(1)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
	_, err = v.Uint(1)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestHashes(t *testing.T) {
	keys := []core.Hash{core.HashString("a"), core.HashString("b")}
	v, err := abi.Decode(abi.NewValues().Uint(7).Hashes(keys).Bool(true).Encode())
	require.NoError(t, err)

	got, err := v.Hashes(2)
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	ok, err := v.Bool(3)
	require.NoError(t, err)
	assert.True(t, ok)

	empty, err := abi.Decode(abi.NewValues().Uint(0).Hashes(nil).Encode())
	require.NoError(t, err)
	got, err = empty.Hashes(2)
	require.NoError(t, err)
	assert.Nil(t, got)
}
