package signer_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownAddress(t *testing.T) {
	// Private key 1 controls a well-known address.
	raw := make([]byte, 32)
	raw[31] = 1
	k, err := signer.FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, core.MustHexToAddress("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"), k.Address())
}

func TestSignRecover(t *testing.T) {
	k, err := signer.Generate()
	require.NoError(t, err)

	hash := signer.HashMessage([]byte("hello"))
	sig := k.Sign(hash)
	require.Len(t, sig, signer.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := signer.Recover(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), got)

	low := append([]byte{}, sig...)
	low[64] -= 27
	got, err = signer.Recover(hash, low)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), got)

	other := core.HashString("other")
	got, err = signer.Recover(other, sig)
	if err == nil {
		assert.NotEqual(t, k.Address(), got)
	}
}

func TestRecover_Malformed(t *testing.T) {
	_, err := signer.Recover(core.Hash{}, []byte{1, 2, 3})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	sig := make([]byte, signer.SignatureLength)
	sig[64] = 5
	_, err = signer.Recover(core.Hash{}, sig)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "owner.json")

	k, created, err := signer.LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := signer.LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, k.Address(), again.Address())
	assert.Equal(t, k.Bytes(), again.Bytes())
}

func TestFromHex(t *testing.T) {
	k, err := signer.Generate()
	require.NoError(t, err)
	parsed, err := signer.FromHex(core.ToHex(k.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, k.Address(), parsed.Address())

	_, err = signer.FromHex("0x01")
	assert.Error(t, err)
}
