// Package signer holds secp256k1 keys: address derivation, recoverable
// signatures over 32-byte hashes, and the on-disk keystore used for both
// account owners and node identities.
package signer

import (
	"crypto/rand"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/nmxmxh/upaccount/internal/core"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = 65

// Key is a secp256k1 private key.
type Key struct {
	priv *secp256k1.PrivateKey
}

// Generate returns a fresh random key.
func Generate() (*Key, error) {
	sk, _, err := crypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return FromPeerKey(sk)
}

// FromPeerKey converts a libp2p secp256k1 key.
func FromPeerKey(sk crypto.PrivKey) (*Key, error) {
	k, ok := sk.(*crypto.Secp256k1PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key type %s is not secp256k1", sk.Type())
	}
	return &Key{priv: (*secp256k1.PrivateKey)(k)}, nil
}

// FromBytes parses a raw 32-byte private key.
func FromBytes(b []byte) (*Key, error) {
	if len(b) != 32 {
		return nil, core.ErrArgument(fmt.Sprintf("private key is %d bytes, want 32", len(b)))
	}
	return &Key{priv: secp256k1.PrivKeyFromBytes(b)}, nil
}

// FromHex parses a hex-encoded raw private key.
func FromHex(s string) (*Key, error) {
	b, err := core.FromHex(s)
	if err != nil {
		return nil, err
	}
	return FromBytes(b)
}

// Bytes returns the raw private key.
func (k *Key) Bytes() []byte { return k.priv.Serialize() }

// PeerKey returns the key as a libp2p identity key.
func (k *Key) PeerKey() crypto.PrivKey {
	return (*crypto.Secp256k1PrivateKey)(k.priv)
}

// Address returns the account address controlled by k.
func (k *Key) Address() core.Address {
	return PubkeyToAddress(k.priv.PubKey())
}

// PubkeyToAddress is keccak256 of the uncompressed public key without its
// prefix byte, truncated to the last 20 bytes.
func PubkeyToAddress(pub *secp256k1.PublicKey) core.Address {
	return core.BytesToAddress(core.Keccak256(pub.SerializeUncompressed()[1:]))
}

// Sign produces an r || s || v signature over hash with v in {27, 28}.
func (k *Key) Sign(hash core.Hash) []byte {
	compact := ecdsa.SignCompact(k.priv, hash[:], false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// Recover returns the address that produced sig over hash. Both v
// conventions, {0, 1} and {27, 28}, are accepted.
func Recover(hash core.Hash, sig []byte) (core.Address, error) {
	if len(sig) != SignatureLength {
		return core.Address{}, core.ErrArgument(fmt.Sprintf("signature is %d bytes, want %d", len(sig), SignatureLength))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return core.Address{}, core.ErrArgument("invalid signature recovery id").WithContext("v", int(sig[64]))
	}
	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return core.Address{}, core.WrapError(core.ErrCodeInvalidArgument, "recover signer", err)
	}
	return PubkeyToAddress(pub), nil
}

// HashMessage returns the EIP-191 personal message hash of msg.
func HashMessage(msg []byte) core.Hash {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return core.Keccak256Hash([]byte(prefix), msg)
}
