package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// AddressLength is the size of an account address in bytes.
	AddressLength = 20
	// HashLength is the size of a storage key or digest in bytes.
	HashLength = 32
)

// Address identifies an account: a key-controlled actor or a contract.
type Address [AddressLength]byte

// Hash is a 32-byte keccak256 digest, also used as a storage key.
type Hash [HashLength]byte

// ZeroAddress is the unset address.
var ZeroAddress Address

// BytesToAddress returns the address formed by the last 20 bytes of b,
// left-padding shorter input.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress parses a 0x-prefixed (or bare) 40 character hex string.
func HexToAddress(s string) (Address, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Address{}, err
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	return BytesToAddress(b), nil
}

// MustHexToAddress is HexToAddress for constants and tests.
func MustHexToAddress(s string) Address {
	a, err := HexToAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) IsZero() bool   { return a == ZeroAddress }
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// Hash left-pads the address to 32 bytes, the form used for event topics.
func (a Address) Hash() Hash {
	var h Hash
	copy(h[HashLength-AddressLength:], a[:])
	return h
}

// BytesToHash returns the hash formed by the last 32 bytes of b,
// left-padding shorter input.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a 0x-prefixed (or bare) 64 character hex string.
func HexToHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
	}
	return BytesToHash(b), nil
}

// MustHexToHash is HexToHash for constants and tests.
func MustHexToHash(s string) Hash {
	h, err := HexToHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) IsZero() bool   { return h == Hash{} }
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// Keccak256 hashes the concatenation of data with legacy keccak256.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash is Keccak256 returning a Hash.
func Keccak256Hash(data ...[]byte) Hash {
	return BytesToHash(Keccak256(data...))
}

// HashString is the keccak256 of a UTF-8 name, the derivation used for
// well-known keys.
func HashString(name string) Hash {
	return Keccak256Hash([]byte(name))
}

// FromHex decodes a hex string with an optional 0x prefix.
func FromHex(s string) ([]byte, error) {
	return decodeHex(s)
}

// ToHex encodes b as a 0x-prefixed lowercase hex string.
func ToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}
