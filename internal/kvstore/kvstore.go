// Package kvstore lays an enumerable bytes32 to bytes map over contract
// storage. Values, the key list and each key's list position live in slots
// derived from a namespace, so one contract can hold several independent
// stores and every write goes through the host journal.
package kvstore

import (
	"encoding/binary"

	"github.com/nmxmxh/upaccount/internal/core"
)

// Storage is the slot storage of one contract. *vm.Context implements it.
type Storage interface {
	GetState(key core.Hash) []byte
	SetState(key core.Hash, value []byte) error
}

const (
	tagValue byte = iota
	tagPosition
	tagLength
	tagEntry
)

// Store is an enumerable map in the storage of one contract.
type Store struct {
	ns core.Hash
	st Storage
}

// New returns the store named namespace inside st.
func New(st Storage, namespace string) *Store {
	return &Store{ns: core.HashString(namespace), st: st}
}

func (s *Store) slot(tag byte, parts ...[]byte) core.Hash {
	data := append([][]byte{s.ns[:], {tag}}, parts...)
	return core.Keccak256Hash(data...)
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func readU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Get returns the value under key, or nil when absent.
func (s *Store) Get(key core.Hash) []byte {
	return s.st.GetState(s.slot(tagValue, key[:]))
}

// Has reports whether key holds a value.
func (s *Store) Has(key core.Hash) bool {
	return s.position(key) != 0
}

// Len returns the number of keys.
func (s *Store) Len() uint64 {
	return readU64(s.st.GetState(s.slot(tagLength)))
}

// At returns the key at index i, in insertion order modulo deletions.
func (s *Store) At(i uint64) core.Hash {
	return core.BytesToHash(s.st.GetState(s.slot(tagEntry, u64(i))))
}

// Keys returns every key.
func (s *Store) Keys() []core.Hash {
	n := s.Len()
	keys := make([]core.Hash, 0, n)
	for i := uint64(0); i < n; i++ {
		keys = append(keys, s.At(i))
	}
	return keys
}

func (s *Store) position(key core.Hash) uint64 {
	return readU64(s.st.GetState(s.slot(tagPosition, key[:])))
}

// Set stores value under key. An empty value deletes the key.
func (s *Store) Set(key core.Hash, value []byte) error {
	if len(value) == 0 {
		return s.Delete(key)
	}
	if !s.Has(key) {
		n := s.Len()
		if err := s.st.SetState(s.slot(tagEntry, u64(n)), key[:]); err != nil {
			return err
		}
		if err := s.st.SetState(s.slot(tagPosition, key[:]), u64(n+1)); err != nil {
			return err
		}
		if err := s.st.SetState(s.slot(tagLength), u64(n+1)); err != nil {
			return err
		}
	}
	return s.st.SetState(s.slot(tagValue, key[:]), value)
}

// Delete removes key. The last key is moved into the freed list position.
func (s *Store) Delete(key core.Hash) error {
	pos := s.position(key)
	if pos == 0 {
		return nil
	}
	n := s.Len()
	last := n - 1
	if idx := pos - 1; idx != last {
		moved := s.At(last)
		if err := s.st.SetState(s.slot(tagEntry, u64(idx)), moved[:]); err != nil {
			return err
		}
		if err := s.st.SetState(s.slot(tagPosition, moved[:]), u64(pos)); err != nil {
			return err
		}
	}
	for _, k := range []core.Hash{
		s.slot(tagEntry, u64(last)),
		s.slot(tagPosition, key[:]),
		s.slot(tagValue, key[:]),
	} {
		if err := s.st.SetState(k, nil); err != nil {
			return err
		}
	}
	var length []byte
	if last > 0 {
		length = u64(last)
	}
	return s.st.SetState(s.slot(tagLength), length)
}
