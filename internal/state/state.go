// Package state holds the world state the host executes against: account
// credits, nonces, code and storage, plus the event log of the running
// message. Every mutation is journaled so a failed frame can be rolled back
// to the snapshot taken when it started.
package state

import (
	"bytes"
	"sort"

	"github.com/nmxmxh/upaccount/internal/core"
)

// Account is the persisted record of one address.
type Account struct {
	Credits core.Credits
	Nonce   uint64
	Code    []byte
	Storage map[core.Hash][]byte
}

func newAccount() *Account {
	return &Account{Storage: make(map[core.Hash][]byte)}
}

// State is the journaled world state. It is not safe for concurrent use;
// the host serialises access.
type State struct {
	accounts map[core.Address]*Account
	logs     []core.Event
	journal  journal
}

// New returns an empty state.
func New() *State {
	return &State{accounts: make(map[core.Address]*Account)}
}

func (s *State) get(addr core.Address) *Account {
	return s.accounts[addr]
}

func (s *State) getOrCreate(addr core.Address) *Account {
	if acc, ok := s.accounts[addr]; ok {
		return acc
	}
	acc := newAccount()
	s.accounts[addr] = acc
	s.journal.append(func() { delete(s.accounts, addr) })
	return acc
}

// Exist reports whether addr has ever been touched.
func (s *State) Exist(addr core.Address) bool {
	_, ok := s.accounts[addr]
	return ok
}

// Balance returns the credits held by addr.
func (s *State) Balance(addr core.Address) uint64 {
	if acc := s.get(addr); acc != nil {
		return acc.Credits.Balance
	}
	return 0
}

// AddBalance credits addr.
func (s *State) AddBalance(addr core.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc := s.getOrCreate(addr)
	prev := acc.Credits.Balance
	if !acc.Credits.Add(amount) {
		return core.ErrArgument("balance overflow").WithContext("address", addr.String())
	}
	s.journal.append(func() { acc.Credits.Balance = prev })
	return nil
}

// SubBalance debits addr.
func (s *State) SubBalance(addr core.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc := s.get(addr)
	if acc == nil {
		return core.ErrBalance(addr, 0, amount)
	}
	prev := acc.Credits.Balance
	if !acc.Credits.Spend(amount) {
		return core.ErrBalance(addr, prev, amount)
	}
	s.journal.append(func() { acc.Credits.Balance = prev })
	return nil
}

// Transfer moves amount from one account to another.
func (s *State) Transfer(from, to core.Address, amount uint64) error {
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	return s.AddBalance(to, amount)
}

// Nonce returns the nonce of addr.
func (s *State) Nonce(addr core.Address) uint64 {
	if acc := s.get(addr); acc != nil {
		return acc.Nonce
	}
	return 0
}

// SetNonce sets the nonce of addr.
func (s *State) SetNonce(addr core.Address, nonce uint64) {
	acc := s.getOrCreate(addr)
	prev := acc.Nonce
	acc.Nonce = nonce
	s.journal.append(func() { acc.Nonce = prev })
}

// Code returns the code deployed at addr.
func (s *State) Code(addr core.Address) []byte {
	if acc := s.get(addr); acc != nil {
		return acc.Code
	}
	return nil
}

// CodeHash returns keccak256 of the code at addr, or the zero hash for an
// account without code.
func (s *State) CodeHash(addr core.Address) core.Hash {
	code := s.Code(addr)
	if len(code) == 0 {
		return core.Hash{}
	}
	return core.Keccak256Hash(code)
}

// SetCode installs code at addr.
func (s *State) SetCode(addr core.Address, code []byte) {
	acc := s.getOrCreate(addr)
	prev := acc.Code
	acc.Code = bytes.Clone(code)
	s.journal.append(func() { acc.Code = prev })
}

// GetState reads a storage slot of addr. Absent slots read as nil.
func (s *State) GetState(addr core.Address, key core.Hash) []byte {
	acc := s.get(addr)
	if acc == nil {
		return nil
	}
	return bytes.Clone(acc.Storage[key])
}

// SetState writes a storage slot of addr. An empty value deletes the slot.
func (s *State) SetState(addr core.Address, key core.Hash, value []byte) {
	acc := s.getOrCreate(addr)
	prev, had := acc.Storage[key]
	if len(value) == 0 {
		if !had {
			return
		}
		delete(acc.Storage, key)
	} else {
		acc.Storage[key] = bytes.Clone(value)
	}
	s.journal.append(func() {
		if had {
			acc.Storage[key] = prev
		} else {
			delete(acc.Storage, key)
		}
	})
}

// AddLog records an event.
func (s *State) AddLog(ev core.Event) {
	s.logs = append(s.logs, ev)
	n := len(s.logs) - 1
	s.journal.append(func() { s.logs = s.logs[:n] })
}

// Logs returns the events recorded since index from.
func (s *State) Logs(from int) []core.Event {
	if from >= len(s.logs) {
		return nil
	}
	out := make([]core.Event, len(s.logs)-from)
	copy(out, s.logs[from:])
	return out
}

// LogCount is the number of buffered events.
func (s *State) LogCount() int {
	return len(s.logs)
}

// Snapshot returns an identifier for the current state.
func (s *State) Snapshot() int {
	return s.journal.length()
}

// RevertToSnapshot undoes every change made after the snapshot was taken.
func (s *State) RevertToSnapshot(id int) {
	s.journal.revert(id)
}

// Commit drops the journal and the event buffer, making every change
// permanent.
func (s *State) Commit() {
	s.journal.reset()
	s.logs = nil
}

// Addresses returns every known address in byte order.
func (s *State) Addresses() []core.Address {
	out := make([]core.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
