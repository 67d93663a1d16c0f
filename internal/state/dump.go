package state

import (
	"bytes"

	"github.com/nmxmxh/upaccount/internal/core"
)

// DumpAccount is the serialisable form of an account.
type DumpAccount struct {
	Balance uint64
	Nonce   uint64
	Code    []byte
	Storage map[core.Hash][]byte
}

// Dump is a deep copy of the committed world state.
type Dump struct {
	Accounts map[core.Address]DumpAccount
}

// Dump copies the current state, including changes not yet committed.
func (s *State) Dump() *Dump {
	d := &Dump{Accounts: make(map[core.Address]DumpAccount, len(s.accounts))}
	for addr, acc := range s.accounts {
		storage := make(map[core.Hash][]byte, len(acc.Storage))
		for k, v := range acc.Storage {
			storage[k] = bytes.Clone(v)
		}
		d.Accounts[addr] = DumpAccount{
			Balance: acc.Credits.Balance,
			Nonce:   acc.Nonce,
			Code:    bytes.Clone(acc.Code),
			Storage: storage,
		}
	}
	return d
}

// Load replaces the state with the contents of d and clears the journal.
func (s *State) Load(d *Dump) {
	s.accounts = make(map[core.Address]*Account, len(d.Accounts))
	for addr, da := range d.Accounts {
		acc := newAccount()
		acc.Credits.Balance = da.Balance
		acc.Nonce = da.Nonce
		acc.Code = bytes.Clone(da.Code)
		for k, v := range da.Storage {
			if len(v) > 0 {
				acc.Storage[k] = bytes.Clone(v)
			}
		}
		s.accounts[addr] = acc
	}
	s.logs = nil
	s.journal.reset()
}
