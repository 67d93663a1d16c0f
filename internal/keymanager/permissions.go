package keymanager

import (
	"encoding/binary"
	"strings"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/kvstore"
)

// Permission is a bitmask of capabilities held by an actor.
type Permission uint64

const (
	PermChangeOwner Permission = 1 << iota
	PermManagePermissions
	PermSetData
	PermExecute
	PermSign

	// PermAll is the administrative mask.
	PermAll = PermChangeOwner | PermManagePermissions | PermSetData | PermExecute | PermSign
)

var permissionNames = []struct {
	bit  Permission
	name string
}{
	{PermChangeOwner, "change-owner"},
	{PermManagePermissions, "manage-permissions"},
	{PermSetData, "set-data"},
	{PermExecute, "execute"},
	{PermSign, "sign"},
}

// Has reports whether every bit of want is set.
func (p Permission) Has(want Permission) bool { return p&want == want }

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	for _, n := range permissionNames {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

const permissionsNamespace = "upaccount.keymanager.permissions"

// record is the actor to permission mapping kept in controller storage.
type record struct {
	store *kvstore.Store
}

func permissionsOf(st kvstore.Storage) record {
	return record{store: kvstore.New(st, permissionsNamespace)}
}

func (r record) get(actor core.Address) Permission {
	b := r.store.Get(actor.Hash())
	if len(b) != 8 {
		return 0
	}
	return Permission(binary.BigEndian.Uint64(b))
}

// set stores mask for actor; a zero mask removes the actor.
func (r record) set(actor core.Address, mask Permission) error {
	if mask == 0 {
		return r.store.Delete(actor.Hash())
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(mask))
	return r.store.Set(actor.Hash(), b[:])
}

func (r record) actors() []core.Address {
	keys := r.store.Keys()
	out := make([]core.Address, 0, len(keys))
	for _, k := range keys {
		out = append(out, core.BytesToAddress(k[core.HashLength-core.AddressLength:]))
	}
	return out
}

// admins counts the actors holding the full administrative mask.
func (r record) admins() int {
	n := 0
	for _, a := range r.actors() {
		if r.get(a).Has(PermAll) {
			n++
		}
	}
	return n
}
