package keymanager

import (
	"context"

	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/account"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
)

// Binding calls a controller through a backend.
type Binding struct {
	backend vm.Backend
	address core.Address
	from    core.Address
}

// Bind returns a binding for the controller at address, sending as from.
func Bind(backend vm.Backend, address, from core.Address) *Binding {
	return &Binding{backend: backend, address: address, from: from}
}

func (b *Binding) Address() core.Address { return b.address }

// As returns a copy of the binding that sends as from.
func (b *Binding) As(from core.Address) *Binding {
	return &Binding{backend: b.backend, address: b.address, from: from}
}

func (b *Binding) call(ctx context.Context, input []byte) (*abi.Values, error) {
	out, err := b.backend.Call(ctx, b.from, b.address, input)
	if err != nil {
		return nil, err
	}
	return abi.Decode(out)
}

// Account returns the identity the controller is bound to.
func (b *Binding) Account(ctx context.Context) (core.Address, error) {
	v, err := b.call(ctx, abi.NewCall(MethodAccount).Encode())
	if err != nil {
		return core.Address{}, err
	}
	return v.Address(1)
}

func (b *Binding) Permissions(ctx context.Context, actor core.Address) (Permission, error) {
	v, err := b.call(ctx, abi.NewCall(MethodGetPermissions).Address(actor).Encode())
	if err != nil {
		return 0, err
	}
	p, err := v.Uint(1)
	return Permission(p), err
}

func (b *Binding) Actors(ctx context.Context) ([]core.Address, error) {
	v, err := b.call(ctx, abi.NewCall(MethodAllActors).Encode())
	if err != nil {
		return nil, err
	}
	keys, err := v.Hashes(1)
	if err != nil {
		return nil, err
	}
	out := make([]core.Address, len(keys))
	for i, k := range keys {
		out[i] = core.BytesToAddress(k[:])
	}
	return out, nil
}

func (b *Binding) SupportsInterface(ctx context.Context, id core.InterfaceID) (bool, error) {
	v, err := b.call(ctx, abi.NewCall(account.MethodSupportsInterface).Bytes4(id).Encode())
	if err != nil {
		return false, err
	}
	return v.Bool(1)
}

func (b *Binding) IsValidSignature(ctx context.Context, hash core.Hash, sig []byte) ([4]byte, error) {
	out, err := b.backend.Call(ctx, b.from, b.address, account.ValidSignatureInput(hash, sig))
	if err != nil {
		return core.FailValue, err
	}
	return account.DecodeSignatureResult(out), nil
}

func (b *Binding) SetPermissions(ctx context.Context, actor core.Address, mask Permission) (*vm.Receipt, error) {
	return b.changePermissions(ctx, MethodSetPermissions, actor, mask)
}

func (b *Binding) GrantPermissions(ctx context.Context, actor core.Address, mask Permission) (*vm.Receipt, error) {
	return b.changePermissions(ctx, MethodGrantPermissions, actor, mask)
}

func (b *Binding) RevokePermissions(ctx context.Context, actor core.Address, mask Permission) (*vm.Receipt, error) {
	return b.changePermissions(ctx, MethodRevokePermissions, actor, mask)
}

func (b *Binding) changePermissions(ctx context.Context, sel abi.Selector, actor core.Address, mask Permission) (*vm.Receipt, error) {
	return b.backend.Transact(ctx, b.from, b.address, 0, abi.NewCall(sel).Address(actor).Uint(uint64(mask)).Encode())
}

// Execute forwards an execute call to the identity.
func (b *Binding) Execute(ctx context.Context, kind core.OperationKind, target core.Address, value uint64, payload []byte) (*vm.Receipt, error) {
	return b.backend.Transact(ctx, b.from, b.address, 0, account.ExecuteInput(kind, target, value, payload))
}

func (b *Binding) SetData(ctx context.Context, key core.Hash, value []byte) (*vm.Receipt, error) {
	return b.backend.Transact(ctx, b.from, b.address, 0, account.SetDataInput(key, value))
}

func (b *Binding) TransferOwnership(ctx context.Context, newOwner core.Address) (*vm.Receipt, error) {
	return b.backend.Transact(ctx, b.from, b.address, 0, account.TransferOwnershipInput(newOwner))
}
