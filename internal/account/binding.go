package account

import (
	"context"

	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
)

// Binding calls an identity through a backend: the in-process host or a
// network client.
type Binding struct {
	backend vm.Backend
	address core.Address
	from    core.Address
}

// Bind returns a binding for the identity at address, sending as from.
func Bind(backend vm.Backend, address, from core.Address) *Binding {
	return &Binding{backend: backend, address: address, from: from}
}

// Address returns the identity address.
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

func (b *Binding) transact(ctx context.Context, value uint64, input []byte) (*vm.Receipt, error) {
	return b.backend.Transact(ctx, b.from, b.address, value, input)
}

func (b *Binding) Owner(ctx context.Context) (core.Address, error) {
	v, err := b.call(ctx, abi.NewCall(MethodOwner).Encode())
	if err != nil {
		return core.Address{}, err
	}
	return v.Address(1)
}

func (b *Binding) GetData(ctx context.Context, key core.Hash) ([]byte, error) {
	v, err := b.call(ctx, abi.NewCall(MethodGetData).Hash(key).Encode())
	if err != nil {
		return nil, err
	}
	return v.Bytes(1)
}

func (b *Binding) DataCount(ctx context.Context) (uint64, error) {
	v, err := b.call(ctx, abi.NewCall(MethodDataCount).Encode())
	if err != nil {
		return 0, err
	}
	return v.Uint(1)
}

func (b *Binding) AllDataKeys(ctx context.Context) ([]core.Hash, error) {
	v, err := b.call(ctx, abi.NewCall(MethodAllDataKeys).Encode())
	if err != nil {
		return nil, err
	}
	return v.Hashes(1)
}

func (b *Binding) SupportsInterface(ctx context.Context, id core.InterfaceID) (bool, error) {
	v, err := b.call(ctx, abi.NewCall(MethodSupportsInterface).Bytes4(id).Encode())
	if err != nil {
		return false, err
	}
	return v.Bool(1)
}

// IsValidSignature returns core.MagicValue or core.FailValue.
func (b *Binding) IsValidSignature(ctx context.Context, hash core.Hash, sig []byte) ([4]byte, error) {
	out, err := b.backend.Call(ctx, b.from, b.address, ValidSignatureInput(hash, sig))
	if err != nil {
		return core.FailValue, err
	}
	return DecodeSignatureResult(out), nil
}

func (b *Binding) SetData(ctx context.Context, key core.Hash, value []byte) (*vm.Receipt, error) {
	return b.transact(ctx, 0, SetDataInput(key, value))
}

func (b *Binding) TransferOwnership(ctx context.Context, newOwner core.Address) (*vm.Receipt, error) {
	return b.transact(ctx, 0, TransferOwnershipInput(newOwner))
}

// Execute runs an operation paid from the identity's own balance. The
// receipt's Return holds the callee output, or the new contract address for
// Create and Create2.
func (b *Binding) Execute(ctx context.Context, kind core.OperationKind, target core.Address, value uint64, payload []byte) (*vm.Receipt, error) {
	return b.transact(ctx, 0, ExecuteInput(kind, target, value, payload))
}

func (b *Binding) UniversalReceiver(ctx context.Context, typeID core.Hash, data []byte) (*vm.Receipt, error) {
	return b.transact(ctx, 0, abi.NewCall(MethodUniversalReceiver).Hash(typeID).Bytes(data).Encode())
}

// Fund sends value to the identity with empty call data.
func (b *Binding) Fund(ctx context.Context, value uint64) (*vm.Receipt, error) {
	return b.transact(ctx, value, nil)
}

// SetDataInput encodes a setData call.
func SetDataInput(key core.Hash, value []byte) []byte {
	return abi.NewCall(MethodSetData).Hash(key).Bytes(value).Encode()
}

// TransferOwnershipInput encodes a transferOwnership call.
func TransferOwnershipInput(newOwner core.Address) []byte {
	return abi.NewCall(MethodTransferOwnership).Address(newOwner).Encode()
}

// ExecuteInput encodes an execute call.
func ExecuteInput(kind core.OperationKind, target core.Address, value uint64, payload []byte) []byte {
	return abi.NewCall(MethodExecute).
		Uint(uint64(kind)).
		Address(target).
		Uint(value).
		Bytes(payload).
		Encode()
}
