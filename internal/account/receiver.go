package account

import (
	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
)

// universalReceiver is callable by anyone. Without a registered delegate it
// only records the notification; with one it relays the delegate's output.
func (id *Identity) universalReceiver(ctx *vm.Context, v *abi.Values) ([]byte, error) {
	typeID, err := v.Hash(1)
	if err != nil {
		return nil, err
	}
	data, err := v.Bytes(2)
	if err != nil {
		return nil, err
	}

	var result []byte
	if delegate, ok := receiverDelegate(ctx); ok {
		out, err := ctx.Call(delegate, 0, ReceiverDelegateInput(ctx.Caller(), typeID, data))
		if err != nil {
			return nil, core.ErrExecutionFailed(delegate, err)
		}
		result = out
	}

	if !ctx.IsStatic() {
		ev := core.NewEvent(core.SigUniversalReceiver,
			abi.NewValues().Bytes(data).Bytes(result).Encode(),
			ctx.Caller().Hash(),
			typeID,
		)
		if err := ctx.Emit(ev); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// receiverDelegate reads the delegate address from the data store. Values
// that are not exactly one non-zero address count as no delegate.
func receiverDelegate(ctx *vm.Context) (core.Address, bool) {
	raw := store(ctx).Get(core.KeyUniversalReceiver)
	if len(raw) != core.AddressLength {
		return core.Address{}, false
	}
	addr := core.BytesToAddress(raw)
	return addr, !addr.IsZero()
}

// ReceiverDelegateInput encodes the call an identity makes to its delegate.
func ReceiverDelegateInput(sender core.Address, typeID core.Hash, data []byte) []byte {
	return abi.NewCall(MethodReceiverDelegate).Address(sender).Hash(typeID).Bytes(data).Encode()
}

// DecodeReceiverEvent splits a UniversalReceiver event payload into the
// notification data and the delegate result.
func DecodeReceiverEvent(ev core.Event) (data, result []byte, err error) {
	v, err := abi.Decode(ev.Data)
	if err != nil {
		return nil, nil, err
	}
	if data, err = v.Bytes(1); err != nil {
		return nil, nil, err
	}
	result, err = v.Bytes(2)
	return data, result, err
}
