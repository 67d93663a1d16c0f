package account

import (
	"bytes"

	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap"
)

// execute runs one operation on behalf of the owner. Call and DelegateCall
// return the callee's output; Create and Create2 return the 20-byte address
// of the new contract.
func (id *Identity) execute(ctx *vm.Context, v *abi.Values) ([]byte, error) {
	if err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if !v.Has(1) {
		return nil, core.NewError(core.ErrCodeInvalidOperationKind, "operation kind is required")
	}
	rawKind, err := v.Uint(1)
	if err != nil {
		return nil, err
	}
	target, err := v.Address(2)
	if err != nil {
		return nil, err
	}
	value, err := v.Uint(3)
	if err != nil {
		return nil, err
	}
	payload, err := v.Bytes(4)
	if err != nil {
		return nil, err
	}

	kind := core.OperationKind(rawKind)
	log := ctx.Logger().With(zap.Stringer("operation", kind), zap.Stringer("target", target), zap.Uint64("value", value))

	switch kind {
	case core.OperationCall:
		out, err := ctx.Call(target, value, payload)
		if err != nil {
			log.Debug("call failed", zap.Error(err))
			return nil, core.ErrExecutionFailed(target, err)
		}
		return out, emitExecuted(ctx, kind, target, value)

	case core.OperationDelegateCall:
		out, err := id.delegateCall(ctx, target, payload)
		if err != nil {
			log.Debug("delegatecall failed", zap.Error(err))
			return nil, err
		}
		return out, emitExecuted(ctx, kind, target, 0)

	case core.OperationCreate:
		addr, err := ctx.Create(value, payload)
		if err != nil {
			return nil, deploymentError(err)
		}
		log.Info("contract created", zap.Stringer("address", addr))
		return addr.Bytes(), ctx.Emit(core.NewEvent(core.SigContractCreated, nil, addr.Hash()))

	case core.OperationCreate2:
		initCode, salt, err := core.SplitSalt(payload)
		if err != nil {
			return nil, err
		}
		addr, err := ctx.Create2(value, initCode, salt)
		if err != nil {
			return nil, deploymentError(err)
		}
		log.Info("contract created", zap.Stringer("address", addr), zap.Stringer("salt", salt))
		return addr.Bytes(), ctx.Emit(core.NewEvent(core.SigContractCreated, nil, addr.Hash()))
	}
	return nil, core.ErrUnknownOperation(rawKind)
}

// delegateCall runs target's code against this account. The owner slot is
// protected: delegated code that rewrites it fails the whole operation.
func (id *Identity) delegateCall(ctx *vm.Context, target core.Address, payload []byte) ([]byte, error) {
	before := ctx.GetState(ownerSlot)
	out, err := ctx.DelegateCall(target, payload)
	if err != nil {
		return nil, core.ErrExecutionFailed(target, err)
	}
	if !bytes.Equal(before, ctx.GetState(ownerSlot)) {
		return nil, core.NewError(core.ErrCodeWriteProtection, "delegatecall modified the owner").
			WithContext("target", target.String())
	}
	return out, nil
}

func deploymentError(err error) error {
	if core.CodeOf(err) == core.ErrCodeDeploymentFailed {
		return err
	}
	return core.ErrDeployment("create failed", err)
}

func emitExecuted(ctx *vm.Context, kind core.OperationKind, target core.Address, value uint64) error {
	return ctx.Emit(core.NewEvent(core.SigExecuted,
		core.Uint64Hash(value).Bytes(),
		core.Uint64Hash(uint64(kind)),
		target.Hash(),
	))
}
