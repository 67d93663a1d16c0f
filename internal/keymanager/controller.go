// Package keymanager implements the permissioned controller that owns an
// identity on behalf of several actors. Each privileged identity call is
// checked against the caller's permission bits and then forwarded
// unchanged, with the controller as the identity's owner.
package keymanager

import (
	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/account"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap"
)

// Name is the native contract name controllers are registered under.
const Name = "keymanager"

var accountSlot = core.HashString("upaccount.keymanager.account")

// Method selectors specific to the controller. execute, setData,
// transferOwnership and isValidSignature share the identity selectors.
var (
	MethodAccount           = abi.MethodID("account()")
	MethodGetPermissions    = abi.MethodID("getPermissions(address)")
	MethodAllActors         = abi.MethodID("allActors()")
	MethodSetPermissions    = abi.MethodID("setPermissions(address,uint256)")
	MethodGrantPermissions  = abi.MethodID("grantPermissions(address,uint256)")
	MethodRevokePermissions = abi.MethodID("revokePermissions(address,uint256)")
)

// InterfaceKeyManager identifies the controller's own methods.
var InterfaceKeyManager = abi.InterfaceOf(
	MethodAccount,
	MethodGetPermissions,
	MethodAllActors,
	MethodSetPermissions,
	MethodGrantPermissions,
	MethodRevokePermissions,
)

// forwarded maps the identity methods the controller relays to the bit
// each requires.
var forwarded = map[abi.Selector]Permission{
	account.MethodExecute:           PermExecute,
	account.MethodSetData:           PermSetData,
	account.MethodTransferOwnership: PermChangeOwner,
}

// Controller is the key manager contract.
type Controller struct{}

var (
	_ vm.Contract    = Controller{}
	_ vm.Constructor = Controller{}
)

// Register installs the controller contract in h.
func (Controller) Register(h *vm.Host) {
	h.Register(Name, Controller{})
}

// InitCode returns the code deploying a controller bound to identity with
// admin holding every permission.
func InitCode(identity, admin core.Address) []byte {
	return vm.NativeCode(Name, abi.NewValues().Address(identity).Address(admin).Encode())
}

// Construct binds the controller to its identity, once.
func (Controller) Construct(ctx *vm.Context, args []byte) error {
	v, err := abi.Decode(args)
	if err != nil {
		return err
	}
	identity, err := v.Address(1)
	if err != nil {
		return err
	}
	admin, err := v.Address(2)
	if err != nil {
		return err
	}
	if identity.IsZero() || admin.IsZero() {
		return core.ErrArgument("controller needs an identity and an administrator")
	}
	if err := ctx.SetState(accountSlot, identity.Bytes()); err != nil {
		return err
	}
	if err := permissionsOf(ctx).set(admin, PermAll); err != nil {
		return err
	}
	ctx.Logger().Info("controller created", zap.Stringer("identity", identity), zap.Stringer("admin", admin))
	return emitPermissions(ctx, admin, PermAll)
}

func boundAccount(ctx *vm.Context) core.Address {
	return core.BytesToAddress(ctx.GetState(accountSlot))
}

// Run dispatches call data.
func (c Controller) Run(ctx *vm.Context, input []byte) ([]byte, error) {
	sel, args, err := abi.SplitCall(input)
	if err != nil {
		return nil, err
	}
	if bit, ok := forwarded[sel]; ok {
		return c.forward(ctx, bit, input)
	}
	if sel == account.MethodIsValidSignature {
		return c.isValidSignature(ctx, args), nil
	}

	v, err := abi.Decode(args)
	if err != nil {
		return nil, err
	}
	perms := permissionsOf(ctx)
	switch sel {
	case MethodAccount:
		return abi.NewValues().Address(boundAccount(ctx)).Encode(), nil
	case MethodGetPermissions:
		actor, err := v.Address(1)
		if err != nil {
			return nil, err
		}
		return abi.NewValues().Uint(uint64(perms.get(actor))).Encode(), nil
	case MethodAllActors:
		actors := perms.actors()
		keys := make([]core.Hash, len(actors))
		for i, a := range actors {
			keys[i] = a.Hash()
		}
		return abi.NewValues().Hashes(keys).Encode(), nil
	case MethodSetPermissions, MethodGrantPermissions, MethodRevokePermissions:
		return nil, c.changePermissions(ctx, sel, v)
	case account.MethodSupportsInterface:
		id, err := v.Bytes4(1)
		if err != nil {
			return nil, err
		}
		ok := id == core.InterfaceERC165 || id == core.InterfaceERC1271 || id == InterfaceKeyManager
		return abi.NewValues().Bool(ok).Encode(), nil
	}
	return nil, core.NewError(core.ErrCodeUnknownMethod, "unknown controller method").
		WithContext("selector", sel.String())
}

// authorize checks the caller's bits against storage on every entry.
func authorize(ctx *vm.Context, want Permission) error {
	held := permissionsOf(ctx).get(ctx.Caller())
	if !held.Has(want) {
		return core.ErrMissingPermission(ctx.Caller(), uint64(want), uint64(held))
	}
	return nil
}

// forward relays input unchanged to the identity, passing on any value
// sent with it. The identity's failure is returned as is.
func (Controller) forward(ctx *vm.Context, bit Permission, input []byte) ([]byte, error) {
	if err := authorize(ctx, bit); err != nil {
		return nil, err
	}
	target := boundAccount(ctx)
	ctx.Logger().Debug("forwarding to identity",
		zap.Stringer("identity", target),
		zap.Stringer("permission", bit))
	return ctx.Call(target, ctx.Value(), input)
}

func (Controller) changePermissions(ctx *vm.Context, sel abi.Selector, v *abi.Values) error {
	if err := authorize(ctx, PermManagePermissions); err != nil {
		return err
	}
	actor, err := v.Address(1)
	if err != nil {
		return err
	}
	raw, err := v.Uint(2)
	if err != nil {
		return err
	}
	if actor.IsZero() {
		return core.ErrArgument("permissions for the zero address")
	}
	mask := Permission(raw)
	perms := permissionsOf(ctx)
	prev := perms.get(actor)
	next := mask
	switch sel {
	case MethodGrantPermissions:
		next = prev | mask
	case MethodRevokePermissions:
		next = prev &^ mask
	}
	if next == prev {
		return nil
	}
	if err := perms.set(actor, next); err != nil {
		return err
	}
	if perms.admins() == 0 {
		return core.NewError(core.ErrCodeUnsafePermissionChange, "change would leave no administrator").
			WithContext("actor", actor.String()).
			WithContext("permissions", next.String())
	}
	ctx.Logger().Info("permissions changed",
		zap.Stringer("actor", actor),
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	return emitPermissions(ctx, actor, next)
}

// isValidSignature accepts signatures from actors allowed to sign or
// execute. It never fails.
func (Controller) isValidSignature(ctx *vm.Context, args []byte) []byte {
	result := core.FailValue
	if v, err := abi.Decode(args); err == nil {
		hash, herr := v.Hash(1)
		sig, serr := v.Bytes(2)
		if herr == nil && serr == nil {
			if who, err := signer.Recover(hash, sig); err == nil {
				held := permissionsOf(ctx).get(who)
				if held&(PermSign|PermExecute) != 0 {
					result = core.MagicValue
				}
			}
		}
	}
	return abi.NewValues().Bytes4(result).Encode()
}

func emitPermissions(ctx *vm.Context, actor core.Address, mask Permission) error {
	return ctx.Emit(core.NewEvent(core.SigPermissionsChanged, core.Uint64Hash(uint64(mask)).Bytes(), actor.Hash()))
}
