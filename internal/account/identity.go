// Package account implements the identity contract: an owner-controlled
// account that stores keyed data, executes arbitrary operations, answers
// signature checks for its owner and relays incoming notifications to a
// pluggable receiver delegate.
//
// Identity is a native contract. It keeps no Go state of its own; the
// owner, the data store and the receiver delegate live in the storage of
// the account it runs for, so every read is fresh and every write is
// reverted with the frame that made it.
package account

import (
	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/kvstore"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap"
)

// Name is the native contract name identities are registered under.
const Name = "identity"

// DefaultMaxValueSize caps a single stored value.
const DefaultMaxValueSize = 64 << 10

// dataNamespace names the kvstore holding account data.
const dataNamespace = "upaccount.identity.data"

var ownerSlot = core.HashString("upaccount.identity.owner")

// Method selectors.
var (
	MethodOwner             = abi.MethodID("owner()")
	MethodTransferOwnership = abi.MethodID("transferOwnership(address)")
	MethodGetData           = abi.MethodID("getData(bytes32)")
	MethodSetData           = abi.MethodID("setData(bytes32,bytes)")
	MethodDataCount         = abi.MethodID("dataCount()")
	MethodAllDataKeys       = abi.MethodID("allDataKeys()")
	MethodExecute           = abi.MethodID("execute(uint256,address,uint256,bytes)")
	MethodIsValidSignature  = abi.MethodID("isValidSignature(bytes32,bytes)")
	MethodUniversalReceiver = abi.MethodID("universalReceiver(bytes32,bytes)")
	MethodSupportsInterface = abi.MethodID("supportsInterface(bytes4)")

	// MethodReceiverDelegate is implemented by receiver delegates.
	MethodReceiverDelegate = abi.MethodID("universalReceiverDelegate(address,bytes32,bytes)")
)

var supportedInterfaces = map[core.InterfaceID]bool{
	core.InterfaceERC165:  true,
	core.InterfaceERC725X: true,
	core.InterfaceERC725Y: true,
	core.InterfaceERC1271: true,
	core.InterfaceLSP1:    true,
}

// Identity is the account contract.
type Identity struct {
	// MaxValueSize caps setData values; zero means DefaultMaxValueSize.
	MaxValueSize int
}

var (
	_ vm.Contract    = (*Identity)(nil)
	_ vm.Constructor = (*Identity)(nil)
)

// New returns an identity contract with default limits.
func New() *Identity {
	return &Identity{MaxValueSize: DefaultMaxValueSize}
}

// Register installs the identity contract in h.
func (id *Identity) Register(h *vm.Host) {
	h.Register(Name, id)
}

// InitCode returns the code deploying an identity owned by owner.
func InitCode(owner core.Address) []byte {
	return vm.NativeCode(Name, abi.NewValues().Address(owner).Encode())
}

func (id *Identity) maxValueSize() int {
	if id.MaxValueSize <= 0 {
		return DefaultMaxValueSize
	}
	return id.MaxValueSize
}

// Construct records the initial owner and tags the store.
func (id *Identity) Construct(ctx *vm.Context, args []byte) error {
	v, err := abi.Decode(args)
	if err != nil {
		return err
	}
	owner, err := v.Address(1)
	if err != nil {
		return err
	}
	if owner.IsZero() {
		return core.ErrArgument("identity owner must not be the zero address")
	}
	if err := ctx.SetState(ownerSlot, owner.Bytes()); err != nil {
		return err
	}
	if err := store(ctx).Set(core.KeyERC725Type, core.ValueERC725Account.Bytes()); err != nil {
		return err
	}
	ctx.Logger().Info("identity created", zap.Stringer("owner", owner))
	return ctx.Emit(core.NewEvent(core.SigOwnershipTransferred, nil, core.ZeroAddress.Hash(), owner.Hash()))
}

// Run dispatches call data. Empty call data is a plain value transfer and
// always succeeds.
func (id *Identity) Run(ctx *vm.Context, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	sel, args, err := abi.SplitCall(input)
	if err != nil {
		return nil, err
	}
	v, err := abi.Decode(args)
	if err != nil {
		return nil, err
	}

	switch sel {
	case MethodOwner:
		return abi.NewValues().Address(ownerOf(ctx)).Encode(), nil
	case MethodTransferOwnership:
		return nil, id.transferOwnership(ctx, v)
	case MethodGetData:
		return id.getData(ctx, v)
	case MethodSetData:
		return nil, id.setData(ctx, v)
	case MethodDataCount:
		return abi.NewValues().Uint(store(ctx).Len()).Encode(), nil
	case MethodAllDataKeys:
		return abi.NewValues().Hashes(store(ctx).Keys()).Encode(), nil
	case MethodExecute:
		return id.execute(ctx, v)
	case MethodIsValidSignature:
		return id.isValidSignature(ctx, v), nil
	case MethodUniversalReceiver:
		return id.universalReceiver(ctx, v)
	case MethodSupportsInterface:
		iid, err := v.Bytes4(1)
		if err != nil {
			return nil, err
		}
		return abi.NewValues().Bool(supportedInterfaces[iid]).Encode(), nil
	}
	return nil, core.NewError(core.ErrCodeUnknownMethod, "unknown identity method").
		WithContext("selector", sel.String())
}

func store(ctx *vm.Context) *kvstore.Store {
	return kvstore.New(ctx, dataNamespace)
}

func ownerOf(ctx *vm.Context) core.Address {
	return core.BytesToAddress(ctx.GetState(ownerSlot))
}

// requireOwner reads the owner from storage on every entry, so a nested
// call that changed ownership is seen immediately.
func requireOwner(ctx *vm.Context) error {
	owner := ownerOf(ctx)
	if ctx.Caller() != owner {
		return core.ErrNotOwner(ctx.Caller(), owner)
	}
	return nil
}

func (id *Identity) transferOwnership(ctx *vm.Context, v *abi.Values) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	next, err := v.Address(1)
	if err != nil {
		return err
	}
	if next.IsZero() {
		return core.ErrArgument("new owner must not be the zero address")
	}
	prev := ownerOf(ctx)
	if err := ctx.SetState(ownerSlot, next.Bytes()); err != nil {
		return err
	}
	ctx.Logger().Info("ownership transferred", zap.Stringer("from", prev), zap.Stringer("to", next))
	return ctx.Emit(core.NewEvent(core.SigOwnershipTransferred, nil, prev.Hash(), next.Hash()))
}
