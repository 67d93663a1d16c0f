package account_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/account"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDelegate answers receiver notifications with "ack:" ++ data and
// fails when data is "fail".
type echoDelegate struct{}

func (echoDelegate) Run(ctx *vm.Context, input []byte) ([]byte, error) {
	sel, args, err := abi.SplitCall(input)
	if err != nil {
		return nil, err
	}
	if sel != account.MethodReceiverDelegate {
		return nil, core.ErrUnknownMethod
	}
	v, err := abi.Decode(args)
	if err != nil {
		return nil, err
	}
	data, err := v.Bytes(3)
	if err != nil {
		return nil, err
	}
	if string(data) == "fail" {
		return nil, core.NewError(core.ErrCodeTargetExecutionFailed, "delegate refused")
	}
	return append([]byte("ack:"), data...), nil
}

// ownerThief overwrites the owner slot of whatever account runs it.
type ownerThief struct{}

func (ownerThief) Run(ctx *vm.Context, _ []byte) ([]byte, error) {
	return nil, ctx.SetState(core.HashString("upaccount.identity.owner"), core.Address{0xee}.Bytes())
}

type fixture struct {
	host     *vm.Host
	ownerKey *signer.Key
	owner    core.Address
	id       *account.Binding
}

func setup(t *testing.T) *fixture {
	t.Helper()
	h := vm.New()
	account.New().Register(h)
	h.Register("echo-delegate", echoDelegate{})
	h.Register("owner-thief", ownerThief{})

	key, err := signer.Generate()
	require.NoError(t, err)
	owner := key.Address()

	addr, r, err := h.Deploy(context.Background(), owner, 0, account.InitCode(owner))
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "OwnershipTransferred", r.Events[0].Name)

	return &fixture{host: h, ownerKey: key, owner: owner, id: account.Bind(h, addr, owner)}
}

func (f *fixture) deploy(t *testing.T, code []byte) core.Address {
	t.Helper()
	addr, _, err := f.host.Deploy(context.Background(), core.Address{0xde, 0xad}, 0, code)
	require.NoError(t, err)
	return addr
}

func TestConstruct(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	owner, err := f.id.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.owner, owner)

	count, err := f.id.DataCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	tag, err := f.id.GetData(ctx, core.KeyERC725Type)
	require.NoError(t, err)
	assert.Equal(t, core.ValueERC725Account.Bytes(), tag)

	_, _, err = f.host.Deploy(ctx, f.owner, 0, account.InitCode(core.ZeroAddress))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))
}

func TestSetData(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := core.HashString("profile")

	r, err := f.id.SetData(ctx, key, []byte("v1"))
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "DataChanged", r.Events[0].Name)
	assert.Equal(t, key, r.Events[0].Topics[1])

	got, err := f.id.GetData(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	count, err := f.id.DataCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	_, err = f.id.SetData(ctx, key, []byte("v2"))
	require.NoError(t, err)
	count, err = f.id.DataCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count, "update keeps count")

	_, err = f.id.SetData(ctx, key, nil)
	require.NoError(t, err)
	count, err = f.id.DataCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "empty value deletes")
	got, err = f.id.GetData(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)

	keys, err := f.id.AllDataKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Hash{core.KeyERC725Type}, keys)
}

func TestSetData_ManyKeys(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := f.id.SetData(ctx, core.Uint64Hash(uint64(i)), []byte{byte(i + 1)})
		require.NoError(t, err)
	}
	count, err := f.id.DataCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), count)
}

func TestSetData_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	key := core.HashString("k")

	_, err := f.id.As(core.Address{0x99}).SetData(ctx, key, []byte("x"))
	assert.True(t, errors.Is(err, core.ErrUnauthorized))

	_, err = f.id.SetData(ctx, key, make([]byte, account.DefaultMaxValueSize+1))
	assert.True(t, errors.Is(err, core.ErrValueTooLarge))

	got, err := f.id.GetData(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExecute_CallTransfersValue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := core.Address{0xbb}

	require.NoError(t, f.host.Fund(ctx, f.owner, 100))
	_, err := f.id.Fund(ctx, 50)
	require.NoError(t, err)

	r, err := f.id.Execute(ctx, core.OperationCall, b, 10, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), f.host.Balance(b))
	assert.Equal(t, uint64(40), f.host.Balance(f.id.Address()))
	assert.Equal(t, uint64(50), f.host.Balance(f.owner))

	require.Len(t, r.Events, 1)
	assert.Equal(t, "Executed", r.Events[0].Name)
	assert.Equal(t, b.Hash(), r.Events[0].Topics[2])
	assert.Equal(t, core.Uint64Hash(10).Bytes(), r.Events[0].Data)

	_, err = f.id.Execute(ctx, core.OperationCall, b, 1000, nil)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))
	assert.Equal(t, uint64(40), f.host.Balance(f.id.Address()))
}

func TestExecute_CalleeFailureSurfaces(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other := f.deploy(t, account.InitCode(core.Address{0x77}))

	_, err := f.id.Execute(ctx, core.OperationCall, other, 0, account.SetDataInput(core.HashString("k"), []byte("v")))
	require.Error(t, err)
	assert.Equal(t, core.ErrCodeTargetExecutionFailed, core.CodeOf(err))
	assert.Equal(t, core.ErrCodeUnauthorized, core.CodeOf(core.RevertReason(err)))
}

func TestExecute_CallReturnsOutput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other := f.deploy(t, account.InitCode(core.Address{0x77}))

	r, err := f.id.Execute(ctx, core.OperationCall, other, 0, abi.NewCall(account.MethodOwner).Encode())
	require.NoError(t, err)
	v, err := abi.Decode(r.Return)
	require.NoError(t, err)
	got, err := v.Address(1)
	require.NoError(t, err)
	assert.Equal(t, core.Address{0x77}, got)
}

func TestExecute_Guards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.id.Execute(ctx, core.OperationKind(4), core.Address{}, 0, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidOperationKind))

	// A call without a kind never defaults to Call.
	_, err = f.host.Transact(ctx, f.owner, f.id.Address(), 0, abi.NewCall(account.MethodExecute).Encode())
	assert.True(t, errors.Is(err, core.ErrInvalidOperationKind))

	_, err = f.id.As(core.Address{0x99}).Execute(ctx, core.OperationKind(9), core.Address{}, 0, nil)
	assert.True(t, errors.Is(err, core.ErrUnauthorized), "owner check precedes kind check")
}

func TestExecute_Create(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	newOwner := core.Address{0xcc}

	r, err := f.id.Execute(ctx, core.OperationCreate, core.Address{}, 0, account.InitCode(newOwner))
	require.NoError(t, err)
	created := core.BytesToAddress(r.Return)
	assert.Equal(t, vm.CreateAddress(f.id.Address(), 1), created)

	var names []string
	for _, ev := range r.Events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"OwnershipTransferred", "ContractCreated"}, names)
	assert.Equal(t, created.Hash(), r.Events[1].Topics[1])

	owner, err := account.Bind(f.host, created, newOwner).Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, newOwner, owner)
}

func TestExecute_CreateFailureLeavesNoTrace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.host.Fund(ctx, f.id.Address(), 20))
	nonce := f.host.Nonce(f.id.Address())

	_, err := f.id.Execute(ctx, core.OperationCreate, core.Address{}, 5, vm.NativeCode("missing", nil))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))
	assert.Equal(t, uint64(20), f.host.Balance(f.id.Address()))
	assert.Equal(t, nonce, f.host.Nonce(f.id.Address()))

	_, err = f.id.Execute(ctx, core.OperationCreate, core.Address{}, 0, account.InitCode(core.ZeroAddress))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))
}

func TestExecute_Create2(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	initCode := account.InitCode(core.Address{0xcc})
	salt := core.HashString("salt")
	payload := append(append([]byte{}, initCode...), salt.Bytes()...)

	r, err := f.id.Execute(ctx, core.OperationCreate2, core.Address{}, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, vm.Create2Address(f.id.Address(), salt, initCode), core.BytesToAddress(r.Return))

	_, err = f.id.Execute(ctx, core.OperationCreate2, core.Address{}, 0, payload)
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))

	_, err = f.id.Execute(ctx, core.OperationCreate2, core.Address{}, 0, []byte("short"))
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestExecute_DelegateCall(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// Another identity's code, run against this identity's storage, with
	// the owner still the caller.
	lib := f.deploy(t, account.InitCode(core.Address{0x77}))
	key := core.HashString("delegated")

	_, err := f.id.Execute(ctx, core.OperationDelegateCall, lib, 0, account.SetDataInput(key, []byte("v")))
	require.NoError(t, err)

	got, err := f.id.GetData(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Empty(t, f.host.Storage(lib, key))
}

func TestExecute_DelegateCallCannotChangeOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	thief := f.deploy(t, vm.NativeCode("owner-thief", nil))

	_, err := f.id.Execute(ctx, core.OperationDelegateCall, thief, 0, nil)
	assert.True(t, errors.Is(err, core.ErrWriteProtection))

	owner, err := f.id.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.owner, owner)
}

func TestIsValidSignature(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	hash := signer.HashMessage([]byte("authorise me"))

	res, err := f.id.IsValidSignature(ctx, hash, f.ownerKey.Sign(hash))
	require.NoError(t, err)
	assert.Equal(t, core.MagicValue, res)

	other, err := signer.Generate()
	require.NoError(t, err)
	res, err = f.id.IsValidSignature(ctx, hash, other.Sign(hash))
	require.NoError(t, err)
	assert.Equal(t, core.FailValue, res)

	res, err = f.id.IsValidSignature(ctx, hash, []byte("garbage"))
	require.NoError(t, err)
	assert.Equal(t, core.FailValue, res)
}

func TestUniversalReceiver_Default(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	stranger := core.Address{0x42}
	typeID := core.HashString("TokenReceived")

	r, err := f.id.As(stranger).UniversalReceiver(ctx, typeID, []byte("payload"))
	require.NoError(t, err)
	assert.Empty(t, r.Return)
	require.Len(t, r.Events, 1)
	ev := r.Events[0]
	assert.Equal(t, "UniversalReceiver", ev.Name)
	assert.Equal(t, stranger.Hash(), ev.Topics[1])
	assert.Equal(t, typeID, ev.Topics[2])

	data, result, err := account.DecodeReceiverEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Empty(t, result)
}

func TestUniversalReceiver_IgnoresMalformedDelegate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.id.SetData(ctx, core.KeyUniversalReceiver, []byte("not an address"))
	require.NoError(t, err)

	r, err := f.id.UniversalReceiver(ctx, core.HashString("t"), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Return)
}

func TestUniversalReceiver_Delegate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	delegate := f.deploy(t, vm.NativeCode("echo-delegate", nil))
	_, err := f.id.SetData(ctx, core.KeyUniversalReceiver, delegate.Bytes())
	require.NoError(t, err)

	r, err := f.id.As(core.Address{0x42}).UniversalReceiver(ctx, core.HashString("t"), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ack:hello"), r.Return)

	_, result, err := account.DecodeReceiverEvent(r.Events[len(r.Events)-1])
	require.NoError(t, err)
	assert.Equal(t, []byte("ack:hello"), result)

	_, err = f.id.UniversalReceiver(ctx, core.HashString("t"), []byte("fail"))
	assert.True(t, errors.Is(err, core.ErrTargetExecutionFailed))
}

func TestSupportsInterface(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []core.InterfaceID{
		core.InterfaceERC165,
		core.InterfaceERC725X,
		core.InterfaceERC725Y,
		core.InterfaceERC1271,
		core.InterfaceLSP1,
	} {
		ok, err := f.id.SupportsInterface(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id.String())
	}
	ok, err := f.id.SupportsInterface(ctx, core.InterfaceID{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransferOwnership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	next := core.Address{0xcc}

	_, err := f.id.TransferOwnership(ctx, core.ZeroAddress)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = f.id.As(next).TransferOwnership(ctx, next)
	assert.True(t, errors.Is(err, core.ErrUnauthorized))

	r, err := f.id.TransferOwnership(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, f.owner.Hash(), r.Events[0].Topics[1])

	_, err = f.id.SetData(ctx, core.HashString("k"), []byte("v"))
	assert.True(t, errors.Is(err, core.ErrUnauthorized))
	_, err = f.id.As(next).SetData(ctx, core.HashString("k"), []byte("v"))
	assert.NoError(t, err)
}

func TestUnknownMethod(t *testing.T) {
	f := setup(t)
	_, err := f.host.Transact(context.Background(), f.owner, f.id.Address(), 0, []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, core.ErrUnknownMethod))
}
