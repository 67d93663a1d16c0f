package vm_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/state"
	"github.com/nmxmxh/upaccount/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slot = core.HashString("slot")

// scripted is a native contract driven by the first input byte.
type scripted struct{}

func (scripted) Construct(ctx *vm.Context, args []byte) error {
	if string(args) == "fail" {
		return errors.New("constructor refused")
	}
	return ctx.SetState(core.HashString("init"), args)
}

func (scripted) Run(ctx *vm.Context, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	op, rest := input[0], input[1:]
	switch op {
	case 'w':
		return nil, ctx.SetState(slot, rest)
	case 'f':
		if err := ctx.SetState(slot, rest); err != nil {
			return nil, err
		}
		return nil, core.NewError(core.ErrCodeTargetExecutionFailed, "scripted failure")
	case 'r':
		return ctx.GetState(slot), nil
	case 'e':
		return nil, ctx.Emit(core.NewEvent("Scripted(bytes)", rest))
	case 'c':
		return ctx.Call(core.BytesToAddress(rest[:20]), 0, rest[20:])
	case 's':
		return ctx.StaticCall(core.BytesToAddress(rest[:20]), rest[20:])
	case 'd':
		return ctx.DelegateCall(core.BytesToAddress(rest[:20]), rest[20:])
	case 't':
		// try: call and swallow the failure
		_, _ = ctx.Call(core.BytesToAddress(rest[:20]), 0, rest[20:])
		return nil, ctx.SetState(slot, []byte("after"))
	case 'p':
		// pay one credit and swallow the failure
		_, _ = ctx.Call(core.BytesToAddress(rest[:20]), 1, nil)
		return nil, ctx.SetState(slot, []byte("paid"))
	case 'x':
		return ctx.Call(ctx.Self(), 0, input)
	case 'k':
		addr, err := ctx.Create(0, vm.NativeCode("scripted", rest))
		return addr.Bytes(), err
	case '2':
		addr, err := ctx.Create2(0, vm.NativeCode("scripted", nil), core.BytesToHash(rest))
		return addr.Bytes(), err
	}
	return nil, core.NewError(core.ErrCodeUnknownMethod, "unknown scripted op")
}

type recordingCommitter struct {
	dumps []*state.Dump
	err   error
}

func (r *recordingCommitter) Commit(_ context.Context, d *state.Dump) error {
	if r.err != nil {
		return r.err
	}
	r.dumps = append(r.dumps, d)
	return nil
}

func newHost(t *testing.T, opts ...vm.Option) (*vm.Host, core.Address, core.Address) {
	t.Helper()
	h := vm.New(opts...)
	h.Register("scripted", scripted{})
	from := core.Address{0xaa}
	addr, _, err := h.Deploy(context.Background(), from, 0, vm.NativeCode("scripted", []byte("hello")))
	require.NoError(t, err)
	return h, from, addr
}

func call(op byte, args ...[]byte) []byte {
	b := []byte{op}
	for _, a := range args {
		b = append(b, a...)
	}
	return b
}

func TestDeploy_AddressAndConstructor(t *testing.T) {
	h, from, addr := newHost(t)

	assert.Equal(t, vm.CreateAddress(from, 0), addr)
	assert.Equal(t, uint64(1), h.Nonce(from))
	assert.Equal(t, uint64(1), h.Nonce(addr))
	assert.Equal(t, []byte("hello"), h.Storage(addr, core.HashString("init")))
	assert.True(t, vm.IsNative(h.Code(addr)))
}

func TestDeploy_Failures(t *testing.T) {
	h, from, _ := newHost(t)
	ctx := context.Background()

	_, _, err := h.Deploy(ctx, from, 0, vm.NativeCode("scripted", []byte("fail")))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))

	_, _, err = h.Deploy(ctx, from, 0, vm.NativeCode("missing", nil))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed))

	_, _, err = h.Deploy(ctx, from, 0, []byte{0x60, 0x00})
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed), "no runtime configured")

	// failed deployments still consume the nonce
	assert.Equal(t, uint64(4), h.Nonce(from))
}

func TestApply_WriteAndRevert(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()

	_, err := h.Transact(ctx, from, addr, 0, call('w', []byte("one")))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), h.Storage(addr, slot))

	_, err = h.Transact(ctx, from, addr, 0, call('f', []byte("two")))
	require.Error(t, err)
	assert.Equal(t, []byte("one"), h.Storage(addr, slot))
	assert.Equal(t, uint64(3), h.Nonce(from))
}

func TestApply_NestedFailureSwallowed(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	other, _, err := h.Deploy(ctx, from, 0, vm.NativeCode("scripted", nil))
	require.NoError(t, err)

	_, err = h.Transact(ctx, from, addr, 0, call('t', other.Bytes(), call('f', []byte("inner"))))
	require.NoError(t, err)
	assert.Nil(t, h.Storage(other, slot), "failed callee rolled back")
	assert.Equal(t, []byte("after"), h.Storage(addr, slot))
}

func TestApply_NestedFailurePropagates(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	other, _, err := h.Deploy(ctx, from, 0, vm.NativeCode("scripted", nil))
	require.NoError(t, err)

	_, err = h.Transact(ctx, from, addr, 0, call('c', other.Bytes(), call('f', []byte("inner"))))
	require.Error(t, err)
	assert.Equal(t, core.ErrCodeTargetExecutionFailed, core.CodeOf(err))
}

func TestApply_Events(t *testing.T) {
	h, from, addr := newHost(t)
	r, err := h.Transact(context.Background(), from, addr, 0, call('e', []byte("data")))
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "Scripted", r.Events[0].Name)
	assert.Equal(t, addr, r.Events[0].Address)
	assert.Equal(t, []byte("data"), r.Events[0].Data)
}

func TestApply_StaticFrameIsReadOnly(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	other, _, err := h.Deploy(ctx, from, 0, vm.NativeCode("scripted", nil))
	require.NoError(t, err)

	_, err = h.Transact(ctx, from, addr, 0, call('s', other.Bytes(), call('w', []byte("x"))))
	assert.True(t, errors.Is(err, core.ErrWriteProtection))

	_, err = h.Call(ctx, from, addr, call('w', []byte("x")))
	assert.True(t, errors.Is(err, core.ErrWriteProtection))

	out, err := h.Call(ctx, from, addr, call('r'))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestApply_DelegateCallUsesCallerStorage(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	lib, _, err := h.Deploy(ctx, from, 0, vm.NativeCode("scripted", nil))
	require.NoError(t, err)

	_, err = h.Transact(ctx, from, addr, 0, call('d', lib.Bytes(), call('w', []byte("delegated"))))
	require.NoError(t, err)
	assert.Equal(t, []byte("delegated"), h.Storage(addr, slot))
	assert.Nil(t, h.Storage(lib, slot))
}

func TestApply_DepthLimit(t *testing.T) {
	h, from, addr := newHost(t, vm.WithMaxDepth(8))
	_, err := h.Transact(context.Background(), from, addr, 0, call('x'))
	assert.True(t, errors.Is(err, core.ErrCallDepthExceeded))
}

func TestApply_ValueTransfer(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()

	_, err := h.Transact(ctx, from, addr, 5, nil)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))

	require.NoError(t, h.Fund(ctx, from, 100))
	_, err = h.Transact(ctx, from, addr, 40, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), h.Balance(from))
	assert.Equal(t, uint64(40), h.Balance(addr))

	_, err = h.Transact(ctx, from, addr, 10, call('f'))
	require.Error(t, err)
	assert.Equal(t, uint64(60), h.Balance(from), "value returned on failure")
}

func TestApply_FailedTransferKeepsBalances(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	rich := core.Address{0xbb}
	require.NoError(t, h.Fund(ctx, addr, 5))
	require.NoError(t, h.Fund(ctx, rich, math.MaxUint64))

	_, err := h.Transact(ctx, from, addr, 0, call('p', rich.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h.Balance(addr))
	assert.Equal(t, uint64(math.MaxUint64), h.Balance(rich))
	assert.Equal(t, []byte("paid"), h.Storage(addr, slot))
}

func TestApply_Nonce(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()

	stale := uint64(0)
	_, err := h.Apply(ctx, vm.Message{From: from, To: addr, Input: call('w', []byte("a")), Nonce: &stale})
	assert.True(t, errors.Is(err, core.ErrNonceMismatch))

	current := h.Nonce(from)
	_, err = h.Apply(ctx, vm.Message{From: from, To: addr, Input: call('w', []byte("a")), Nonce: &current})
	require.NoError(t, err)
	assert.Equal(t, current+1, h.Nonce(from))
}

func TestApply_Create2(t *testing.T) {
	h, from, addr := newHost(t)
	ctx := context.Background()
	salt := core.HashString("salt")

	r, err := h.Transact(ctx, from, addr, 0, call('2', salt.Bytes()))
	require.NoError(t, err)
	want := vm.Create2Address(addr, salt, vm.NativeCode("scripted", nil))
	assert.Equal(t, want.Bytes(), r.Return)

	_, err = h.Transact(ctx, from, addr, 0, call('2', salt.Bytes()))
	assert.True(t, errors.Is(err, core.ErrDeploymentFailed), "same salt collides")
}

func TestApply_CreateFromContract(t *testing.T) {
	h, from, addr := newHost(t)
	r, err := h.Transact(context.Background(), from, addr, 0, call('k', []byte("child")))
	require.NoError(t, err)

	child := core.BytesToAddress(r.Return)
	assert.Equal(t, vm.CreateAddress(addr, 1), child)
	assert.Equal(t, []byte("child"), h.Storage(child, core.HashString("init")))
	assert.Equal(t, uint64(2), h.Nonce(addr))
}

func TestCommitter(t *testing.T) {
	rec := &recordingCommitter{}
	h, from, addr := newHost(t, vm.WithCommitter(rec))
	ctx := context.Background()
	require.Len(t, rec.dumps, 1)

	_, err := h.Transact(ctx, from, addr, 0, call('w', []byte("persisted")))
	require.NoError(t, err)
	require.Len(t, rec.dumps, 2)
	assert.Equal(t, []byte("persisted"), rec.dumps[1].Accounts[addr].Storage[slot])

	rec.err = errors.New("disk full")
	_, err = h.Transact(ctx, from, addr, 0, call('w', []byte("lost")))
	require.Error(t, err)
	assert.Equal(t, []byte("persisted"), h.Storage(addr, slot))
}

func TestNativeCodeRoundTrip(t *testing.T) {
	code := vm.NativeCode("scripted", []byte{1, 2})
	assert.True(t, vm.IsNative(code))
	assert.False(t, vm.IsNative([]byte("wasm")))
}
