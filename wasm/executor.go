// Package wasm runs deployed WebAssembly contracts on wasmer.
//
// A contract module exports its linear memory as "memory", an allocator
// "alloc(len i32) -> i32" and an entry point "call(ptr i32, len i32) -> i64"
// whose result packs the output pointer in the high 32 bits and the output
// length in the low 32 bits. An optional "init()" export runs once on
// deployment. Modules may import from "env":
//
//	storage_read(key_ptr, out_ptr, out_cap i32) -> i32   value length
//	storage_write(key_ptr, val_ptr, val_len i32) -> i32  0 on success
//	caller(out_ptr i32)                                   20-byte address
package wasm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
	"github.com/wasmerio/wasmer-go/wasmer"
	"go.uber.org/zap"
)

// Runtime implements vm.Runtime. Compiled modules are cached by code hash.
type Runtime struct {
	mu      sync.Mutex
	engine  *wasmer.Engine
	store   *wasmer.Store
	modules map[core.Hash]*wasmer.Module
	log     *zap.Logger
}

var _ vm.Runtime = (*Runtime)(nil)

// NewRuntime returns a runtime with its own engine and store.
func NewRuntime(log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	engine := wasmer.NewEngine()
	return &Runtime{
		engine:  engine,
		store:   wasmer.NewStore(engine),
		modules: make(map[core.Hash]*wasmer.Module),
		log:     log,
	}
}

func (r *Runtime) module(code []byte) (*wasmer.Module, error) {
	key := core.Keccak256Hash(code)
	if m, ok := r.modules[key]; ok {
		return m, nil
	}
	if err := wasmer.ValidateModule(r.store, code); err != nil {
		return nil, err
	}
	m, err := wasmer.NewModule(r.store, code)
	if err != nil {
		return nil, err
	}
	r.modules[key] = m
	r.log.Debug("compiled wasm module", zap.Stringer("code_hash", key), zap.Int("size", len(code)))
	return m, nil
}

// Deploy validates initCode, runs its init export when present and
// installs the module itself as the contract code.
func (r *Runtime) Deploy(ctx *vm.Context, initCode []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.module(initCode)
	if err != nil {
		return nil, core.ErrDeployment("invalid wasm module", err)
	}
	if !exports(m, "init") {
		return initCode, nil
	}
	inst, err := r.instantiate(ctx, m)
	if err != nil {
		return nil, core.ErrDeployment("instantiate wasm module", err)
	}
	start, err := inst.Exports.GetFunction("init")
	if err != nil {
		return nil, core.ErrDeployment("resolve init", err)
	}
	if _, err := start(); err != nil {
		return nil, core.ErrDeployment("wasm init", inst.cause(err))
	}
	return initCode, nil
}

// Run executes the call export of code with input.
func (r *Runtime) Run(ctx *vm.Context, code, input []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fail := func(err error) ([]byte, error) {
		return nil, core.ErrExecutionFailed(ctx.CodeAddress(), err)
	}
	m, err := r.module(code)
	if err != nil {
		return fail(err)
	}
	inst, err := r.instantiate(ctx, m)
	if err != nil {
		return fail(err)
	}
	alloc, err := inst.Exports.GetFunction("alloc")
	if err != nil {
		return fail(err)
	}
	call, err := inst.Exports.GetFunction("call")
	if err != nil {
		return fail(err)
	}

	res, err := alloc(int32(len(input)))
	if err != nil {
		return fail(inst.cause(err))
	}
	ptr, ok := res.(int32)
	if !ok {
		return fail(fmt.Errorf("alloc returned %T", res))
	}
	data := inst.memory.Data()
	if int(ptr) < 0 || int(ptr)+len(input) > len(data) {
		return fail(errors.New("alloc returned out of bounds pointer"))
	}
	copy(data[ptr:], input)

	res, err = call(ptr, int32(len(input)))
	if err != nil {
		return fail(inst.cause(err))
	}
	packed, ok := res.(int64)
	if !ok {
		return fail(fmt.Errorf("call returned %T", res))
	}
	outPtr, outLen := uint32(uint64(packed)>>32), uint32(packed)
	data = inst.memory.Data()
	if uint64(outPtr)+uint64(outLen) > uint64(len(data)) {
		return fail(errors.New("call returned out of bounds output"))
	}
	if outLen == 0 {
		return nil, nil
	}
	out := make([]byte, outLen)
	copy(out, data[outPtr:outPtr+outLen])
	return out, nil
}

func exports(m *wasmer.Module, name string) bool {
	for _, e := range m.Exports() {
		if e.Name() == name {
			return true
		}
	}
	return false
}

type instance struct {
	*wasmer.Instance
	memory *wasmer.Memory
	// hostErr is the error raised by a host function, which the trap
	// returned by wasmer does not carry.
	hostErr error
}

func (i *instance) cause(err error) error {
	if i.hostErr != nil {
		return i.hostErr
	}
	return err
}

func (r *Runtime) instantiate(ctx *vm.Context, m *wasmer.Module) (*instance, error) {
	inst := &instance{}
	i32 := func(n int) []*wasmer.ValueType {
		kinds := make([]wasmer.ValueKind, n)
		for j := range kinds {
			kinds[j] = wasmer.I32
		}
		return wasmer.NewValueTypes(kinds...)
	}
	mem := func(ptr int32, n int) ([]byte, error) {
		data := inst.memory.Data()
		if ptr < 0 || n < 0 || int(ptr)+n > len(data) {
			return nil, errors.New("memory access out of bounds")
		}
		return data[ptr : int(ptr)+n], nil
	}
	trap := func(err error) ([]wasmer.Value, error) {
		inst.hostErr = err
		return nil, err
	}

	storageRead := wasmer.NewFunction(r.store, wasmer.NewFunctionType(i32(3), i32(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key, err := mem(args[0].I32(), core.HashLength)
			if err != nil {
				return trap(err)
			}
			c := int(args[2].I32())
			if c < 0 {
				return trap(errors.New("negative output capacity"))
			}
			val := ctx.GetState(core.BytesToHash(key))
			n := len(val)
			if n > c {
				n = c
			}
			out, err := mem(args[1].I32(), n)
			if err != nil {
				return trap(err)
			}
			copy(out, val)
			return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
		})
	storageWrite := wasmer.NewFunction(r.store, wasmer.NewFunctionType(i32(3), i32(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key, err := mem(args[0].I32(), core.HashLength)
			if err != nil {
				return trap(err)
			}
			val, err := mem(args[1].I32(), int(args[2].I32()))
			if err != nil {
				return trap(err)
			}
			if err := ctx.SetState(core.BytesToHash(key), append([]byte{}, val...)); err != nil {
				return trap(err)
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})
	caller := wasmer.NewFunction(r.store, wasmer.NewFunctionType(i32(1), i32(0)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			out, err := mem(args[0].I32(), core.AddressLength)
			if err != nil {
				return trap(err)
			}
			c := ctx.Caller()
			copy(out, c[:])
			return nil, nil
		})

	imports := wasmer.NewImportObject()
	imports.Register("env", map[string]wasmer.IntoExtern{
		"storage_read":  storageRead,
		"storage_write": storageWrite,
		"caller":        caller,
	})
	wi, err := wasmer.NewInstance(m, imports)
	if err != nil {
		return nil, err
	}
	memory, err := wi.Exports.GetMemory("memory")
	if err != nil {
		return nil, err
	}
	inst.Instance = wi
	inst.memory = memory
	return inst, nil
}
