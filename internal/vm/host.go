// Package vm is the deterministic host the account contracts run in. It
// applies messages one at a time against the journaled world state, runs
// native Go contracts and runtime-interpreted code, and rolls back every
// frame that fails.
package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds nested frames.
const DefaultMaxDepth = 1024

var tracer = otel.Tracer("github.com/nmxmxh/upaccount/internal/vm")

// Committer persists the world state after each applied message.
type Committer interface {
	Commit(ctx context.Context, dump *state.Dump) error
}

// Backend is the surface contract bindings use: the in-process Host or a
// remote client.
type Backend interface {
	Transact(ctx context.Context, from, to core.Address, value uint64, input []byte) (*Receipt, error)
	Call(ctx context.Context, from, to core.Address, input []byte) ([]byte, error)
}

// Message is a top-level request to the host.
type Message struct {
	From  core.Address
	To    core.Address
	Value uint64
	Input []byte
	// Create deploys Input as init code; To is ignored.
	Create bool
	// Nonce, when set, must equal the sender's nonce.
	Nonce *uint64
}

// Receipt is the outcome of an applied message.
type Receipt struct {
	Return          []byte
	Events          []core.Event
	ContractAddress core.Address
}

// Host applies messages. All methods are safe for concurrent use; messages
// are applied in a strict total order.
type Host struct {
	mu        sync.Mutex
	state     *state.State
	natives   map[string]Contract
	runtime   Runtime
	committer Committer
	maxDepth  int
	log       *zap.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithRuntime sets the interpreter for non-native code.
func WithRuntime(rt Runtime) Option {
	return func(h *Host) { h.runtime = rt }
}

// WithCommitter persists state after every message.
func WithCommitter(c Committer) Option {
	return func(h *Host) { h.committer = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

func WithMaxDepth(depth int) Option {
	return func(h *Host) {
		if depth > 0 {
			h.maxDepth = depth
		}
	}
}

// New returns a host over an empty state.
func New(opts ...Option) *Host {
	h := &Host{
		state:    state.New(),
		natives:  make(map[string]Contract),
		maxDepth: DefaultMaxDepth,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register binds a native contract implementation to name. Code deployed
// with NativeCode(name, ...) runs c.
func (h *Host) Register(name string, c Contract) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.natives[name] = c
}

// Load replaces the world state.
func (h *Host) Load(d *state.Dump) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Load(d)
}

// Dump copies the world state.
func (h *Host) Dump() *state.Dump {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Dump()
}

func (h *Host) Balance(addr core.Address) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Balance(addr)
}

func (h *Host) Nonce(addr core.Address) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Nonce(addr)
}

func (h *Host) Code(addr core.Address) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Code(addr)
}

// Storage reads a raw storage slot.
func (h *Host) Storage(addr core.Address, key core.Hash) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.GetState(addr, key)
}

// Fund credits addr out of thin air. It is how genesis balances are
// created.
func (h *Host) Fund(ctx context.Context, addr core.Address, amount uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.state.Snapshot()
	if err := h.state.AddBalance(addr, amount); err != nil {
		return err
	}
	if err := h.persist(ctx); err != nil {
		h.state.RevertToSnapshot(snap)
		return err
	}
	h.state.Commit()
	return nil
}

// Transact applies a call message.
func (h *Host) Transact(ctx context.Context, from, to core.Address, value uint64, input []byte) (*Receipt, error) {
	return h.Apply(ctx, Message{From: from, To: to, Value: value, Input: input})
}

// Deploy applies a create message and returns the new contract address.
func (h *Host) Deploy(ctx context.Context, from core.Address, value uint64, initCode []byte) (core.Address, *Receipt, error) {
	r, err := h.Apply(ctx, Message{From: from, Value: value, Input: initCode, Create: true})
	if err != nil {
		return core.Address{}, nil, err
	}
	return r.ContractAddress, r, nil
}

// Call runs a read-only call. It never changes state.
func (h *Host) Call(ctx context.Context, from, to core.Address, input []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.state.Snapshot()
	defer h.state.RevertToSnapshot(snap)
	return h.call(ctx, KindStatic, from, to, to, 0, input, 0, true)
}

// Apply runs msg atomically: either every effect is committed and
// persisted or none is. The sender nonce advances in both cases.
func (h *Host) Apply(ctx context.Context, msg Message) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "vm.Apply", trace.WithAttributes(
		attribute.String("from", msg.From.String()),
		attribute.String("to", msg.To.String()),
		attribute.Bool("create", msg.Create),
	))
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	nonce := h.state.Nonce(msg.From)
	if msg.Nonce != nil && *msg.Nonce != nonce {
		err := core.NewError(core.ErrCodeNonceMismatch, "nonce mismatch").
			WithContext("expected", nonce).
			WithContext("got", *msg.Nonce)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	h.state.SetNonce(msg.From, nonce+1)

	snap := h.state.Snapshot()
	mark := h.state.LogCount()
	receipt := &Receipt{}
	var err error
	if msg.Create {
		receipt.ContractAddress, err = h.create(ctx, msg.From, CreateAddress(msg.From, nonce), msg.Value, msg.Input, 0)
	} else {
		receipt.Return, err = h.call(ctx, KindCall, msg.From, msg.To, msg.To, msg.Value, msg.Input, 0, false)
	}
	if err != nil {
		h.state.RevertToSnapshot(snap)
		if perr := h.persist(ctx); perr != nil {
			h.log.Error("persist nonce after failed message", zap.Error(perr))
		}
		h.state.Commit()
		h.log.Debug("message reverted",
			zap.Stringer("from", msg.From),
			zap.Stringer("to", msg.To),
			zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	receipt.Events = h.state.Logs(mark)
	if err := h.persist(ctx); err != nil {
		h.state.RevertToSnapshot(snap)
		h.state.Commit()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	h.state.Commit()
	span.SetAttributes(attribute.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (h *Host) persist(ctx context.Context) error {
	if h.committer == nil {
		return nil
	}
	if err := h.committer.Commit(ctx, h.state.Dump()); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (h *Host) call(ctx context.Context, kind CallKind, caller, self, codeAddr core.Address, value uint64, input []byte, depth int, static bool) ([]byte, error) {
	if depth > h.maxDepth {
		return nil, core.NewError(core.ErrCodeCallDepthExceeded, "call depth exceeded").
			WithContext("depth", depth)
	}
	snap := h.state.Snapshot()
	if kind == KindCall && value > 0 {
		if err := h.state.Transfer(caller, self, value); err != nil {
			h.state.RevertToSnapshot(snap)
			return nil, err
		}
	}

	contract, err := h.contractAt(codeAddr)
	if err != nil {
		h.state.RevertToSnapshot(snap)
		return nil, err
	}
	if contract == nil {
		// Plain account: nothing runs, the transfer is the whole effect.
		return nil, nil
	}

	frame := &Context{
		ctx:    ctx,
		host:   h,
		kind:   kind,
		caller: caller,
		self:   self,
		code:   codeAddr,
		value:  value,
		depth:  depth,
		static: static,
	}
	out, err := contract.Run(frame, input)
	if err != nil {
		h.state.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

func (h *Host) create(ctx context.Context, creator, addr core.Address, value uint64, initCode []byte, depth int) (core.Address, error) {
	if depth > h.maxDepth {
		return core.Address{}, core.NewError(core.ErrCodeCallDepthExceeded, "call depth exceeded").
			WithContext("depth", depth)
	}
	if h.state.Nonce(addr) != 0 || len(h.state.Code(addr)) != 0 {
		return core.Address{}, core.ErrDeployment("contract address collision", nil).
			WithContext("address", addr.String())
	}

	snap := h.state.Snapshot()
	h.state.SetNonce(addr, 1)
	if err := h.state.Transfer(creator, addr, value); err != nil {
		h.state.RevertToSnapshot(snap)
		return core.Address{}, err
	}

	frame := &Context{
		ctx:    ctx,
		host:   h,
		kind:   KindCreate,
		caller: creator,
		self:   addr,
		code:   addr,
		value:  value,
		depth:  depth,
	}
	code, err := h.construct(frame, initCode)
	if err == nil && len(code) == 0 {
		err = core.ErrDeployment("deployment produced no code", nil)
	}
	if err != nil {
		h.state.RevertToSnapshot(snap)
		if core.CodeOf(err) != core.ErrCodeDeploymentFailed {
			err = core.ErrDeployment("constructor failed", err).WithContext("address", addr.String())
		}
		return core.Address{}, err
	}
	h.state.SetCode(addr, code)
	h.log.Debug("contract created",
		zap.Stringer("creator", creator),
		zap.Stringer("address", addr),
		zap.Bool("native", IsNative(code)))
	return addr, nil
}

// construct runs init code and returns the code to install.
func (h *Host) construct(frame *Context, initCode []byte) ([]byte, error) {
	if IsNative(initCode) {
		name, args, err := parseNative(initCode)
		if err != nil {
			return nil, core.ErrDeployment("malformed native code", err)
		}
		contract, ok := h.natives[name]
		if !ok {
			return nil, core.ErrDeployment("unknown native contract", nil).WithContext("name", name)
		}
		if ctor, ok := contract.(Constructor); ok {
			if err := ctor.Construct(frame, args); err != nil {
				return nil, err
			}
		}
		return NativeCode(name, nil), nil
	}
	if h.runtime == nil {
		return nil, core.ErrDeployment("no runtime for non-native code", nil)
	}
	return h.runtime.Deploy(frame, initCode)
}

// contractAt resolves the code at addr. A nil contract means addr holds no
// code.
func (h *Host) contractAt(addr core.Address) (Contract, error) {
	code := h.state.Code(addr)
	if len(code) == 0 {
		return nil, nil
	}
	if IsNative(code) {
		name, _, err := parseNative(code)
		if err != nil {
			return nil, core.WrapError(core.ErrCodeTargetExecutionFailed, "malformed native code", err)
		}
		c, ok := h.natives[name]
		if !ok {
			return nil, core.NewError(core.ErrCodeTargetExecutionFailed, "native contract not registered").
				WithContext("name", name)
		}
		return c, nil
	}
	if h.runtime == nil {
		return nil, core.NewError(core.ErrCodeTargetExecutionFailed, "no runtime for code").
			WithContext("address", addr.String())
	}
	return runtimeContract{rt: h.runtime, code: code}, nil
}

type runtimeContract struct {
	rt   Runtime
	code []byte
}

func (r runtimeContract) Run(ctx *Context, input []byte) ([]byte, error) {
	return r.rt.Run(ctx, r.code, input)
}
