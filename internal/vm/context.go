package vm

import (
	"context"

	"github.com/nmxmxh/upaccount/internal/core"
	"go.uber.org/zap"
)

// CallKind is the kind of frame a contract runs in.
type CallKind int

const (
	KindCall CallKind = iota
	KindStatic
	KindDelegate
	KindCreate
)

func (k CallKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindStatic:
		return "staticcall"
	case KindDelegate:
		return "delegatecall"
	case KindCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Context is the view a running contract has of its frame. Storage, events
// and balance operations act on Self; in a delegate frame Self is the
// delegating contract, not the one whose code runs.
type Context struct {
	ctx    context.Context
	host   *Host
	kind   CallKind
	caller core.Address
	self   core.Address
	code   core.Address
	value  uint64
	depth  int
	static bool
}

// Context returns the request context of the message being applied.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) Kind() CallKind       { return c.kind }
func (c *Context) Caller() core.Address { return c.caller }
func (c *Context) Self() core.Address   { return c.self }

// CodeAddress is the account whose code is running.
func (c *Context) CodeAddress() core.Address { return c.code }
func (c *Context) Value() uint64             { return c.value }
func (c *Context) Depth() int                { return c.depth }
func (c *Context) IsStatic() bool            { return c.static }

// Logger returns the host logger annotated with the frame.
func (c *Context) Logger() *zap.Logger {
	return c.host.log.With(
		zap.Stringer("self", c.self),
		zap.Stringer("caller", c.caller),
		zap.Stringer("kind", c.kind),
		zap.Int("depth", c.depth),
	)
}

// GetState reads a storage slot of Self.
func (c *Context) GetState(key core.Hash) []byte {
	return c.host.state.GetState(c.self, key)
}

// SetState writes a storage slot of Self. An empty value clears it.
func (c *Context) SetState(key core.Hash, value []byte) error {
	if c.static {
		return core.NewError(core.ErrCodeWriteProtection, "storage write in static frame").
			WithContext("address", c.self.String())
	}
	c.host.state.SetState(c.self, key, value)
	return nil
}

// Emit records an event from Self.
func (c *Context) Emit(ev core.Event) error {
	if c.static {
		return core.NewError(core.ErrCodeWriteProtection, "event emitted in static frame").
			WithContext("event", ev.Name)
	}
	ev.Address = c.self
	c.host.state.AddLog(ev)
	return nil
}

// Balance returns the credits of addr.
func (c *Context) Balance(addr core.Address) uint64 {
	return c.host.state.Balance(addr)
}

// HasCode reports whether addr is a contract.
func (c *Context) HasCode(addr core.Address) bool {
	return len(c.host.state.Code(addr)) > 0
}

// Call invokes to with Self as caller, transferring value from Self.
func (c *Context) Call(to core.Address, value uint64, input []byte) ([]byte, error) {
	if c.static && value > 0 {
		return nil, core.NewError(core.ErrCodeWriteProtection, "value transfer in static frame")
	}
	return c.host.call(c.ctx, KindCall, c.self, to, to, value, input, c.depth+1, c.static)
}

// StaticCall invokes to without allowing it, or anything it calls, to
// change state.
func (c *Context) StaticCall(to core.Address, input []byte) ([]byte, error) {
	return c.host.call(c.ctx, KindStatic, c.self, to, to, 0, input, c.depth+1, true)
}

// DelegateCall runs the code of codeAddr against Self's storage and
// balance. The caller and value of the current frame are kept; no credits
// move.
func (c *Context) DelegateCall(codeAddr core.Address, input []byte) ([]byte, error) {
	return c.host.call(c.ctx, KindDelegate, c.caller, c.self, codeAddr, c.value, input, c.depth+1, c.static)
}

// Create deploys initCode at an address derived from Self and its nonce.
func (c *Context) Create(value uint64, initCode []byte) (core.Address, error) {
	if c.static {
		return core.Address{}, core.NewError(core.ErrCodeWriteProtection, "create in static frame")
	}
	nonce := c.host.state.Nonce(c.self)
	c.host.state.SetNonce(c.self, nonce+1)
	return c.host.create(c.ctx, c.self, CreateAddress(c.self, nonce), value, initCode, c.depth+1)
}

// Create2 deploys initCode at the address derived from Self, salt and the
// init code hash.
func (c *Context) Create2(value uint64, initCode []byte, salt core.Hash) (core.Address, error) {
	if c.static {
		return core.Address{}, core.NewError(core.ErrCodeWriteProtection, "create2 in static frame")
	}
	c.host.state.SetNonce(c.self, c.host.state.Nonce(c.self)+1)
	return c.host.create(c.ctx, c.self, Create2Address(c.self, salt, initCode), value, initCode, c.depth+1)
}
