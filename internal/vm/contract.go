package vm

import (
	"bytes"

	"github.com/nmxmxh/upaccount/internal/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// Contract is code the host can run. Native contracts keep no Go state:
// everything they remember lives in the storage of ctx.Self(), which is
// what makes frames revertible and delegate calls meaningful.
type Contract interface {
	Run(ctx *Context, input []byte) ([]byte, error)
}

// Constructor is implemented by native contracts that initialise storage
// when deployed.
type Constructor interface {
	Construct(ctx *Context, args []byte) error
}

// Runtime interprets deployed non-native code, such as WASM modules.
type Runtime interface {
	// Deploy validates init code and returns the code to install.
	Deploy(ctx *Context, initCode []byte) ([]byte, error)
	// Run executes installed code with the given input.
	Run(ctx *Context, code, input []byte) ([]byte, error)
}

// nativePrefix marks init and runtime code that names a native contract.
var nativePrefix = []byte{0x00, 'n', 'a', 't'}

// NativeCode returns init code deploying the native contract registered
// under name with constructor arguments args.
func NativeCode(name string, args []byte) []byte {
	b := append([]byte{}, nativePrefix...)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, name)
	if len(args) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, args)
	}
	return b
}

// IsNative reports whether code names a native contract.
func IsNative(code []byte) bool {
	return bytes.HasPrefix(code, nativePrefix)
}

// parseNative splits native code into the contract name and constructor
// arguments.
func parseNative(code []byte) (name string, args []byte, err error) {
	b := code[len(nativePrefix):]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			name = string(v)
		case 2:
			args = v
		}
	}
	if name == "" {
		return "", nil, core.ErrArgument("native code without contract name")
	}
	return name, args, nil
}

// CreateAddress derives the address of a contract created by creator when
// its nonce is nonce: keccak256(creator ++ nonce as 8 big-endian bytes)[12:].
func CreateAddress(creator core.Address, nonce uint64) core.Address {
	var n [8]byte
	for i := 0; i < 8; i++ {
		n[7-i] = byte(nonce >> (8 * i))
	}
	return core.BytesToAddress(core.Keccak256(creator[:], n[:]))
}

// Create2Address derives a salted contract address as defined by EIP-1014:
// keccak256(0xff ++ creator ++ salt ++ keccak256(initCode))[12:].
func Create2Address(creator core.Address, salt core.Hash, initCode []byte) core.Address {
	codeHash := core.Keccak256(initCode)
	return core.BytesToAddress(core.Keccak256([]byte{0xff}, creator[:], salt[:], codeHash))
}
