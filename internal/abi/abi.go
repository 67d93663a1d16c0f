// Package abi encodes contract call data. A call is a 4-byte selector,
// the leading bytes of keccak256 over the method signature, followed by
// the arguments as protobuf wire fields numbered by argument position.
// Return values use the same field layout without a selector.
package abi

import (
	"fmt"

	"github.com/nmxmxh/upaccount/internal/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// SelectorLength is the size of a method selector.
const SelectorLength = 4

// Selector identifies a contract method.
type Selector [SelectorLength]byte

// MethodID derives the selector of a method signature such as
// "setData(bytes32,bytes)".
func MethodID(signature string) Selector {
	var s Selector
	copy(s[:], core.Keccak256([]byte(signature)))
	return s
}

func (s Selector) String() string { return core.ToHex(s[:]) }

// InterfaceOf XORs the selectors of an interface's methods.
func InterfaceOf(selectors ...Selector) core.InterfaceID {
	var id core.InterfaceID
	for _, s := range selectors {
		for i := range id {
			id[i] ^= s[i]
		}
	}
	return id
}

// SplitCall separates call data into selector and encoded arguments.
func SplitCall(input []byte) (Selector, []byte, error) {
	var s Selector
	if len(input) < SelectorLength {
		return s, nil, core.ErrArgument("call data shorter than selector").
			WithContext("length", len(input))
	}
	copy(s[:], input[:SelectorLength])
	return s, input[SelectorLength:], nil
}

// Encoder appends positional arguments.
type Encoder struct {
	buf  []byte
	next protowire.Number
}

// NewCall starts call data for the method identified by sel.
func NewCall(sel Selector) *Encoder {
	buf := make([]byte, SelectorLength, 64)
	copy(buf, sel[:])
	return &Encoder{buf: buf, next: 1}
}

// NewValues starts a selector-less argument list, used for return values
// and constructor arguments.
func NewValues() *Encoder {
	return &Encoder{next: 1}
}

func (e *Encoder) field() protowire.Number {
	n := e.next
	e.next++
	return n
}

func (e *Encoder) Uint(v uint64) *Encoder {
	e.buf = protowire.AppendTag(e.buf, e.field(), protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	return e.Uint(protowire.EncodeBool(v))
}

func (e *Encoder) Bytes(v []byte) *Encoder {
	e.buf = protowire.AppendTag(e.buf, e.field(), protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
	return e
}

func (e *Encoder) Address(a core.Address) *Encoder { return e.Bytes(a[:]) }
func (e *Encoder) Hash(h core.Hash) *Encoder       { return e.Bytes(h[:]) }
func (e *Encoder) Bytes4(b [4]byte) *Encoder       { return e.Bytes(b[:]) }

// Hashes encodes a list as a repeated field.
func (e *Encoder) Hashes(hs []core.Hash) *Encoder {
	n := e.field()
	for _, h := range hs {
		e.buf = protowire.AppendTag(e.buf, n, protowire.BytesType)
		e.buf = protowire.AppendBytes(e.buf, h[:])
	}
	return e
}

// Encode returns the encoded bytes.
func (e *Encoder) Encode() []byte {
	return e.buf
}

type value struct {
	typ    protowire.Type
	varint uint64
	bytes  [][]byte
}

// Values is a decoded argument list. Missing arguments decode as zero
// values, so optional trailing arguments need no special casing.
type Values struct {
	fields map[protowire.Number]*value
}

// Decode parses an argument list.
func Decode(b []byte) (*Values, error) {
	v := &Values{fields: make(map[protowire.Number]*value)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, core.WrapError(core.ErrCodeInvalidArgument, "malformed argument tag", protowire.ParseError(n))
		}
		b = b[n:]
		f, ok := v.fields[num]
		if !ok {
			f = &value{typ: typ}
			v.fields[num] = f
		} else if f.typ != typ {
			return nil, core.ErrArgument("argument encoded with mixed wire types").WithContext("field", int(num))
		}
		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, core.WrapError(core.ErrCodeInvalidArgument, "malformed varint argument", protowire.ParseError(n))
			}
			f.varint = x
			b = b[n:]
		case protowire.BytesType:
			x, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, core.WrapError(core.ErrCodeInvalidArgument, "malformed bytes argument", protowire.ParseError(n))
			}
			f.bytes = append(f.bytes, x)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, core.WrapError(core.ErrCodeInvalidArgument, "malformed argument", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return v, nil
}

// Has reports whether argument pos was encoded.
func (v *Values) Has(pos int) bool {
	_, ok := v.fields[protowire.Number(pos)]
	return ok
}

func (v *Values) get(pos int, typ protowire.Type) (*value, error) {
	f, ok := v.fields[protowire.Number(pos)]
	if !ok {
		return nil, nil
	}
	if f.typ != typ {
		return nil, core.ErrArgument(fmt.Sprintf("argument %d has wire type %d, want %d", pos, f.typ, typ))
	}
	return f, nil
}

// Uint returns argument pos (1-based) as an unsigned integer.
func (v *Values) Uint(pos int) (uint64, error) {
	f, err := v.get(pos, protowire.VarintType)
	if err != nil || f == nil {
		return 0, err
	}
	return f.varint, nil
}

func (v *Values) Bool(pos int) (bool, error) {
	x, err := v.Uint(pos)
	return x != 0, err
}

// Bytes returns argument pos as a byte string. The slice is a copy.
func (v *Values) Bytes(pos int) ([]byte, error) {
	f, err := v.get(pos, protowire.BytesType)
	if err != nil || f == nil || len(f.bytes) == 0 {
		return nil, err
	}
	last := f.bytes[len(f.bytes)-1]
	out := make([]byte, len(last))
	copy(out, last)
	return out, nil
}

func (v *Values) fixed(pos, size int) ([]byte, error) {
	b, err := v.Bytes(pos)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return make([]byte, size), nil
	}
	if len(b) != size {
		return nil, core.ErrArgument(fmt.Sprintf("argument %d is %d bytes, want %d", pos, len(b), size))
	}
	return b, nil
}

func (v *Values) Address(pos int) (core.Address, error) {
	b, err := v.fixed(pos, core.AddressLength)
	if err != nil {
		return core.Address{}, err
	}
	return core.BytesToAddress(b), nil
}

func (v *Values) Hash(pos int) (core.Hash, error) {
	b, err := v.fixed(pos, core.HashLength)
	if err != nil {
		return core.Hash{}, err
	}
	return core.BytesToHash(b), nil
}

func (v *Values) Bytes4(pos int) ([4]byte, error) {
	var out [4]byte
	b, err := v.fixed(pos, 4)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Hashes returns a repeated bytes32 argument.
func (v *Values) Hashes(pos int) ([]core.Hash, error) {
	f, err := v.get(pos, protowire.BytesType)
	if err != nil || f == nil {
		return nil, err
	}
	out := make([]core.Hash, 0, len(f.bytes))
	for _, b := range f.bytes {
		if len(b) != core.HashLength {
			return nil, core.ErrArgument(fmt.Sprintf("argument %d holds a %d byte entry", pos, len(b)))
		}
		out = append(out, core.BytesToHash(b))
	}
	return out, nil
}
