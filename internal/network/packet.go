package network

import (
	"errors"
	"fmt"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind selects what a packet asks the node to do.
type Kind uint64

const (
	// KindTransact applies a signed call.
	KindTransact Kind = iota + 1
	// KindCreate applies a signed deployment of Input.
	KindCreate
	// KindCall runs a read-only call as From. No signature is needed.
	KindCall
	// KindNonce returns the nonce of From.
	KindNonce
)

func (k Kind) String() string {
	switch k {
	case KindTransact:
		return "transact"
	case KindCreate:
		return "create"
	case KindCall:
		return "call"
	case KindNonce:
		return "nonce"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

func (k Kind) signed() bool { return k == KindTransact || k == KindCreate }

// MaxPacketSize bounds a request or response read from a stream.
const MaxPacketSize = 4 << 20

// Packet is a request sent to a node.
type Packet struct {
	Kind  Kind
	From  core.Address // claimed caller of unsigned kinds
	To    core.Address
	Value uint64
	Input []byte
	Nonce uint64
	// Signature covers every other field; the recovered signer is the
	// sender of signed kinds.
	Signature []byte
}

const (
	fieldKind protowire.Number = iota + 1
	fieldFrom
	fieldTo
	fieldValue
	fieldInput
	fieldNonce
	fieldSignature
)

func (p *Packet) encode(withSig bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
	b = protowire.AppendBytes(b, p.From[:])
	b = protowire.AppendTag(b, fieldTo, protowire.BytesType)
	b = protowire.AppendBytes(b, p.To[:])
	b = protowire.AppendTag(b, fieldValue, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Value)
	b = protowire.AppendTag(b, fieldInput, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Input)
	b = protowire.AppendTag(b, fieldNonce, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Nonce)
	if withSig && len(p.Signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Signature)
	}
	return b
}

// Marshal encodes the packet.
func (p *Packet) Marshal() []byte { return p.encode(true) }

// SigningHash is the hash a sender signs.
func (p *Packet) SigningHash() core.Hash {
	return core.Keccak256Hash(p.encode(false))
}

// Sign sets From to the key's address and signs the packet.
func (p *Packet) Sign(key *signer.Key) {
	p.From = key.Address()
	p.Signature = key.Sign(p.SigningHash())
}

// Sender returns the authenticated sender: the recovered signer for
// signed kinds, which must match From, and From otherwise.
func (p *Packet) Sender() (core.Address, error) {
	if !p.Kind.signed() {
		return p.From, nil
	}
	if len(p.Signature) == 0 {
		return core.Address{}, core.ErrArgument("packet is not signed")
	}
	who, err := signer.Recover(p.SigningHash(), p.Signature)
	if err != nil {
		return core.Address{}, err
	}
	if who != p.From {
		return core.Address{}, core.NewError(core.ErrCodeUnauthorized, "packet signer does not match sender").
			WithContext("from", p.From.String()).
			WithContext("signer", who.String())
	}
	return who, nil
}

// UnmarshalPacket decodes a packet.
func UnmarshalPacket(b []byte) (*Packet, error) {
	p := &Packet{}
	err := walk(b, func(num protowire.Number, varint uint64, raw []byte) error {
		switch num {
		case fieldKind:
			p.Kind = Kind(varint)
		case fieldFrom:
			if len(raw) != core.AddressLength {
				return errors.New("from is not an address")
			}
			p.From = core.BytesToAddress(raw)
		case fieldTo:
			if len(raw) != core.AddressLength {
				return errors.New("to is not an address")
			}
			p.To = core.BytesToAddress(raw)
		case fieldValue:
			p.Value = varint
		case fieldInput:
			p.Input = append([]byte{}, raw...)
		case fieldNonce:
			p.Nonce = varint
		case fieldSignature:
			p.Signature = append([]byte{}, raw...)
		}
		return nil
	})
	if err != nil {
		return nil, core.WrapError(core.ErrCodeInvalidArgument, "malformed packet", err)
	}
	if p.Kind < KindTransact || p.Kind > KindNonce {
		return nil, core.ErrArgument("unknown packet kind").WithContext("kind", uint64(p.Kind))
	}
	return p, nil
}

// Response is a node's answer to a packet.
type Response struct {
	Return          []byte
	ContractAddress core.Address
	// Code and Message carry a failure; Code is empty on success.
	Code    string
	Message string
	// Reason is the code of the innermost revert when it differs from Code,
	// such as the callee's error behind a failed execute.
	Reason string
	Events []core.Event
}

// Err rebuilds the coded error carried by the response.
func (r *Response) Err() error {
	if r.Code == "" {
		return nil
	}
	if r.Reason != "" && r.Reason != r.Code {
		return core.WrapError(r.Code, r.Message, core.NewError(r.Reason, "reverted"))
	}
	return core.NewError(r.Code, r.Message)
}

func errorResponse(err error) *Response {
	code := core.CodeOf(err)
	if code == "" {
		code = core.ErrCodeTargetExecutionFailed
	}
	resp := &Response{Code: code, Message: err.Error()}
	if reason := core.CodeOf(core.RevertReason(err)); reason != code {
		resp.Reason = reason
	}
	return resp
}

const (
	respReturn protowire.Number = iota + 1
	respContract
	respCode
	respMessage
	respEvent
	respReason
)

const (
	eventAddress protowire.Number = iota + 1
	eventName
	eventTopic
	eventData
)

// Marshal encodes the response.
func (r *Response) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, respReturn, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Return)
	b = protowire.AppendTag(b, respContract, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ContractAddress[:])
	if r.Code != "" {
		b = protowire.AppendTag(b, respCode, protowire.BytesType)
		b = protowire.AppendString(b, r.Code)
		b = protowire.AppendTag(b, respMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	if r.Reason != "" {
		b = protowire.AppendTag(b, respReason, protowire.BytesType)
		b = protowire.AppendString(b, r.Reason)
	}
	for _, ev := range r.Events {
		var e []byte
		e = protowire.AppendTag(e, eventAddress, protowire.BytesType)
		e = protowire.AppendBytes(e, ev.Address[:])
		e = protowire.AppendTag(e, eventName, protowire.BytesType)
		e = protowire.AppendString(e, ev.Name)
		for _, t := range ev.Topics {
			e = protowire.AppendTag(e, eventTopic, protowire.BytesType)
			e = protowire.AppendBytes(e, t[:])
		}
		e = protowire.AppendTag(e, eventData, protowire.BytesType)
		e = protowire.AppendBytes(e, ev.Data)

		b = protowire.AppendTag(b, respEvent, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

// UnmarshalResponse decodes a response.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walk(b, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case respReturn:
			if len(raw) > 0 {
				r.Return = append([]byte{}, raw...)
			}
		case respContract:
			r.ContractAddress = core.BytesToAddress(raw)
		case respCode:
			r.Code = string(raw)
		case respMessage:
			r.Message = string(raw)
		case respReason:
			r.Reason = string(raw)
		case respEvent:
			ev, err := unmarshalEvent(raw)
			if err != nil {
				return err
			}
			r.Events = append(r.Events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return r, nil
}

func unmarshalEvent(b []byte) (core.Event, error) {
	var ev core.Event
	err := walk(b, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case eventAddress:
			ev.Address = core.BytesToAddress(raw)
		case eventName:
			ev.Name = string(raw)
		case eventTopic:
			ev.Topics = append(ev.Topics, core.BytesToHash(raw))
		case eventData:
			if len(raw) > 0 {
				ev.Data = append([]byte{}, raw...)
			}
		}
		return nil
	})
	return ev, err
}

// walk visits every varint and bytes field of b.
func walk(b []byte, visit func(num protowire.Number, varint uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var (
			varint uint64
			raw    []byte
		)
		switch typ {
		case protowire.VarintType:
			varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := visit(num, varint, raw); err != nil {
			return err
		}
	}
	return nil
}
