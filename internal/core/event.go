package core

import "strings"

// Event is an observable log record emitted by a contract.
type Event struct {
	Address Address // emitter
	Name    string
	Topics  []Hash // Topics[0] is the keccak256 of the event signature
	Data    []byte
}

// Event signatures
const (
	SigContractCreated      = "ContractCreated(address)"
	SigExecuted             = "Executed(uint256,address,uint256)"
	SigDataChanged          = "DataChanged(bytes32,bytes)"
	SigOwnershipTransferred = "OwnershipTransferred(address,address)"
	SigUniversalReceiver    = "UniversalReceiver(address,bytes32,bytes,bytes)"
	SigPermissionsChanged   = "PermissionsChanged(address,uint256)"
)

// NewEvent builds an event whose first topic identifies the signature.
func NewEvent(signature string, data []byte, topics ...Hash) Event {
	name := signature
	if i := strings.IndexByte(signature, '('); i >= 0 {
		name = signature[:i]
	}
	all := make([]Hash, 0, len(topics)+1)
	all = append(all, HashString(signature))
	all = append(all, topics...)
	return Event{Name: name, Topics: all, Data: data}
}

// Uint64Hash encodes v as a big-endian 32-byte word.
func Uint64Hash(v uint64) Hash {
	var h Hash
	for i := 0; i < 8; i++ {
		h[HashLength-1-i] = byte(v >> (8 * i))
	}
	return h
}
