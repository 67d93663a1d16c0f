package core

import "fmt"

// OperationKind selects what execute does with its target and payload.
type OperationKind uint64

const (
	OperationCall         OperationKind = 0
	OperationCreate       OperationKind = 1
	OperationCreate2      OperationKind = 2
	OperationDelegateCall OperationKind = 3
)

// SaltLength is the size of the Create2 salt appended to the init code.
const SaltLength = HashLength

func (k OperationKind) String() string {
	switch k {
	case OperationCall:
		return "call"
	case OperationCreate:
		return "create"
	case OperationCreate2:
		return "create2"
	case OperationDelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(k))
	}
}

// Valid reports whether k is one of the four dispatchable kinds.
func (k OperationKind) Valid() bool {
	return k <= OperationDelegateCall
}

// SplitSalt separates a Create2 payload into its init code and the 32-byte
// salt suffix.
func SplitSalt(payload []byte) (initCode []byte, salt Hash, err error) {
	if len(payload) < SaltLength {
		return nil, Hash{}, ErrArgument("create2 payload shorter than salt").
			WithContext("length", len(payload))
	}
	cut := len(payload) - SaltLength
	return payload[:cut], BytesToHash(payload[cut:]), nil
}
