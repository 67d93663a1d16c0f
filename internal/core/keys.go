package core

// Well-known data keys. Each is the keccak256 of its name; the values are
// computed once at start-up and never mutated.
var (
	// KeyERC725Type holds the type tag of the contract owning the store.
	KeyERC725Type = HashString("ERC725Type")
	// ValueERC725Account is the type tag stored by identities.
	ValueERC725Account = HashString("ERC725Account")
	// KeyUniversalReceiver holds the address of the receiver delegate.
	KeyUniversalReceiver = HashString("LSP1UniversalReceiverAddress")
)

// InterfaceID is an ERC165 interface identifier: the XOR of the selectors
// of the interface's functions.
type InterfaceID [4]byte

func (id InterfaceID) String() string { return ToHex(id[:]) }

// Interface identifiers answered by supportsInterface.
var (
	InterfaceERC165  = InterfaceID{0x01, 0xff, 0xc9, 0xa7}
	InterfaceERC725X = InterfaceID{0x44, 0xc0, 0x28, 0xfe}
	InterfaceERC725Y = InterfaceID{0x2b, 0xd5, 0x7b, 0x73}
	InterfaceERC1271 = InterfaceID{0x16, 0x26, 0xba, 0x7e}
	InterfaceLSP1    = InterfaceID{0x6b, 0xb5, 0x6a, 0x14}
)

// Signature verification results.
var (
	MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
	FailValue  = [4]byte{0xff, 0xff, 0xff, 0xff}
)
