package account

import (
	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap"
)

// Authorizer decides whether a signature over hash speaks for an account.
type Authorizer interface {
	Authorize(ctx *vm.Context, hash core.Hash, sig []byte) bool
}

// KeyAuthorizer accepts signatures recovered to exactly one key's address.
type KeyAuthorizer core.Address

func (k KeyAuthorizer) Authorize(_ *vm.Context, hash core.Hash, sig []byte) bool {
	got, err := signer.Recover(hash, sig)
	return err == nil && got == core.Address(k)
}

// ContractAuthorizer asks a contract, such as a key manager, through a
// read-only isValidSignature call.
type ContractAuthorizer core.Address

func (c ContractAuthorizer) Authorize(ctx *vm.Context, hash core.Hash, sig []byte) bool {
	out, err := ctx.StaticCall(core.Address(c), ValidSignatureInput(hash, sig))
	if err != nil {
		ctx.Logger().Debug("signature check by contract failed", zap.Error(err))
		return false
	}
	return DecodeSignatureResult(out) == core.MagicValue
}

// ResolveAuthorizer picks how signatures for owner are checked: by key
// recovery when owner is a plain key, by delegation when it is a contract.
func ResolveAuthorizer(ctx *vm.Context, owner core.Address) Authorizer {
	if ctx.HasCode(owner) {
		return ContractAuthorizer(owner)
	}
	return KeyAuthorizer(owner)
}

// isValidSignature never fails: malformed input yields the fail code.
func (id *Identity) isValidSignature(ctx *vm.Context, v *abi.Values) []byte {
	result := core.FailValue
	hash, herr := v.Hash(1)
	sig, serr := v.Bytes(2)
	if herr == nil && serr == nil {
		if ResolveAuthorizer(ctx, ownerOf(ctx)).Authorize(ctx, hash, sig) {
			result = core.MagicValue
		}
	}
	return abi.NewValues().Bytes4(result).Encode()
}

// ValidSignatureInput encodes an isValidSignature call.
func ValidSignatureInput(hash core.Hash, sig []byte) []byte {
	return abi.NewCall(MethodIsValidSignature).Hash(hash).Bytes(sig).Encode()
}

// DecodeSignatureResult extracts the 4-byte verdict, returning the fail
// code for anything malformed.
func DecodeSignatureResult(out []byte) [4]byte {
	v, err := abi.Decode(out)
	if err != nil {
		return core.FailValue
	}
	res, err := v.Bytes4(1)
	if err != nil {
		return core.FailValue
	}
	return res
}
