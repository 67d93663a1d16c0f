package account

import (
	"github.com/nmxmxh/upaccount/internal/abi"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/vm"
)

func (id *Identity) getData(ctx *vm.Context, v *abi.Values) ([]byte, error) {
	key, err := v.Hash(1)
	if err != nil {
		return nil, err
	}
	return abi.NewValues().Bytes(store(ctx).Get(key)).Encode(), nil
}

// setData inserts, overwrites or, for an empty value, deletes key.
func (id *Identity) setData(ctx *vm.Context, v *abi.Values) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	key, err := v.Hash(1)
	if err != nil {
		return err
	}
	value, err := v.Bytes(2)
	if err != nil {
		return err
	}
	if len(value) > id.maxValueSize() {
		return core.NewError(core.ErrCodeValueTooLarge, "data value exceeds size limit").
			WithContext("size", len(value)).
			WithContext("limit", id.maxValueSize())
	}
	if err := store(ctx).Set(key, value); err != nil {
		return err
	}
	return ctx.Emit(core.NewEvent(core.SigDataChanged, value, key))
}
