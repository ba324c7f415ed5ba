package serde

import (
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// buildDeserialize 生成读取函数，返回类型为 T 的值。
//
// 没有构造函数时直接在新对象上逐个成员赋值。存在 ActivationOp 时，
// 在它之前读出的成员先暂存，调用构造函数后再把非构造参数的成员写回对象，
// 其后的成员直接写入构造出的对象。
func buildDeserialize(b *delegateBuilder) DeserializeFunc {
	return func(buf []byte, offset int) (out reflect.Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = reflect.Value{}, merr.WrapErrSerdeDeserialize(b.typ, offset, len(buf), panicToError(r))
			}
		}()
		out, err = b.deserialize(buf, offset)
		if err != nil {
			return reflect.Value{}, merr.WrapErrSerdeDeserialize(b.typ, offset, len(buf), err)
		}
		return out, nil
	}
}

func (b *delegateBuilder) deserialize(buf []byte, offset int) (reflect.Value, error) {
	pos := offset
	var mask BitField
	if b.ranges.HasNullable() {
		var err error
		if mask, err = readNullMask(buf, pos, b.ranges.NullableValues, b.typ); err != nil {
			return reflect.Value{}, err
		}
		pos += b.ranges.NullMaskSize()
	}

	var (
		obj     reflect.Value
		slots   []reflect.Value
		present []bool
	)
	if len(b.values) == len(b.ops) {
		obj = reflect.New(b.typ).Elem()
	} else {
		slots = make([]reflect.Value, len(b.values))
		present = make([]bool, len(b.values))
		for i, op := range b.values {
			slots[i] = reflect.New(op.Value.Type).Elem()
		}
	}

	read := 0
	for _, op := range b.ops {
		switch op := op.(type) {
		case *ActivationOp:
			args := make([]reflect.Value, len(op.Args))
			consumed := make([]bool, len(b.values))
			for p, idx := range op.Args {
				args[p] = slots[idx]
				consumed[idx] = true
			}
			var err error
			if obj, err = op.Activation.Invoke(b.typ, args); err != nil {
				return reflect.Value{}, err
			}
			for i := 0; i < read; i++ {
				if present[i] && !consumed[i] {
					b.values[i].Value.Set(obj, slots[i])
				}
			}

		case *SerializeValueOp:
			i := read
			read++
			if op.NullableIndex >= 0 {
				isAbsent, err := mask.Get(op.NullableIndex)
				if err != nil {
					return reflect.Value{}, err
				}
				if isAbsent {
					continue
				}
			}

			var dst reflect.Value
			switch {
			case !obj.IsValid():
				dst = slots[i]
				present[i] = true
			case op.Value.Kind == ValueKindField:
				dst = obj.FieldByIndex(op.Value.index)
			default:
				dst = reflect.New(op.Value.Type).Elem()
			}
			if err := op.Serializer.Deserialize(buf, pos, dst); err != nil {
				return reflect.Value{}, err
			}
			if obj.IsValid() && op.Value.Kind == ValueKindProperty {
				op.Value.Set(obj, dst)
			}

			if b.ranges.IsLast(i) {
				continue
			}
			size, err := op.Serializer.GetSizeFromBuffer(buf, pos)
			if err != nil {
				return reflect.Value{}, err
			}
			pos += int(size)
		}
	}
	return obj, nil
}
