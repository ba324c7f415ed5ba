package serde

import (
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// buildSerialize 生成写入函数。
//
// 布局为 [空值掩码][成员...]：先在 offset 处预留掩码区域并越过它写入成员，
// 空成员只置位不写字节，全部成员写完后再把掩码回填到预留区域。
// 每个成员写入前先取长度，记录总长超过 MaxSize 时不写入并返回溢出错误。
func buildSerialize(b *delegateBuilder) SerializeFunc {
	return func(value reflect.Value, buf []byte, offset int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = merr.WrapErrSerdeSerialize(b.typ, offset, len(buf), panicToError(r))
			}
		}()
		if err := b.serialize(value, buf, offset); err != nil {
			return merr.WrapErrSerdeSerialize(b.typ, offset, len(buf), err)
		}
		return nil
	}
}

func (b *delegateBuilder) serialize(value reflect.Value, buf []byte, offset int) error {
	obj, err := b.load(value)
	if err != nil {
		return err
	}

	pos := offset
	var mask BitField
	if b.ranges.HasNullable() {
		mask = NewBitField(b.ranges.NullableValues)
		size := b.ranges.NullMaskSize()
		if err := checkBounds(buf, pos, size); err != nil {
			return err
		}
		pos += size
	}

	for i, op := range b.values {
		member := op.Value.Get(obj)
		if absent(op, member) {
			if err := mask.Set(op.NullableIndex); err != nil {
				return err
			}
			continue
		}
		size, err := op.Serializer.GetSizeFromValue(member)
		if err != nil {
			return err
		}
		if end := pos + int(size) - offset; end > MaxSize {
			return merr.WrapErrSerdeSizeOverflow(b.typ, end)
		}
		if err := op.Serializer.Serialize(member, buf, pos); err != nil {
			return err
		}
		if !b.ranges.IsLast(i) {
			pos += int(size)
		}
	}

	if b.ranges.HasNullable() {
		return writeNullMask(buf, offset, mask)
	}
	return nil
}
