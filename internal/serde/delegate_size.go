package serde

import (
	"reflect"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// sizeBuilder 生成长度计算函数。
//
// 所有成员都是定长且不可空时，类型长度与值无关：首次计算后缓存结果，之后直接返回。
// 缓存以 computed 标记是否已计算，长度为 0 的类型同样只计算一次。
type sizeBuilder struct {
	*delegateBuilder

	constSize uint16
	isConst   bool

	computed atomic.Bool
	cached   atomic.Uint32
}

func newSizeBuilder(b *delegateBuilder) *sizeBuilder {
	s := &sizeBuilder{delegateBuilder: b}
	s.constSize, s.isConst = b.constantSize()
	return s
}

func (s *sizeBuilder) constant() (uint16, bool) {
	return s.constSize, s.isConst
}

func (s *sizeBuilder) buildFromValue() GetSizeFunc {
	return func(value reflect.Value) (size uint16, err error) {
		if s.isConst && s.computed.Load() {
			return uint16(s.cached.Load()), nil
		}
		defer func() {
			if r := recover(); r != nil {
				size, err = 0, merr.WrapErrSerdeSize(s.typ, panicToError(r))
			}
		}()
		size, err = s.sizeFromValue(value)
		if err != nil {
			return 0, merr.WrapErrSerdeSize(s.typ, err)
		}
		if s.isConst {
			s.cached.Store(uint32(size))
			s.computed.Store(true)
		}
		return size, nil
	}
}

func (s *sizeBuilder) sizeFromValue(value reflect.Value) (uint16, error) {
	obj, err := s.load(value)
	if err != nil {
		return 0, err
	}
	total := s.ranges.NullMaskSize()
	for _, op := range s.values {
		member := op.Value.Get(obj)
		if absent(op, member) {
			continue
		}
		size, err := op.Serializer.GetSizeFromValue(member)
		if err != nil {
			return 0, err
		}
		if total, err = addSize(s.typ, total, size); err != nil {
			return 0, err
		}
	}
	return checkSize(s.typ, total)
}

func (s *sizeBuilder) buildFromBuffer() BufferSizeFunc {
	return func(buf []byte, offset int) (size uint16, err error) {
		if s.isConst {
			if err := checkBounds(buf, offset, int(s.constSize)); err != nil {
				return 0, merr.WrapErrSerdeSize(s.typ, err)
			}
			return s.constSize, nil
		}
		defer func() {
			if r := recover(); r != nil {
				size, err = 0, merr.WrapErrSerdeSize(s.typ, panicToError(r))
			}
		}()
		size, err = s.sizeFromBuffer(buf, offset)
		if err != nil {
			return 0, merr.WrapErrSerdeSize(s.typ, err)
		}
		return size, nil
	}
}

// sizeFromBuffer 依次跳过掩码与各成员，得到已编码对象的长度。
func (s *sizeBuilder) sizeFromBuffer(buf []byte, offset int) (uint16, error) {
	pos := offset
	var mask BitField
	if s.ranges.HasNullable() {
		var err error
		if mask, err = readNullMask(buf, pos, s.ranges.NullableValues, s.typ); err != nil {
			return 0, err
		}
		pos += s.ranges.NullMaskSize()
	}
	for _, op := range s.values {
		if op.NullableIndex >= 0 {
			isAbsent, err := mask.Get(op.NullableIndex)
			if err != nil {
				return 0, err
			}
			if isAbsent {
				continue
			}
		}
		size, err := op.Serializer.GetSizeFromBuffer(buf, pos)
		if err != nil {
			return 0, err
		}
		pos += int(size)
		if pos-offset > MaxSize {
			return 0, merr.WrapErrSerdeSizeOverflow(s.typ, pos-offset)
		}
	}
	return checkSize(s.typ, pos-offset)
}
