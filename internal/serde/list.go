package serde

import (
	"encoding/binary"
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// sequenceSerializer 处理切片 []E 与数组 [N]E。
//
// 线上格式：
//
//	[u32 元素个数][若 E 可空：u32 掩码字节数 + 掩码][非空元素...]
//
// 掩码第 i 位为 1 表示第 i 个元素为空，不占用任何字节。
type sequenceSerializer struct {
	typ      reflect.Type
	elem     Serializer
	nullable bool
	// fixedLen 为数组长度，切片为 -1。
	fixedLen int
	// bytes 表示元素为非空字节，可整段拷贝。
	bytes bool

	elemSize     uint16
	elemConstant bool
}

var byteType = reflect.TypeOf(byte(0))

func newSequenceSerializer(t reflect.Type, elem Serializer) *sequenceSerializer {
	s := &sequenceSerializer{
		typ:      t,
		elem:     elem,
		nullable: IsNullableType(t.Elem()),
		fixedLen: -1,
		bytes:    t.Elem() == byteType,
	}
	if t.Kind() == reflect.Array {
		s.fixedLen = t.Len()
	}
	s.elemSize, s.elemConstant = constantSize(elem)
	return s
}

func (s *sequenceSerializer) Type() reflect.Type { return s.typ }

// ConstantSize 仅对元素定长且不可空的数组成立。
func (s *sequenceSerializer) ConstantSize() (uint16, bool) {
	if s.fixedLen < 0 || s.nullable || !s.elemConstant {
		return 0, false
	}
	size := 4 + s.fixedLen*int(s.elemSize)
	if size > MaxSize {
		return 0, false
	}
	return uint16(size), true
}

func listMaskSize(n int) int {
	return 4 + bitFieldBytes(n)
}

func (s *sequenceSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	n := v.Len()
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(n))
	pos := offset + 4

	if s.bytes {
		if err := checkBounds(buf, pos, n); err != nil {
			return err
		}
		if s.fixedLen < 0 {
			copy(buf[pos:], v.Bytes())
		} else {
			reflect.Copy(reflect.ValueOf(buf[pos:pos+n]), v)
		}
		pos += n
		_, err := checkSize(s.typ, pos-offset)
		return err
	}

	var mask BitField
	maskOffset := pos
	if s.nullable {
		mask = NewBitField(n)
		size := listMaskSize(n)
		if err := checkBounds(buf, pos, size); err != nil {
			return err
		}
		pos += size
	}

	for i := 0; i < n; i++ {
		e := v.Index(i)
		if s.nullable && isNullValue(e) {
			if err := mask.Set(i); err != nil {
				return err
			}
			continue
		}
		if err := s.elem.Serialize(e, buf, pos); err != nil {
			return err
		}
		size, err := s.elemSizeOf(e)
		if err != nil {
			return err
		}
		pos += int(size)
		if pos-offset > MaxSize {
			return merr.WrapErrSerdeSizeOverflow(s.typ, pos-offset)
		}
	}

	if s.nullable {
		return writeNullMask(buf, maskOffset, mask)
	}
	return nil
}

func (s *sequenceSerializer) elemSizeOf(e reflect.Value) (uint16, error) {
	if s.elemConstant {
		return s.elemSize, nil
	}
	return s.elem.GetSizeFromValue(e)
}

func (s *sequenceSerializer) readCount(buf []byte, offset int) (int, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return 0, err
	}
	n := int(binary.LittleEndian.Uint32(buf[offset:]))
	if n > MaxSize {
		return 0, merr.WrapErrSerdeInvalidData(s.typ, "element count exceeds limit")
	}
	if s.fixedLen >= 0 && n != s.fixedLen {
		return 0, merr.WrapErrSerdeInvalidData(s.typ, "array length mismatch")
	}
	return n, nil
}

func (s *sequenceSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	n, err := s.readCount(buf, offset)
	if err != nil {
		return err
	}
	pos := offset + 4

	var out reflect.Value
	if s.fixedLen < 0 {
		out = reflect.MakeSlice(s.typ, n, n)
	} else {
		out = reflect.New(s.typ).Elem()
	}

	if s.bytes {
		if err := checkBounds(buf, pos, n); err != nil {
			return err
		}
		reflect.Copy(out, reflect.ValueOf(buf[pos:pos+n]))
		dst.Set(out)
		return nil
	}

	var mask BitField
	if s.nullable {
		mask, err = readNullMask(buf, pos, n, s.typ)
		if err != nil {
			return err
		}
		pos += listMaskSize(n)
	}

	for i := 0; i < n; i++ {
		if s.nullable {
			absent, err := mask.Get(i)
			if err != nil {
				return err
			}
			if absent {
				continue
			}
		}
		if err := s.elem.Deserialize(buf, pos, out.Index(i)); err != nil {
			return err
		}
		size, err := s.elemSizeFromBuffer(buf, pos)
		if err != nil {
			return err
		}
		pos += int(size)
	}
	dst.Set(out)
	return nil
}

func (s *sequenceSerializer) elemSizeFromBuffer(buf []byte, pos int) (uint16, error) {
	if s.elemConstant {
		return s.elemSize, nil
	}
	return s.elem.GetSizeFromBuffer(buf, pos)
}

func (s *sequenceSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	n := v.Len()
	total := 4
	if s.bytes {
		return checkSize(s.typ, total+n)
	}
	if s.nullable {
		total += listMaskSize(n)
	}
	var err error
	for i := 0; i < n; i++ {
		e := v.Index(i)
		if s.nullable && isNullValue(e) {
			continue
		}
		size, serr := s.elemSizeOf(e)
		if serr != nil {
			return 0, serr
		}
		if total, err = addSize(s.typ, total, size); err != nil {
			return 0, err
		}
	}
	return checkSize(s.typ, total)
}

func (s *sequenceSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	n, err := s.readCount(buf, offset)
	if err != nil {
		return 0, err
	}
	if s.bytes {
		return checkSize(s.typ, 4+n)
	}
	pos := offset + 4
	var mask BitField
	if s.nullable {
		mask, err = readNullMask(buf, pos, n, s.typ)
		if err != nil {
			return 0, err
		}
		pos += listMaskSize(n)
	}
	for i := 0; i < n; i++ {
		if s.nullable {
			absent, err := mask.Get(i)
			if err != nil {
				return 0, err
			}
			if absent {
				continue
			}
		}
		size, err := s.elemSizeFromBuffer(buf, pos)
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
