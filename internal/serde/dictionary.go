package serde

import (
	"cmp"
	"encoding/binary"
	"reflect"
	"slices"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// keyValueCodec 编码一个键值对：[空值掩码（键或值可空时）][键?][值?]。
//
// 掩码按可空成员的顺序编号：键可空时占第 0 位，值可空时占下一位。
type keyValueCodec struct {
	typ           reflect.Type
	key           Serializer
	value         Serializer
	keyNullable   bool
	valueNullable bool
	nullables     int
}

func newKeyValueCodec(typ reflect.Type, key, value Serializer) keyValueCodec {
	c := keyValueCodec{
		typ:           typ,
		key:           key,
		value:         value,
		keyNullable:   IsNullableType(key.Type()),
		valueNullable: IsNullableType(value.Type()),
	}
	if c.keyNullable {
		c.nullables++
	}
	if c.valueNullable {
		c.nullables++
	}
	return c
}

func (c keyValueCodec) constantSize() (uint16, bool) {
	if c.nullables > 0 {
		return 0, false
	}
	ks, ok := constantSize(c.key)
	if !ok {
		return 0, false
	}
	vs, ok := constantSize(c.value)
	if !ok {
		return 0, false
	}
	return ks + vs, true
}

func (c keyValueCodec) write(k, v reflect.Value, buf []byte, offset int) (int, error) {
	pos := offset
	var mask BitField
	if c.nullables > 0 {
		mask = NewBitField(c.nullables)
		size := nullMaskSize(c.nullables)
		if err := checkBounds(buf, pos, size); err != nil {
			return 0, err
		}
		pos += size
	}

	bit := 0
	for _, part := range [2]struct {
		ser      Serializer
		val      reflect.Value
		nullable bool
	}{{c.key, k, c.keyNullable}, {c.value, v, c.valueNullable}} {
		if part.nullable {
			idx := bit
			bit++
			if isNullValue(part.val) {
				if err := mask.Set(idx); err != nil {
					return 0, err
				}
				continue
			}
		}
		if err := part.ser.Serialize(part.val, buf, pos); err != nil {
			return 0, err
		}
		size, err := part.ser.GetSizeFromValue(part.val)
		if err != nil {
			return 0, err
		}
		pos += int(size)
	}

	if c.nullables > 0 {
		if err := writeNullMask(buf, offset, mask); err != nil {
			return 0, err
		}
	}
	return pos - offset, nil
}

// read 将键值读入 k、v（二者须可设置），返回消耗的字节数。
func (c keyValueCodec) read(buf []byte, offset int, k, v reflect.Value) (int, error) {
	pos := offset
	var mask BitField
	if c.nullables > 0 {
		var err error
		if mask, err = readNullMask(buf, pos, c.nullables, c.typ); err != nil {
			return 0, err
		}
		pos += nullMaskSize(c.nullables)
	}

	bit := 0
	for _, part := range [2]struct {
		ser      Serializer
		dst      reflect.Value
		nullable bool
	}{{c.key, k, c.keyNullable}, {c.value, v, c.valueNullable}} {
		if part.nullable {
			absent, err := mask.Get(bit)
			if err != nil {
				return 0, err
			}
			bit++
			if absent {
				continue
			}
		}
		if err := part.ser.Deserialize(buf, pos, part.dst); err != nil {
			return 0, err
		}
		size, err := part.ser.GetSizeFromBuffer(buf, pos)
		if err != nil {
			return 0, err
		}
		pos += int(size)
	}
	return pos - offset, nil
}

func (c keyValueCodec) sizeOf(k, v reflect.Value) (int, error) {
	total := nullMaskSize(c.nullables)
	for _, part := range [2]struct {
		ser      Serializer
		val      reflect.Value
		nullable bool
	}{{c.key, k, c.keyNullable}, {c.value, v, c.valueNullable}} {
		if part.nullable && isNullValue(part.val) {
			continue
		}
		size, err := part.ser.GetSizeFromValue(part.val)
		if err != nil {
			return 0, err
		}
		total += int(size)
	}
	return total, nil
}

func (c keyValueCodec) sizeFromBuffer(buf []byte, offset int) (int, error) {
	pos := offset
	var mask BitField
	if c.nullables > 0 {
		var err error
		if mask, err = readNullMask(buf, pos, c.nullables, c.typ); err != nil {
			return 0, err
		}
		pos += nullMaskSize(c.nullables)
	}
	bit := 0
	for _, part := range [2]struct {
		ser      Serializer
		nullable bool
	}{{c.key, c.keyNullable}, {c.value, c.valueNullable}} {
		if part.nullable {
			absent, err := mask.Get(bit)
			if err != nil {
				return 0, err
			}
			bit++
			if absent {
				continue
			}
		}
		size, err := part.ser.GetSizeFromBuffer(buf, pos)
		if err != nil {
			return 0, err
		}
		pos += int(size)
	}
	return pos - offset, nil
}

// keyValuePairSerializer 处理独立使用的 KeyValuePair[K, V]。
type keyValuePairSerializer struct {
	codec keyValueCodec
}

func newKeyValuePairSerializer(t reflect.Type, key, value Serializer) *keyValuePairSerializer {
	return &keyValuePairSerializer{codec: newKeyValueCodec(t, key, value)}
}

func (s *keyValuePairSerializer) Type() reflect.Type { return s.codec.typ }

func (s *keyValuePairSerializer) ConstantSize() (uint16, bool) { return s.codec.constantSize() }

func (s *keyValuePairSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	_, err := s.codec.write(v.Field(0), v.Field(1), buf, offset)
	return err
}

func (s *keyValuePairSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	out := reflect.New(s.codec.typ).Elem()
	if _, err := s.codec.read(buf, offset, out.Field(0), out.Field(1)); err != nil {
		return err
	}
	dst.Set(out)
	return nil
}

func (s *keyValuePairSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	n, err := s.codec.sizeOf(v.Field(0), v.Field(1))
	if err != nil {
		return 0, err
	}
	return checkSize(s.codec.typ, n)
}

func (s *keyValuePairSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	n, err := s.codec.sizeFromBuffer(buf, offset)
	if err != nil {
		return 0, err
	}
	return checkSize(s.codec.typ, n)
}

// dictionarySerializer 处理 map[K]V：[u32 条目数][KeyValuePair...]。
//
// 键为有序类型（整数、浮点、字符串、布尔）时按键排序输出，保证编码确定。
type dictionarySerializer struct {
	typ   reflect.Type
	codec keyValueCodec
}

func newDictionarySerializer(t reflect.Type, key, value Serializer) *dictionarySerializer {
	return &dictionarySerializer{typ: t, codec: newKeyValueCodec(t, key, value)}
}

func (s *dictionarySerializer) Type() reflect.Type { return s.typ }

func (s *dictionarySerializer) sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	var compare func(a, b reflect.Value) int
	switch s.typ.Key().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Int(), b.Int()) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Uint(), b.Uint()) }
	case reflect.Float32, reflect.Float64:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Float(), b.Float()) }
	case reflect.String:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.String(), b.String()) }
	case reflect.Bool:
		compare = func(a, b reflect.Value) int {
			if a.Bool() == b.Bool() {
				return 0
			}
			if b.Bool() {
				return -1
			}
			return 1
		}
	default:
		return keys
	}
	slices.SortFunc(keys, compare)
	return keys
}

func (s *dictionarySerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(v.Len()))
	pos := offset + 4
	for _, k := range s.sortedKeys(v) {
		n, err := s.codec.write(k, v.MapIndex(k), buf, pos)
		if err != nil {
			return err
		}
		pos += n
		if pos-offset > MaxSize {
			return merr.WrapErrSerdeSizeOverflow(s.typ, pos-offset)
		}
	}
	return nil
}

func (s *dictionarySerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	count := int(binary.LittleEndian.Uint32(buf[offset:]))
	if count > MaxSize {
		return merr.WrapErrSerdeInvalidData(s.typ, "entry count exceeds limit")
	}
	pos := offset + 4
	out := reflect.MakeMapWithSize(s.typ, count)
	for i := 0; i < count; i++ {
		k := reflect.New(s.typ.Key()).Elem()
		v := reflect.New(s.typ.Elem()).Elem()
		n, err := s.codec.read(buf, pos, k, v)
		if err != nil {
			return err
		}
		out.SetMapIndex(k, v)
		pos += n
	}
	dst.Set(out)
	return nil
}

func (s *dictionarySerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	total := 4
	iter := v.MapRange()
	for iter.Next() {
		n, err := s.codec.sizeOf(iter.Key(), iter.Value())
		if err != nil {
			return 0, err
		}
		total += n
		if total > MaxSize {
			return 0, merr.WrapErrSerdeSizeOverflow(s.typ, total)
		}
	}
	return checkSize(s.typ, total)
}

func (s *dictionarySerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return 0, err
	}
	count := int(binary.LittleEndian.Uint32(buf[offset:]))
	if count > MaxSize {
		return 0, merr.WrapErrSerdeInvalidData(s.typ, "entry count exceeds limit")
	}
	pos := offset + 4
	for i := 0; i < count; i++ {
		n, err := s.codec.sizeFromBuffer(buf, pos)
		if err != nil {
			return 0, err
		}
		pos += n
		if pos-offset > MaxSize {
			return 0, merr.WrapErrSerdeSizeOverflow(s.typ, pos-offset)
		}
	}
	return checkSize(s.typ, pos-offset)
}
