package serde

import (
	"encoding/binary"
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// BitField 是基于字节切片的可增长位向量。
//
// 位的寻址方式为 MSB-first：第 i 位位于第 i/8 个字节，掩码为 0x80>>(i%8)。
// 容量总是 8 的整数倍。
type BitField struct {
	data []byte
}

// NewBitField 创建一个至少能容纳 bits 位的 BitField。
func NewBitField(bits int) BitField {
	if bits < 0 {
		bits = 0
	}
	return BitField{data: make([]byte, bitFieldBytes(bits))}
}

// BitFieldOver 在已有字节切片上创建 BitField，不复制数据。
func BitFieldOver(data []byte) BitField {
	return BitField{data: data}
}

func bitFieldBytes(bits int) int {
	return (bits + 7) / 8
}

// Len 返回位容量。
func (b BitField) Len() int {
	return len(b.data) * 8
}

// Bytes 返回底层字节切片。
func (b BitField) Bytes() []byte {
	return b.data
}

func (b BitField) check(i int) error {
	if i < 0 || i >= b.Len() {
		return merr.WrapErrSerdeOutOfRange(i, 1, b.Len(), "bit index out of range")
	}
	return nil
}

// Set 将第 i 位置 1。
func (b BitField) Set(i int) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.data[i/8] |= 0x80 >> (i % 8)
	return nil
}

// Clear 将第 i 位置 0。
func (b BitField) Clear(i int) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.data[i/8] &^= 0x80 >> (i % 8)
	return nil
}

// Get 返回第 i 位是否为 1。
func (b BitField) Get(i int) (bool, error) {
	if err := b.check(i); err != nil {
		return false, err
	}
	return b.data[i/8]&(0x80>>(i%8)) != 0, nil
}

// Grow 扩容至至少 bits 位，已有的位保持不变。
func (b *BitField) Grow(bits int) {
	n := bitFieldBytes(bits)
	if n <= len(b.data) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data)
	b.data = grown
}

// nullMaskSize 返回 n 个可空值对应的空值掩码在线上占用的字节数。
func nullMaskSize(n int) int {
	if n == 0 {
		return 0
	}
	return 4 + bitFieldBytes(n)
}

// writeNullMask 在 offset 处写入 [长度前缀][掩码字节]。
func writeNullMask(buf []byte, offset int, mask BitField) error {
	size := 4 + len(mask.data)
	if err := checkBounds(buf, offset, size); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(mask.data)))
	copy(buf[offset+4:], mask.data)
	return nil
}

// readNullMask 读取 offset 处的空值掩码，并校验其长度与 n 个可空值一致。
// 返回的 BitField 直接引用 buf。
func readNullMask(buf []byte, offset int, n int, typ reflect.Type) (BitField, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return BitField{}, err
	}
	length := int(binary.LittleEndian.Uint32(buf[offset:]))
	if length != bitFieldBytes(n) {
		return BitField{}, merr.WrapErrSerdeInvalidData(typ, "null mask length mismatch")
	}
	if err := checkBounds(buf, offset+4, length); err != nil {
		return BitField{}, err
	}
	return BitFieldOver(buf[offset+4 : offset+4+length]), nil
}

// bitFieldSerializer 编码为 [u32 字节长度][位数据]。
type bitFieldSerializer struct{}

var bitFieldType = reflect.TypeOf(BitField{})

func (bitFieldSerializer) Type() reflect.Type { return bitFieldType }

func (bitFieldSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	mask := v.Interface().(BitField)
	return writeNullMask(buf, offset, mask)
}

func (bitFieldSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	if err := checkBounds(buf, offset, 4); err != nil {
		return err
	}
	length := int(binary.LittleEndian.Uint32(buf[offset:]))
	if err := checkBounds(buf, offset+4, length); err != nil {
		return err
	}
	data := make([]byte, length)
	copy(data, buf[offset+4:])
	dst.Set(reflect.ValueOf(BitField{data: data}))
	return nil
}

func (bitFieldSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	return checkSize(bitFieldType, 4+len(v.Interface().(BitField).data))
}

func (bitFieldSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return 0, err
	}
	return checkSize(bitFieldType, 4+int(binary.LittleEndian.Uint32(buf[offset:])))
}
