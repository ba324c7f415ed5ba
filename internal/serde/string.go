package serde

import (
	"encoding/binary"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// stringSerializer 将字符串编码为 [u32 内容字节数][UTF-16LE 码元]。
type stringSerializer struct {
	typ reflect.Type
}

func (s stringSerializer) Type() reflect.Type { return s.typ }

func (s stringSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	return encodeString(s.typ, v.String(), buf, offset)
}

func (s stringSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	str, err := decodeString(s.typ, buf, offset)
	if err != nil {
		return err
	}
	dst.SetString(str)
	return nil
}

func (s stringSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	return checkSize(s.typ, stringSize(v.String()))
}

func (s stringSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	n, err := stringSizeFromBuffer(s.typ, buf, offset)
	if err != nil {
		return 0, err
	}
	return checkSize(s.typ, n)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func stringSize(s string) int {
	return 4 + 2*utf16Len(s)
}

func encodeString(typ reflect.Type, s string, buf []byte, offset int) error {
	units := utf16Len(s)
	size := 4 + 2*units
	if size > MaxSize {
		return merr.WrapErrSerdeSizeOverflow(typ, size)
	}
	if err := checkBounds(buf, offset, size); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(2*units))
	pos := offset + 4
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			r1, r2 := utf16.EncodeRune(r)
			binary.LittleEndian.PutUint16(buf[pos:], uint16(r1))
			binary.LittleEndian.PutUint16(buf[pos+2:], uint16(r2))
			pos += 4
			continue
		}
		if utf16.RuneLen(r) < 0 {
			r = unicode.ReplacementChar
		}
		binary.LittleEndian.PutUint16(buf[pos:], uint16(r))
		pos += 2
	}
	return nil
}

func decodeString(typ reflect.Type, buf []byte, offset int) (string, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return "", err
	}
	length := int(binary.LittleEndian.Uint32(buf[offset:]))
	if length > MaxSize-4 {
		return "", merr.WrapErrSerdeSizeOverflow(typ, length+4)
	}
	if length%2 != 0 {
		return "", merr.WrapErrSerdeInvalidData(typ, "odd UTF-16 byte length")
	}
	if err := checkBounds(buf, offset+4, length); err != nil {
		return "", err
	}
	data := buf[offset+4 : offset+4+length]
	units := length / 2

	var sb strings.Builder
	sb.Grow(units)
	for i := 0; i < units; i++ {
		u := rune(binary.LittleEndian.Uint16(data[2*i:]))
		if utf16.IsSurrogate(u) {
			if i+1 < units {
				if r := utf16.DecodeRune(u, rune(binary.LittleEndian.Uint16(data[2*i+2:]))); r != unicode.ReplacementChar {
					sb.WriteRune(r)
					i++
					continue
				}
			}
			u = unicode.ReplacementChar
		}
		sb.WriteRune(u)
	}
	return sb.String(), nil
}

func stringSizeFromBuffer(typ reflect.Type, buf []byte, offset int) (int, error) {
	if err := checkBounds(buf, offset, 4); err != nil {
		return 0, err
	}
	length := int(binary.LittleEndian.Uint32(buf[offset:]))
	if length > MaxSize-4 {
		return 0, merr.WrapErrSerdeSizeOverflow(typ, length+4)
	}
	return 4 + length, nil
}
