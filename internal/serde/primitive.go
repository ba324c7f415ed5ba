package serde

import (
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"golang.org/x/exp/constraints"
)

// kindSerializer 处理定长的布尔、整数与浮点类型，按小端序编码。
//
// 具名整数类型（枚举）同样由它处理，编码宽度取决于底层整数类型。
type kindSerializer struct {
	typ  reflect.Type
	size int
}

// 编译期断言：确保 kindSerializer 实现了 ConstantSizer 接口。
var _ ConstantSizer = (*kindSerializer)(nil)

func kindWidth(k reflect.Kind) int {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Float64:
		return 8
	default:
		return 0
	}
}

// newKindSerializer 按 Kind 为 t 创建叶子序列化器；不支持的 Kind 返回 false。
func newKindSerializer(t reflect.Type) (Serializer, bool) {
	if t.Kind() == reflect.String {
		return stringSerializer{typ: t}, true
	}
	size := kindWidth(t.Kind())
	if size == 0 {
		return nil, false
	}
	return &kindSerializer{typ: t, size: size}, true
}

func (s *kindSerializer) Type() reflect.Type { return s.typ }

func (s *kindSerializer) ConstantSize() (uint16, bool) { return uint16(s.size), true }

func (s *kindSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if err := checkBounds(buf, offset, s.size); err != nil {
		return err
	}
	b := buf[offset : offset+s.size]
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		writeInteger(b, s.size, v.Int())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		writeInteger(b, s.size, v.Uint())
	case reflect.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Float()))
	}
	return nil
}

func (s *kindSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	if err := checkBounds(buf, offset, s.size); err != nil {
		return err
	}
	b := buf[offset : offset+s.size]
	switch dst.Kind() {
	case reflect.Bool:
		dst.SetBool(b[0] != 0)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		dst.SetInt(readSigned(b, s.size))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		dst.SetUint(readUnsigned(b, s.size))
	case reflect.Float32:
		dst.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case reflect.Float64:
		dst.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return nil
}

func (s *kindSerializer) GetSizeFromValue(reflect.Value) (uint16, error) {
	return uint16(s.size), nil
}

func (s *kindSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	if err := checkBounds(buf, offset, s.size); err != nil {
		return 0, err
	}
	return uint16(s.size), nil
}

func writeInteger[T constraints.Integer](b []byte, size int, v T) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func readSigned(b []byte, size int) int64 {
	switch size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

func readUnsigned(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// zeroTimeNanos 标记 time.Time 零值，UnixNano 无法表示它。
const zeroTimeNanos = math.MinInt64

// timeSerializer 将 time.Time 编码为 8 字节 Unix 纳秒（UTC）。
type timeSerializer struct{}

func (timeSerializer) Type() reflect.Type { return timeType }

func (timeSerializer) ConstantSize() (uint16, bool) { return 8, true }

func (timeSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if err := checkBounds(buf, offset, 8); err != nil {
		return err
	}
	t := v.Interface().(time.Time)
	ns := int64(zeroTimeNanos)
	if !t.IsZero() {
		ns = t.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[offset:], uint64(ns))
	return nil
}

func (timeSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	if err := checkBounds(buf, offset, 8); err != nil {
		return err
	}
	ns := int64(binary.LittleEndian.Uint64(buf[offset:]))
	var t time.Time
	if ns != zeroTimeNanos {
		t = time.Unix(0, ns).UTC()
	}
	dst.Set(reflect.ValueOf(t))
	return nil
}

func (timeSerializer) GetSizeFromValue(reflect.Value) (uint16, error) { return 8, nil }

func (timeSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	if err := checkBounds(buf, offset, 8); err != nil {
		return 0, err
	}
	return 8, nil
}

// builtinLeaves 返回每个 Registry 自带的叶子序列化器。
func builtinLeaves() []Serializer {
	kinds := []reflect.Type{
		reflect.TypeOf(false),
		reflect.TypeOf(int8(0)),
		reflect.TypeOf(uint8(0)),
		reflect.TypeOf(int16(0)),
		reflect.TypeOf(uint16(0)),
		reflect.TypeOf(int32(0)),
		reflect.TypeOf(uint32(0)),
		reflect.TypeOf(int64(0)),
		reflect.TypeOf(uint64(0)),
		reflect.TypeOf(0),
		reflect.TypeOf(uint(0)),
		reflect.TypeOf(float32(0)),
		reflect.TypeOf(float64(0)),
		reflect.TypeOf(""),
		charType,
		durationType,
	}
	leaves := make([]Serializer, 0, len(kinds)+2)
	for _, t := range kinds {
		s, _ := newKindSerializer(t)
		leaves = append(leaves, s)
	}
	return append(leaves, timeSerializer{}, bitFieldSerializer{})
}
