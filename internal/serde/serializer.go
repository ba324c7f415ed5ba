package serde

import (
	"math"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// MaxSize 为单个序列化对象（含集合、字符串）允许的最大字节数。
const MaxSize = math.MaxUint16

// Serializer 是按 reflect.Type 擦除后的序列化器。
//
// 约定：
//   - Serialize 在 buf[offset:] 处写入 v，写入字节数等于 GetSizeFromValue(v)；
//   - Deserialize 从 buf[offset:] 读取一个值并写入 dst（dst 必须可设置）；
//   - GetSizeFromBuffer 返回 buf[offset:] 处已编码值占用的字节数；
//   - 缓冲区由调用方持有，实现不得在调用结束后保留引用。
type Serializer interface {
	Type() reflect.Type
	Serialize(v reflect.Value, buf []byte, offset int) error
	Deserialize(buf []byte, offset int, dst reflect.Value) error
	GetSizeFromValue(v reflect.Value) (uint16, error)
	GetSizeFromBuffer(buf []byte, offset int) (uint16, error)
}

// ConstantSizer 由编码长度与值无关的序列化器实现。
type ConstantSizer interface {
	ConstantSize() (uint16, bool)
}

func constantSize(s Serializer) (uint16, bool) {
	if cs, ok := s.(ConstantSizer); ok {
		return cs.ConstantSize()
	}
	return 0, false
}

// SerializeFunc 将 value 写入 buf 的 offset 处。
type SerializeFunc func(value reflect.Value, buf []byte, offset int) error

// DeserializeFunc 从 buf 的 offset 处读取一个值。
type DeserializeFunc func(buf []byte, offset int) (reflect.Value, error)

// GetSizeFunc 返回 value 序列化后的字节数。
type GetSizeFunc func(value reflect.Value) (uint16, error)

// BufferSizeFunc 返回 buf 的 offset 处已编码值的字节数。
type BufferSizeFunc func(buf []byte, offset int) (uint16, error)

func checkBounds(buf []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset > len(buf)-size {
		return merr.WrapErrSerdeOutOfRange(offset, size, len(buf))
	}
	return nil
}

func checkSize(typ reflect.Type, size int) (uint16, error) {
	if size < 0 || size > MaxSize {
		return 0, merr.WrapErrSerdeSizeOverflow(typ, size)
	}
	return uint16(size), nil
}

// addSize 累加并检查溢出。
func addSize(typ reflect.Type, total int, n uint16) (int, error) {
	total += int(n)
	if total > MaxSize {
		return total, merr.WrapErrSerdeSizeOverflow(typ, total)
	}
	return total, nil
}

// IsNullableType 判断类型是否可为空：指针、切片、映射、接口以及 Nullable[T]。
func IsNullableType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	default:
		return isNullableWrapper(t)
	}
}

// IsValueType 判断类型是否为值类型（非引用语义）。
func IsValueType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	default:
		return true
	}
}

func isNullValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	if isNullableWrapper(v.Type()) {
		return !v.Field(nullableValidField).Bool()
	}
	return false
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Newf("%v", r)
}
