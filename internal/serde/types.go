package serde

import (
	"reflect"
	"time"
)

// Char 是一个 UTF-16 码元，按 2 字节小端编码。
type Char uint16

// Nullable 为值类型提供显式的“无值”状态。
//
// Valid 为 false 时视为空，序列化时只在所属容器的空值掩码中占 1 位。
type Nullable[T any] struct {
	Value T
	Valid bool
}

// Some 返回一个有值的 Nullable。
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true}
}

// Null 返回一个空的 Nullable。
func Null[T any]() Nullable[T] {
	return Nullable[T]{}
}

// Get 返回值以及是否有值。
func (n Nullable[T]) Get() (T, bool) {
	return n.Value, n.Valid
}

// IsNull 判断是否为空。
func (n Nullable[T]) IsNull() bool {
	return !n.Valid
}

func (Nullable[T]) nullableWrapper() {}

// KeyValuePair 是字典条目的线上表示，也可以作为独立类型使用。
type KeyValuePair[K any, V any] struct {
	Key   K
	Value V
}

// Pair 构造一个 KeyValuePair。
func Pair[K any, V any](k K, v V) KeyValuePair[K, V] {
	return KeyValuePair[K, V]{Key: k, Value: v}
}

func (KeyValuePair[K, V]) keyValuePair() {}

type nullableMarker interface{ nullableWrapper() }

type keyValueMarker interface{ keyValuePair() }

const (
	nullableValueField = 0
	nullableValidField = 1
)

var (
	nullableMarkerType = reflect.TypeOf((*nullableMarker)(nil)).Elem()
	keyValueMarkerType = reflect.TypeOf((*keyValueMarker)(nil)).Elem()

	typeType     = reflect.TypeOf((*reflect.Type)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	charType     = reflect.TypeOf(Char(0))
)

// isNullableWrapper 只识别 Nullable[T] 本身，不包括内嵌了 Nullable[T] 的结构体。
func isNullableWrapper(t reflect.Type) bool {
	return t.Kind() == reflect.Struct &&
		t.NumField() == 2 &&
		!t.Field(nullableValueField).Anonymous &&
		t.Field(nullableValueField).Name == "Value" &&
		t.Field(nullableValidField).Name == "Valid" &&
		t.Implements(nullableMarkerType)
}

func isKeyValuePair(t reflect.Type) bool {
	return t.Kind() == reflect.Struct &&
		t.NumField() == 2 &&
		!t.Field(0).Anonymous &&
		t.Field(0).Name == "Key" &&
		t.Field(1).Name == "Value" &&
		t.Implements(keyValueMarkerType)
}
