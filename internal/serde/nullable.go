package serde

import (
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// pointerSerializer 编码 *T 指向的值。
//
// 指针本身的空/非空由所属容器（结构体、列表、键值对）的空值掩码记录，
// 这里只处理非空值；单独序列化 nil 指针返回 ErrSerdeNilValue。
type pointerSerializer struct {
	typ  reflect.Type
	elem Serializer
}

func newPointerSerializer(t reflect.Type, elem Serializer) *pointerSerializer {
	return &pointerSerializer{typ: t, elem: elem}
}

func (s *pointerSerializer) Type() reflect.Type { return s.typ }

func (s *pointerSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if v.IsNil() {
		return merr.WrapErrSerdeNilValue(s.typ)
	}
	return s.elem.Serialize(v.Elem(), buf, offset)
}

func (s *pointerSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	p := reflect.New(s.typ.Elem())
	if err := s.elem.Deserialize(buf, offset, p.Elem()); err != nil {
		return err
	}
	dst.Set(p)
	return nil
}

func (s *pointerSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	if v.IsNil() {
		return 0, merr.WrapErrSerdeNilValue(s.typ)
	}
	return s.elem.GetSizeFromValue(v.Elem())
}

func (s *pointerSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	return s.elem.GetSizeFromBuffer(buf, offset)
}

// nullableSerializer 编码 Nullable[T] 中的值，规则与 pointerSerializer 相同。
type nullableSerializer struct {
	typ  reflect.Type
	elem Serializer
}

func newNullableSerializer(t reflect.Type, elem Serializer) *nullableSerializer {
	return &nullableSerializer{typ: t, elem: elem}
}

func (s *nullableSerializer) Type() reflect.Type { return s.typ }

func (s *nullableSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	if !v.Field(nullableValidField).Bool() {
		return merr.WrapErrSerdeNilValue(s.typ)
	}
	return s.elem.Serialize(v.Field(nullableValueField), buf, offset)
}

func (s *nullableSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	out := reflect.New(s.typ).Elem()
	if err := s.elem.Deserialize(buf, offset, out.Field(nullableValueField)); err != nil {
		return err
	}
	out.Field(nullableValidField).SetBool(true)
	dst.Set(out)
	return nil
}

func (s *nullableSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	if !v.Field(nullableValidField).Bool() {
		return 0, merr.WrapErrSerdeNilValue(s.typ)
	}
	return s.elem.GetSizeFromValue(v.Field(nullableValueField))
}

func (s *nullableSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	return s.elem.GetSizeFromBuffer(buf, offset)
}
