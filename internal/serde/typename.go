package serde

import (
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// typeNameSerializer 以注册名编码 reflect.Type，解码时通过 Registry 反查类型。
//
// 只有已注册到 Registry 的结构体以及内置叶子类型拥有名字。
type typeNameSerializer struct {
	reg *Registry
}

func (s typeNameSerializer) Type() reflect.Type { return typeType }

func (s typeNameSerializer) name(v reflect.Value) (string, error) {
	if isNullValue(v) {
		return "", merr.WrapErrSerdeNilValue(typeType)
	}
	return s.reg.NameOf(v.Interface().(reflect.Type))
}

func (s typeNameSerializer) Serialize(v reflect.Value, buf []byte, offset int) error {
	name, err := s.name(v)
	if err != nil {
		return err
	}
	return encodeString(typeType, name, buf, offset)
}

func (s typeNameSerializer) Deserialize(buf []byte, offset int, dst reflect.Value) error {
	name, err := decodeString(typeType, buf, offset)
	if err != nil {
		return err
	}
	t, ok := s.reg.TypeByName(name)
	if !ok {
		return merr.WrapErrSerdeTypeNotRegistered(name, "unknown type name")
	}
	dst.Set(reflect.ValueOf(t))
	return nil
}

func (s typeNameSerializer) GetSizeFromValue(v reflect.Value) (uint16, error) {
	name, err := s.name(v)
	if err != nil {
		return 0, err
	}
	return checkSize(typeType, stringSize(name))
}

func (s typeNameSerializer) GetSizeFromBuffer(buf []byte, offset int) (uint16, error) {
	n, err := stringSizeFromBuffer(typeType, buf, offset)
	if err != nil {
		return 0, err
	}
	return checkSize(typeType, n)
}
