package serializer

import (
	"fmt"
	"reflect"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
)

// BinarySerializer 使用 serde.Registry 的二进制格式编解码。
//
// 对象的类型必须已在 Registry 中注册（或可由已注册类型组合得到）。
type BinarySerializer struct {
	Registry *serde.Registry
}

// 编译期断言：确保 BinarySerializer 实现了 Serializer 接口。
var _ Serializer = (*BinarySerializer)(nil)

// NewBinarySerializer 创建基于 reg 的 BinarySerializer。
func NewBinarySerializer(reg *serde.Registry) *BinarySerializer {
	return &BinarySerializer{Registry: reg}
}

// Marshal 先计算长度，再写入恰好大小的缓冲区。v 可以是值或指向值的指针。
func (s *BinarySerializer) Marshal(v any) ([]byte, error) {
	size, err := s.Registry.GetSizeFromValue(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if err := s.Registry.Serialize(v, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal 按 v 指向的类型读取 data 并写入 *v。
func (s *BinarySerializer) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("serializer: BinarySerializer requires a non-nil pointer, got %T", v)
	}
	out, err := s.Registry.Deserialize(rv.Type().Elem(), data, 0)
	if err != nil {
		return err
	}
	rv.Elem().Set(reflect.ValueOf(out))
	return nil
}

// Fingerprint 返回 v 的类型映射指纹，未通过 MapStruct 注册时返回 0。
func (s *BinarySerializer) Fingerprint(v any) uint64 {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return 0
	}
	fp, _ := s.Registry.Fingerprint(t)
	return fp
}
