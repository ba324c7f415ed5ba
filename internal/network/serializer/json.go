package serializer

import (
	"github.com/bytedance/sonic"
)

// JSONSerializer 使用 bytedance/sonic 实现 JSON 编解码，主要用于调试与跨语言对端。
type JSONSerializer struct{}

// 编译期断言：确保 JSONSerializer 实现了 Serializer 接口。
var _ Serializer = (*JSONSerializer)(nil)

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
