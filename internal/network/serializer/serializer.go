package serializer

import (
	"errors"
	"fmt"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
)

// Serializer 抽象了网络层“对象 <-> 字节流”的序列化能力。
//
// 调用方通过接口注入具体实现：serde 二进制格式、JSON 或 Protobuf。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象。
	//
	// v 通常为指针类型，用于接收解码结果。
	Unmarshal(data []byte, v any) error
}

// Fingerprinter 由能够给出载荷类型指纹的 Serializer 实现。
type Fingerprinter interface {
	Fingerprint(v any) uint64
}

const (
	NameBinary = "binary"
	NameProto  = "proto"
	NameJSON   = "json"
)

// ErrUnknownSerializer 表示 New 收到了未知的序列化器名字。
var ErrUnknownSerializer = errors.New("serializer: unknown serializer")

// New 按名字创建序列化器，空名字等同于 NameBinary。binary 需要 reg。
func New(name string, reg *serde.Registry) (Serializer, error) {
	switch name {
	case "", NameBinary:
		if reg == nil {
			return nil, fmt.Errorf("serializer: %s requires a registry", NameBinary)
		}
		return NewBinarySerializer(reg), nil
	case NameProto:
		return ProtoSerializer{}, nil
	case NameJSON:
		return JSONSerializer{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
}
