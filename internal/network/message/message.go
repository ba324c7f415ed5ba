package message

import (
	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
)

const (
	// FlagCompressed 表示 Payload 经过压缩。
	FlagCompressed uint64 = 1 << 0
)

// MessageHeader 为每一帧携带的报文头。
type MessageHeader struct {
	Op        uint32
	Seq       uint64
	Flags     uint64
	Timestamp int64
	// Size 为 Payload 的最终长度（压缩后）。
	Size uint32
	// Schema 为载荷类型映射的指纹，0 表示未知。
	Schema uint64
	// Version 为发送方的协议版本（semver），为空表示不校验。
	Version string
}

// Envelope 是帧的内容：报文头加上不透明的载荷字节。
type Envelope struct {
	Header  *MessageHeader
	Payload []byte
}

// Register 将报文类型注册到 reg。重复调用返回 DuplicateType 错误。
func Register(reg *serde.Registry) error {
	return reg.MapStructs(
		serde.FromType[Envelope]().Named("network.Envelope"),
		serde.FromType[MessageHeader]().Named("network.MessageHeader"),
	)
}
