package serializer

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrNotProtoMessage 表示传给 ProtoSerializer 的对象没有实现 proto.Message。
var ErrNotProtoMessage = errors.New("serializer: value is not a proto.Message")

// ProtoSerializer 使用 Protobuf 编解码，编码输出是确定性的。
type ProtoSerializer struct {
	// DiscardUnknown 为 true 时解码忽略未知字段。
	DiscardUnknown bool
}

var _ Serializer = ProtoSerializer{}

func (ProtoSerializer) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotProtoMessage, v)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func (p ProtoSerializer) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrNotProtoMessage, v)
	}
	return proto.UnmarshalOptions{DiscardUnknown: p.DiscardUnknown}.Unmarshal(data, msg)
}
