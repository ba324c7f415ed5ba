package network

import "errors"

// Stage 表示消息收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageFrame    Stage = "frame"    // 字节流 <-> Envelope
	StageDecode   Stage = "decode"   // Envelope -> 业务对象
	StageDispatch Stage = "dispatch" // 业务对象 -> Handler
	StageEncode   Stage = "encode"   // 业务对象 -> Envelope
	StageSend     Stage = "send"     // Peer.Send
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串，真正的 error 对象在下面通过 errors.New 构造。
const (
	ErrCodeFrameFailed     = "network:frame_failed"
	ErrCodeFrameTooLarge   = "network:frame_too_large"
	ErrCodeDecodeFailed    = "network:decode_failed"
	ErrCodeDispatchFailed  = "network:dispatch_failed"
	ErrCodeEncodeFailed    = "network:encode_failed"
	ErrCodeSendFailed      = "network:send_failed"
	ErrCodeVersionMismatch = "network:version_mismatch"
)

var (
	// ErrFrameFailed 表示帧的读写或 Envelope 编解码失败。
	ErrFrameFailed = errors.New(ErrCodeFrameFailed)

	// ErrFrameTooLarge 表示帧长度超过上限。
	ErrFrameTooLarge = errors.New(ErrCodeFrameTooLarge)

	// ErrDecodeFailed 表示在将载荷解码为业务对象时发生错误。
	ErrDecodeFailed = errors.New(ErrCodeDecodeFailed)

	// ErrDispatchFailed 表示找不到 Handler 或 Handler 执行失败。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrEncodeFailed 表示在将业务对象编码为载荷时发生错误。
	ErrEncodeFailed = errors.New(ErrCodeEncodeFailed)

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)

	// ErrVersionMismatch 表示对端协议主版本与本端不一致。
	ErrVersionMismatch = errors.New(ErrCodeVersionMismatch)
)

// StageOf 返回错误所属的阶段，无法识别时返回空字符串。
func StageOf(err error) Stage {
	switch {
	case errors.Is(err, ErrFrameFailed), errors.Is(err, ErrFrameTooLarge):
		return StageFrame
	case errors.Is(err, ErrDecodeFailed), errors.Is(err, ErrVersionMismatch):
		return StageDecode
	case errors.Is(err, ErrDispatchFailed):
		return StageDispatch
	case errors.Is(err, ErrEncodeFailed):
		return StageEncode
	case errors.Is(err, ErrSendFailed):
		return StageSend
	default:
		return ""
	}
}
