package framer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lk2023060901/danmu-garden-serde/internal/network"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/internal/pool/bytebuffer"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde"
)

// Framer 抽象了基于 Envelope 的打包/解包能力。
//
// 约定：
//   - 一帧数据的格式为：4 字节大端无符号整型（后续 Envelope 编码后的长度）+ Envelope 二进制数据。
//   - Envelope 的编解码由 serde.Registry 负责。
type Framer interface {
	// WriteFrame 将 Envelope 打包为一帧并以一次 Write 写入 w。
	WriteFrame(w io.Writer, env *message.Envelope) error

	// ReadFrame 从 r 中读取一帧数据并解包为 Envelope。
	ReadFrame(r io.Reader) (*message.Envelope, error)
}

const (
	headerSize = 4

	// DefaultMaxFrameSize 为单个 Envelope 的编码上限。
	DefaultMaxFrameSize = uint32(serde.MaxSize)
)

// LengthPrefixedFramer 使用长度前缀（4 字节大端）作为帧边界。
// 适用于基于流的连接（如 TCP、WebSocket 原始流等）。
type LengthPrefixedFramer struct {
	reg *serde.Registry

	// MaxFrameSize 为允许的最大帧大小（Envelope 编码后长度），单位字节。
	MaxFrameSize uint32
}

// NewLengthPrefixedFramer 创建一个长度前缀帧编码器。
// reg 必须已注册 message 包中的类型；maxFrameSize 为 0 或超过 DefaultMaxFrameSize 时使用默认值。
func NewLengthPrefixedFramer(reg *serde.Registry, maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 || maxFrameSize > DefaultMaxFrameSize {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &LengthPrefixedFramer{
		reg:          reg,
		MaxFrameSize: maxFrameSize,
	}
}

// WriteFrame 将 Envelope 编码为长度前缀帧并写入。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, env *message.Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: envelope is nil", network.ErrFrameFailed)
	}

	// 自动修正 size 字段，保证与 payload 长度一致。
	if env.Header != nil {
		env.Header.Size = uint32(len(env.Payload))
	}

	size, err := serde.GetSizeFromValue(f.reg, *env)
	if err != nil {
		return fmt.Errorf("%w: size envelope: %w", network.ErrFrameFailed, err)
	}
	if uint32(size) > f.MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds max %d", network.ErrFrameTooLarge, size, f.MaxFrameSize)
	}

	buf := bytebuffer.Get()
	defer bytebuffer.Put(buf)

	frame := bytebuffer.Grow(buf, headerSize+int(size))
	binary.BigEndian.PutUint32(frame, uint32(size))
	if err := serde.Serialize(f.reg, *env, frame, headerSize); err != nil {
		return fmt.Errorf("%w: serialize envelope: %w", network.ErrFrameFailed, err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("%w: write frame: %w", network.ErrFrameFailed, err)
	}
	return nil
}

// ReadFrame 从流中读取一帧数据并解码为 Envelope。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader) (*message.Envelope, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", network.ErrFrameFailed, err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > f.MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds max %d", network.ErrFrameTooLarge, length, f.MaxFrameSize)
	}

	buf := bytebuffer.Get()
	defer bytebuffer.Put(buf)

	body := bytebuffer.Grow(buf, int(length))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read body: %w", network.ErrFrameFailed, err)
	}

	// Payload 在反序列化时已复制，body 可以安全归还。
	env, err := serde.Deserialize[message.Envelope](f.reg, body, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: deserialize envelope: %w", network.ErrFrameFailed, err)
	}
	consumed, err := serde.GetSizeFromBuffer[message.Envelope](f.reg, body, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: size envelope: %w", network.ErrFrameFailed, err)
	}
	if uint32(consumed) != length {
		return nil, fmt.Errorf("%w: %d trailing bytes after envelope", network.ErrFrameFailed, length-uint32(consumed))
	}
	return &env, nil
}
