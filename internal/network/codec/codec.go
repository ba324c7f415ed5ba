package codec

import (
	"fmt"
	"io"

	"github.com/blang/semver/v4"

	"github.com/lk2023060901/danmu-garden-serde/internal/network"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/serializer"
)

// Codec 抽象了“从业务对象到网络帧，以及从网络帧回到业务对象”的完整编解码流程。
//
// Pipeline（写出 Encode）：
//
//	msg --> serializer --> [compress?] --> Envelope{Header+Payload} --> framer.WriteFrame
//
// Pipeline（读入 Decode）：
//
//	framer.ReadFrame --> [version check] --> [decompress?] --> serializer --> msg
type Codec interface {
	// Encode 将业务对象编码并写入到底层流，header 不能为 nil。
	Encode(w io.Writer, header *message.MessageHeader, msg any) error

	// Decode 从底层流中读取一帧报文，并解码到 msg 中。msg 为 nil 时仅返回 Header。
	Decode(r io.Reader, msg any) (*message.MessageHeader, error)

	// DecodeRaw 从底层流中读取一帧报文，返回消息头和已解压的业务字节。
	DecodeRaw(r io.Reader) (*message.MessageHeader, []byte, error)

	// Unmarshal 将 DecodeRaw 得到的业务字节解码到 msg。
	Unmarshal(data []byte, msg any) error
}

// DefaultMinCompressSize 为默认的压缩阈值，小于该长度的载荷不压缩。
const DefaultMinCompressSize = 256

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Framer     framer.Framer
	Serializer serializer.Serializer
	Compressor compressor.Compressor // 允许为 nil（内部会用 NopCompressor）

	EnableCompression bool // 是否启用压缩（影响压缩行为与 Header.Flags）
	MinCompressSize   int  // <= 0 时使用 DefaultMinCompressSize

	// ProtocolVersion 为本端协议版本（semver），写入每个 Header；
	// 读入时要求对端主版本一致。为空表示不写入也不校验。
	ProtocolVersion string
}

type codec struct {
	framer     framer.Framer
	serializer serializer.Serializer
	compressor compressor.Compressor

	compress        bool
	minCompressSize int

	version    *semver.Version
	versionStr string
}

var _ Codec = (*codec)(nil)

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	if opts.Framer == nil {
		return nil, fmt.Errorf("codec: framer is nil")
	}
	if opts.Serializer == nil {
		return nil, fmt.Errorf("codec: serializer is nil")
	}

	c := &codec{
		framer:          opts.Framer,
		serializer:      opts.Serializer,
		compress:        opts.EnableCompression,
		minCompressSize: opts.MinCompressSize,
	}
	if c.minCompressSize <= 0 {
		c.minCompressSize = DefaultMinCompressSize
	}
	if opts.Compressor != nil {
		c.compressor = opts.Compressor
	} else {
		c.compressor = compressor.NopCompressor{}
	}
	if opts.ProtocolVersion != "" {
		v, err := semver.ParseTolerant(opts.ProtocolVersion)
		if err != nil {
			return nil, fmt.Errorf("codec: invalid protocol version %q: %w", opts.ProtocolVersion, err)
		}
		c.version = &v
		c.versionStr = v.String()
	}
	return c, nil
}

// Encode 实现 Codec.Encode。
func (c *codec) Encode(w io.Writer, header *message.MessageHeader, msg any) error {
	if w == nil {
		return fmt.Errorf("%w: writer is nil", network.ErrEncodeFailed)
	}
	if msg == nil {
		return fmt.Errorf("%w: msg is nil", network.ErrEncodeFailed)
	}
	if header == nil {
		return fmt.Errorf("%w: header is nil", network.ErrEncodeFailed)
	}

	// 第一步：业务对象序列化。
	body, err := c.serializer.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", network.ErrEncodeFailed, err)
	}

	// 复用 header 时清理旧的压缩标记。
	header.Flags &^= message.FlagCompressed

	// 第二步：可选压缩。
	if c.compress && len(body) >= c.minCompressSize {
		compressed, err := c.compressor.Compress(nil, body)
		if err != nil {
			return fmt.Errorf("%w: compress: %w", network.ErrEncodeFailed, err)
		}
		body = compressed
		header.Flags |= message.FlagCompressed
	}

	if fp, ok := c.serializer.(serializer.Fingerprinter); ok {
		header.Schema = fp.Fingerprint(msg)
	}
	header.Version = c.versionStr
	header.Size = uint32(len(body))

	env := &message.Envelope{
		Header:  header,
		Payload: body,
	}
	if err := c.framer.WriteFrame(w, env); err != nil {
		return fmt.Errorf("%w: %w", network.ErrEncodeFailed, err)
	}
	return nil
}

// checkVersion 要求对端主版本与本端一致。
func (c *codec) checkVersion(header *message.MessageHeader) error {
	if c.version == nil || header.Version == "" {
		return nil
	}
	peer, err := semver.ParseTolerant(header.Version)
	if err != nil {
		return fmt.Errorf("%w: invalid peer version %q: %w", network.ErrVersionMismatch, header.Version, err)
	}
	if peer.Major != c.version.Major {
		return fmt.Errorf("%w: peer %s, local %s", network.ErrVersionMismatch, peer, c.version)
	}
	return nil
}

func (c *codec) decodeFrame(r io.Reader) (*message.MessageHeader, []byte, error) {
	if r == nil {
		return nil, nil, fmt.Errorf("%w: reader is nil", network.ErrFrameFailed)
	}

	env, err := c.framer.ReadFrame(r)
	if err != nil {
		return nil, nil, err
	}

	header := env.Header
	if header == nil {
		header = &message.MessageHeader{}
	}
	if err := c.checkVersion(header); err != nil {
		return nil, nil, err
	}

	data := env.Payload
	if header.Flags&message.FlagCompressed != 0 {
		if !c.compress {
			return nil, nil, fmt.Errorf("%w: compressed payload but compression disabled", network.ErrDecodeFailed)
		}
		if len(data) == 0 {
			return nil, nil, fmt.Errorf("%w: compressed payload is empty", network.ErrDecodeFailed)
		}
		plain, err := c.compressor.Decompress(nil, data)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: decompress: %w", network.ErrDecodeFailed, err)
		}
		data = plain
	}
	return header, data, nil
}

// DecodeRaw 实现 Codec.DecodeRaw。
func (c *codec) DecodeRaw(r io.Reader) (*message.MessageHeader, []byte, error) {
	return c.decodeFrame(r)
}

// Unmarshal 实现 Codec.Unmarshal。
func (c *codec) Unmarshal(data []byte, msg any) error {
	if err := c.serializer.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("%w: unmarshal: %w", network.ErrDecodeFailed, err)
	}
	return nil
}

// Decode 实现 Codec.Decode。
func (c *codec) Decode(r io.Reader, msg any) (*message.MessageHeader, error) {
	header, data, err := c.decodeFrame(r)
	if err != nil {
		return nil, err
	}
	if msg != nil && len(data) > 0 {
		if err := c.Unmarshal(data, msg); err != nil {
			return nil, err
		}
	}
	return header, nil
}
