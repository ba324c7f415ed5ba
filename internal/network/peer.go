package network

import (
	"fmt"
	"io"
)

// Peer 是传输层对端的抽象，只负责把已编码的字节发出去。
//
// 连接管理、重连等不属于这里；buf 由调用方持有，Send 返回后不得再引用。
type Peer interface {
	Send(buf []byte, offset, length int) error
}

// WriterPeer 将 io.Writer 适配为 Peer。
type WriterPeer struct {
	W io.Writer
}

// 编译期断言：确保 WriterPeer 实现了 Peer 接口。
var _ Peer = (*WriterPeer)(nil)

func (p *WriterPeer) Send(buf []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return fmt.Errorf("%w: range [%d, %d) out of buffer length %d", ErrSendFailed, offset, offset+length, len(buf))
	}
	if _, err := p.W.Write(buf[offset : offset+length]); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// PeerWriter 将 Peer 适配为 io.Writer，每次 Write 对应一次 Send。
type PeerWriter struct {
	Peer Peer
}

func (w PeerWriter) Write(p []byte) (int, error) {
	if err := w.Peer.Send(p, 0, len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
