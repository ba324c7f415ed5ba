package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer 是池化的字节缓冲区。
type ByteBuffer = bytebufferpool.ByteBuffer

var pool bytebufferpool.Pool

// Get 从池中取出一个空缓冲区。
func Get() *ByteBuffer {
	return pool.Get()
}

// Put 归还缓冲区，归还后不得再使用。
func Put(b *ByteBuffer) {
	if b == nil {
		return
	}
	pool.Put(b)
}

// Grow 将 b 的长度调整为 n，容量不足时重新分配，内容不保留。
func Grow(b *ByteBuffer, n int) []byte {
	if cap(b.B) < n {
		b.B = make([]byte, n)
	} else {
		b.B = b.B[:n]
	}
	return b.B
}
