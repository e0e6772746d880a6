// 解析缓冲区：push parser 的追加/前端消费字节缓冲。
// 关键点：读游标 + 阈值压缩，消费只移动游标，行扫描与消费对缓冲区保持原子。
// 说明：解析器不做 I/O，不能用阻塞的 bufio.Reader；字节由外部追加进来。
package resp

import (
	"bytes"
)

// 前端已消费区超过该值且超过剩余数据量时，把剩余数据搬到头部复用底层数组。
const compactThreshold = 4096

// buffer 是一个只追加、从前端消费的字节缓冲。
// 已消费的字节不会被再次读到；所有读取方法只观察 [off, len) 区间。
type buffer struct {
	data []byte
	off  int
}

func (b *buffer) Append(p []byte) {
	b.compact()
	b.data = append(b.data, p...)
}

func (b *buffer) Len() int {
	return len(b.data) - b.off
}

// PeekByte 返回首字节但不消费；调用方保证缓冲非空。
func (b *buffer) PeekByte() byte {
	return b.data[b.off]
}

func (b *buffer) ConsumeFront(n int) {
	b.off += n
}

// FindCRLF 返回首个 \r\n 相对未消费区起点的下标，找不到返回 -1。
// bytes.Index 要求两个字节都在缓冲内，天然不会越过最后一个字节。
func (b *buffer) FindCRLF() int {
	return bytes.Index(b.data[b.off:], []byte(CRLF))
}

// TakeSlice 返回前 n 个字节的视图，不消费。
// 返回的切片在下一次 Append/ConsumeFront 后失效。
func (b *buffer) TakeSlice(n int) []byte {
	return b.data[b.off : b.off+n]
}

func (b *buffer) Reset() {
	b.data = nil
	b.off = 0
}

func (b *buffer) compact() {
	if b.off > compactThreshold && b.off > len(b.data)-b.off {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
	}
}

// ReadLine 读取一行：找到 CRLF 则返回行内容（不含终结符）并连同终结符一起
// 消费；否则什么都不消费，返回 ok=false 等待更多字节。
func (b *buffer) ReadLine() ([]byte, bool) {
	k := b.FindCRLF()
	if k < 0 {
		return nil, false
	}
	line := make([]byte, k)
	copy(line, b.TakeSlice(k))
	b.ConsumeFront(k + 2)
	return line, true
}

// ReadInt 按行读取一个十进制整数，框架与 ReadLine 相同。
// 数字解析沿用 atol 语义：接受前导符号，遇到非数字即停，空行得 0。
// RESP 保证来自规范服务端的数字总是良构的，这里不做严格校验。
func (b *buffer) ReadInt() (int64, bool) {
	line, ok := b.ReadLine()
	if !ok {
		return 0, false
	}
	return parseDecimal(line), true
}

func parseDecimal(line []byte) int64 {
	var n int64
	neg := false
	i := 0
	if i < len(line) && (line[i] == '-' || line[i] == '+') {
		neg = line[i] == '-'
		i++
	}
	for ; i < len(line); i++ {
		c := line[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		return -n
	}
	return n
}
