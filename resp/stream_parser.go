// StreamParser：同步读取单个 RESP reply 的解析器。
// 用途：在同一条流上以“一问一答”方式逐条读取返回，而不是持续流式消费。
// 说明：内部由 PushParser 驱动，阻塞读取直到凑齐一条完整 Reply。
package resp

import (
	"io"
)

// StreamParser 是一个面向流的 RESP 解析器（同步读取）。
type StreamParser struct {
	reader io.Reader
	p      *PushParser
	queue  []Reply // 同一块字节里多读出来的回复，留给后续 ReadReply
	buf    []byte
}

func NewStreamParser(r io.Reader) *StreamParser {
	s := &StreamParser{
		reader: r,
		p:      NewPushParser(nil, false),
		buf:    make([]byte, 4096),
	}
	s.p.SetDefaultCallback(func(_ any, reply Reply) {
		s.queue = append(s.queue, reply)
	})
	return s
}

// ReadReply 从流中读取一个完整的 RESP Reply。
func (s *StreamParser) ReadReply() (Reply, error) {
	for {
		if len(s.queue) > 0 {
			reply := s.queue[0]
			s.queue = s.queue[1:]
			return reply, nil
		}

		for {
			delivered, err := s.p.ParseReply()
			if err != nil {
				return nil, err
			}
			if !delivered {
				break
			}
		}
		if len(s.queue) > 0 {
			continue
		}

		n, err := s.reader.Read(s.buf)
		if n > 0 {
			s.p.Append(s.buf[:n])
		}
		if err != nil && n == 0 {
			return nil, err
		}
	}
}
