// RESP 流式解析：从 io.Reader 持续读取并逐条产出回复（支持粘包/拆包与 Pipeline）。
// 关键点：读到的字节块喂给 PushParser，按块驱动状态机，不依赖阻塞式按行读取。
// 输入/输出：输入为 io.Reader（TCP 连接），输出为 Payload channel（逐条回复）。
package resp

import (
	"io"
)

// Payload 携带一条解析出的回复或一个错误
type Payload struct {
	Data Reply
	Err  error
}

// ParseStream continuously reads from reader and sends Payloads to channel
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	go parse0(reader, ch)
	return ch
}

func parse0(reader io.Reader, ch chan<- *Payload) {
	defer close(ch)

	p := NewPushParser(nil, false)
	p.SetDefaultCallback(func(_ any, r Reply) {
		ch <- &Payload{Data: r}
	})

	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			p.Append(buf[:n])
			// 一个字节块可能携带多条回复（Pipeline），解析到缓冲耗尽为止
			for {
				delivered, perr := p.ParseReply()
				if perr != nil {
					ch <- &Payload{Err: perr}
					return
				}
				if !delivered {
					break
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				ch <- &Payload{Err: err}
			}
			return
		}
	}
}
