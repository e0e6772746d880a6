// RESP push parser：增量解析服务端回复流，按请求顺序派发回调。
// 关键点：可在任意字节处挂起/恢复的状态机；多级数组用显式帧栈而非递归。
// 说明：解析器自身不做 I/O、不加锁；字节由驱动方 Append，回调在 ParseReply 内同步执行。
package resp

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// 解析器的致命错误。任意一个出现后解析器即中毒，后续 ParseReply 直接失败，
// 驱动方应当丢弃整个连接。
var (
	ErrInvalidReply     = errors.New("redisdb: got invalid reply")
	ErrInvalidMultiBulk = errors.New("redisdb: invalid multi-bulk reply, expected [$:+-*]")
	ErrInvalidUTF8      = errors.New("redisdb: received invalid UTF-8 string from the server")
	ErrNoCallback       = errors.New("redisdb: no callbacks in the queue and no default callback set")
	ErrMblkTopLevel     = errors.New("redisdb: already at the upper level of multi-bulk reply")
	ErrNilErrorReply    = errors.New("redisdb: error constructor returned no value")
)

// Callback 在一条顶层回复完成时被调用。owner 是构造解析器时传入的宿主引用，
// reply 是完成的回复值。回调内不得重入解析器。
type Callback func(owner any, reply Reply)

// ErrorConstructor 把服务端错误行包装成回复值（-ERR ... 的 ERR ... 部分）。
// 返回 nil 视为构造失败，解析器以 ErrNilErrorReply 中止。
type ErrorConstructor func(msg []byte) Reply

type parseState int

const (
	stateClean parseState = iota
	stateReadLine
	stateReadError
	stateReadNumber
	stateReadBulkLen
	stateReadBulk
	stateReadMblkLen
	stateWaitBulks
)

// mblkFrame 保存一个尚未读完的外层数组：已收集的元素与剩余元素数。
type mblkFrame struct {
	partial   []Reply
	remaining int64
}

// PushParser 逐条解析 RESP 回复并派发给回调队列。
//
// 回调按 FIFO 匹配回复：每完成一条顶层回复，弹出队首回调并以
// (owner, reply) 调用；队列为空时使用 default callback（不消耗）。
// 两者都没有则为致命错误——回复必须有且只有一个消费者。
type PushParser struct {
	owner any
	utf8  bool

	buf buffer

	state     parseState
	mblkLevel int         // 当前打开的多级数组层数，0 表示不在数组内
	mblkReply []Reply     // 最内层未完成的数组
	mblkLen   int64       // 最内层还差多少个元素
	mblkStack []mblkFrame // 外层帧，len == mblkLevel-1（mblkLevel > 0 时）
	bulkLen   int64       // 仅在 stateReadBulk 有效

	callbacks []Callback
	defaultCB Callback
	errCtor   ErrorConstructor

	err error // 首个致命错误；非 nil 表示解析器已中毒
}

// NewPushParser 创建绑定宿主引用的解析器。utf8 为真时 bulk 内容必须是
// 合法 UTF-8，否则解析以 ErrInvalidUTF8 中止。
func NewPushParser(owner any, utf8Mode bool) *PushParser {
	return &PushParser{
		owner: owner,
		utf8:  utf8Mode,
		errCtor: func(msg []byte) Reply {
			return MakeErrReply(string(msg))
		},
	}
}

// Append 把到达的字节追加进解析缓冲。
func (p *PushParser) Append(b []byte) {
	p.buf.Append(b)
}

// PushCallback 按请求顺序注册一次性回调。
func (p *PushParser) PushCallback(cb Callback) {
	p.callbacks = append(p.callbacks, cb)
}

// SetDefaultCallback 设置兜底回调，用于消费队列之外的回复
// （如服务端主动推送）。传 nil 清除。
func (p *PushParser) SetDefaultCallback(cb Callback) {
	p.defaultCB = cb
}

// SetErrorConstructor 替换错误回复的构造器。
func (p *PushParser) SetErrorConstructor(ctor ErrorConstructor) {
	p.errCtor = ctor
}

// Pending 返回队列中尚未匹配回复的回调数。
func (p *PushParser) Pending() int {
	return len(p.callbacks)
}

// Discard 释放缓冲、未完成的帧与全部回调，不调用任何回调。
// 解析器回到初始状态。
func (p *PushParser) Discard() {
	p.buf.Reset()
	p.state = stateClean
	p.mblkLevel = 0
	p.mblkReply = nil
	p.mblkStack = nil
	p.callbacks = nil
	p.defaultCB = nil
	p.err = nil
}

// Propagate 依次以 reply 调用队列中所有回调，最后调用并清除 default
// callback。用于连接断开时把同一个终止错误扇出给所有在途请求。
func (p *PushParser) Propagate(reply Reply) {
	for {
		var cb Callback
		if len(p.callbacks) > 0 {
			cb = p.callbacks[0]
			p.callbacks = p.callbacks[1:]
		} else if p.defaultCB != nil {
			cb = p.defaultCB
			p.defaultCB = nil
		} else {
			return
		}
		cb(p.owner, reply)
	}
}

// ParseReply 最多解析一条顶层回复。
// 返回 (true, nil) 表示完成并派发了一条回复；(false, nil) 表示缓冲耗尽、
// 需要更多字节；err 非 nil 为致命协议错误，解析器不再可用。
// 驱动方应在每次喂入字节后循环调用直到返回 false。
func (p *PushParser) ParseReply() (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if p.buf.Len() == 0 {
		return false, nil
	}

	if p.state == stateClean {
		p.mblkLevel = 0

		op := p.buf.PeekByte()
		p.buf.ConsumeFront(1)

		switch op {
		case '+':
			p.state = stateReadLine
		case '-':
			p.state = stateReadError
		case ':':
			p.state = stateReadNumber
		case '$':
			p.state = stateReadBulkLen
		case '*':
			p.state = stateReadMblkLen
			p.mblkLevel = 1
		default:
			return false, p.fatal(ErrInvalidReply)
		}
	}

	for {
		// 任何帧的完成至少还需要一个 CRLF
		if p.buf.Len() < 2 {
			return false, nil
		}

		switch p.state {
		case stateReadLine:
			line, ok := p.buf.ReadLine()
			if !ok {
				return false, nil
			}
			done, err := p.replyCompleted(MakeStatusReply(string(line)))
			if done || err != nil {
				return done, p.fatal(err)
			}

		case stateReadError:
			line, ok := p.buf.ReadLine()
			if !ok {
				return false, nil
			}
			errReply := p.errCtor(line)
			if errReply == nil {
				return false, p.fatal(ErrNilErrorReply)
			}
			done, err := p.replyCompleted(errReply)
			if done || err != nil {
				return done, p.fatal(err)
			}

		case stateReadNumber:
			n, ok := p.buf.ReadInt()
			if !ok {
				return false, nil
			}
			done, err := p.replyCompleted(MakeIntReply(n))
			if done || err != nil {
				return done, p.fatal(err)
			}

		case stateReadBulkLen:
			n, ok := p.buf.ReadInt()
			if !ok {
				return false, nil
			}
			if n >= 0 {
				p.bulkLen = n
				p.state = stateReadBulk
			} else if n == -1 {
				done, err := p.replyCompleted(NullBulkReply)
				if done || err != nil {
					return done, p.fatal(err)
				}
			} else {
				return false, nil
			}

		case stateReadBulk:
			if int64(p.buf.Len()) < p.bulkLen+2 {
				return false, nil
			}
			payload := make([]byte, p.bulkLen)
			copy(payload, p.buf.TakeSlice(int(p.bulkLen)))
			// 负载之后的两个字节按协议约定必是 CRLF，直接跳过
			p.buf.ConsumeFront(int(p.bulkLen) + 2)
			if p.utf8 && !utf8.Valid(payload) {
				return false, p.fatal(ErrInvalidUTF8)
			}
			done, err := p.replyCompleted(MakeBulkReply(payload))
			if done || err != nil {
				return done, p.fatal(err)
			}

		case stateReadMblkLen:
			n, ok := p.buf.ReadInt()
			if !ok {
				return false, nil
			}
			if n > 0 {
				p.mblkLen = n
				p.state = stateWaitBulks
				p.mblkReply = make([]Reply, 0, n)
			} else if n == 0 || n == -1 {
				// *0 得到空数组；*-1 沿用原协议实现的行为：nil 数组用 nil bulk 表示
				var v Reply
				if n == 0 {
					v = MakeMultiBulkReply([]Reply{})
				} else {
					v = NullBulkReply
				}
				p.mblkLevel--
				if p.mblkLevel > 0 {
					if err := p.mblkStatusFetch(); err != nil {
						return false, err
					}
				}
				done, err := p.replyCompleted(v)
				if done || err != nil {
					return done, p.fatal(err)
				}
			} else {
				return false, nil
			}

		case stateWaitBulks:
			op := p.buf.PeekByte()
			p.buf.ConsumeFront(1)

			switch op {
			case '$':
				p.state = stateReadBulkLen
			case ':':
				p.state = stateReadNumber
			case '+':
				p.state = stateReadLine
			case '-':
				p.state = stateReadError
			case '*':
				p.state = stateReadMblkLen
				p.mblkLevel++
				p.mblkStatusStore()
			default:
				return false, p.fatal(ErrInvalidMultiBulk)
			}
		}
	}
}

// mblkStatusStore 把当前多级数组帧压栈，为读取内层数组让位。
func (p *PushParser) mblkStatusStore() {
	p.mblkStack = append(p.mblkStack, mblkFrame{
		partial:   p.mblkReply,
		remaining: p.mblkLen,
	})
	p.mblkReply = nil
}

// mblkStatusFetch 弹出外层帧，恢复其部分数组与剩余计数。
func (p *PushParser) mblkStatusFetch() error {
	if len(p.mblkStack) == 0 {
		return p.fatal(ErrMblkTopLevel)
	}
	top := p.mblkStack[len(p.mblkStack)-1]
	p.mblkStack = p.mblkStack[:len(p.mblkStack)-1]
	p.mblkReply = top.partial
	p.mblkLen = top.remaining
	return nil
}

// mblkItem 把一个完成的值并入当前多级数组。
// 返回 repeat=true 表示本层还有元素要读，解析循环应继续；false 表示
// 最外层数组已经收齐。内层数组收尾不递归：最内层最后一个元素可能一次
// 关闭多层数组（级联完成），这里用循环逐层折叠。
func (p *PushParser) mblkItem(v Reply) (bool, error) {
	for {
		p.mblkReply = append(p.mblkReply, v)
		if p.mblkLen > 1 {
			p.mblkLen--
			p.state = stateWaitBulks
			return true, nil
		}
		if p.mblkLevel > 1 {
			p.mblkLevel--
			v = MakeMultiBulkReply(p.mblkReply)
			if err := p.mblkStatusFetch(); err != nil {
				return false, err
			}
			continue
		}
		return false, nil
	}
}

// replyCompleted 处理一个刚产出的标量值：要么并入未读完的数组，要么作为
// 顶层回复派发。返回 done=true 表示派发了一条顶层回复。
func (p *PushParser) replyCompleted(v Reply) (bool, error) {
	reply := v
	if p.mblkLevel > 0 {
		repeat, err := p.mblkItem(v)
		if err != nil {
			return false, err
		}
		if repeat {
			return false, nil
		}
		reply = MakeMultiBulkReply(p.mblkReply)
		p.mblkReply = nil
		p.mblkLevel = 0
	}

	p.state = stateClean

	var cb Callback
	if len(p.callbacks) > 0 {
		cb = p.callbacks[0]
		p.callbacks = p.callbacks[1:]
	} else if p.defaultCB != nil {
		cb = p.defaultCB
	} else {
		return false, ErrNoCallback
	}
	cb(p.owner, reply)
	return true, nil
}

// fatal 记录首个致命错误，使解析器中毒。err 为 nil 时原样返回。
func (p *PushParser) fatal(err error) error {
	if err != nil && p.err == nil {
		p.err = err
	}
	return err
}
