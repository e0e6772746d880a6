// Redis 客户端连接：请求编码、pipeline 发送与按序接收回复。
// 关键点：发送与回调注册在同一把锁下完成，保证回调 FIFO 与请求顺序一致；
//         后台 readLoop 把字节喂给 push parser，连接失败时把错误扇出给所有在途请求。
// 说明：单个 Client 对应一条 TCP 连接；并发复用多条连接请使用 Pool。
package client

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"redisdb/resp"
)

var (
	ErrClientClosed = errors.New("redisdb: client closed")
	ErrTimeout      = errors.New("redisdb: request timed out")
)

// Client 是一条支持 pipeline 的客户端连接。
// Send 异步发出命令并注册回调；Do 在 Send 之上阻塞等待回复。
type Client struct {
	cfg Config
	log *zap.Logger

	conn   net.Conn
	parser *resp.PushParser

	// mu 串行化：命令写出 + 回调入队 + 解析派发。
	// 回调入队顺序必须等于命令写出顺序，否则回复会错配。
	mu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect 按配置建立连接并启动接收循环。logger 传 nil 则静默。
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "redisdb: dial")
	}

	c := &Client{
		cfg:     cfg,
		log:     logger.With(zap.String("addr", cfg.Addr)),
		conn:    conn,
		closing: make(chan struct{}),
	}
	c.parser = resp.NewPushParser(c, cfg.UTF8)

	c.log.Debug("connected")
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Send 编码命令写出，并注册与之配对的一次性回调。
// 回调在接收 goroutine 上同步执行，不得阻塞、不得重入本 Client。
func (c *Client) Send(cb resp.Callback, args ...[]byte) error {
	select {
	case <-c.closing:
		return ErrClientClosed
	default:
	}

	data := resp.MakeCommand(args...).ToBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RWTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return errors.Wrap(err, "redisdb: write command")
	}
	_ = c.conn.SetWriteDeadline(time.Time{})

	// 写出成功才入队；reader 在同一把锁下解析，回复不会抢在入队之前派发
	c.parser.PushCallback(cb)
	return nil
}

// Do 发出命令并等待回复。服务端报错（-ERR ...）以 *resp.ErrorReply
// 作为 error 返回；连接断开时在途的 Do 也会以同样方式收到终止错误。
func (c *Client) Do(args ...[]byte) (resp.Reply, error) {
	ch := make(chan resp.Reply, 1)
	err := c.Send(func(_ any, r resp.Reply) {
		ch <- r
	}, args...)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		if errReply, ok := r.(*resp.ErrorReply); ok {
			return nil, errReply
		}
		return r, nil
	case <-time.After(c.cfg.RWTimeout):
		return nil, ErrTimeout
	}
}

// DoStrings 是 Do 的便捷封装，接受字符串参数。
func (c *Client) DoStrings(args ...string) (resp.Reply, error) {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return c.Do(raw...)
}

// SetPushHandler 注册 default callback，接收没有对应请求的服务端推送。
func (c *Client) SetPushHandler(cb resp.Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parser.SetDefaultCallback(cb)
}

// Pending 返回尚未收到回复的请求数。
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parser.Pending()
}

// Close 关闭连接并等待接收循环退出。在途请求会收到终止错误回复。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
	c.wg.Wait()
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if perr := c.feed(buf[:n]); perr != nil {
				c.fail(perr)
				return
			}
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

// feed 把一块字节交给解析器并派发所有完整回复。
func (c *Client) feed(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.parser.Append(data)
	for {
		delivered, err := c.parser.ParseReply()
		if err != nil {
			return err
		}
		if !delivered {
			return nil
		}
	}
}

// fail 终结连接：把同一个错误回复扇出给所有在途请求与推送回调。
func (c *Client) fail(err error) {
	select {
	case <-c.closing:
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Warn("connection lost", zap.Error(err))
	}

	c.mu.Lock()
	pending := c.parser.Pending()
	c.parser.Propagate(resp.MakeErrReply("ERR connection lost: " + err.Error()))
	c.mu.Unlock()

	if pending > 0 {
		c.log.Debug("propagated terminal error", zap.Int("pending", pending))
	}

	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
}
