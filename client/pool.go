// 连接池：复用固定上限的客户端连接，降低建连开销。
// 关键点：chan 做空闲队列，取不到就新建；归还时池满或已关闭则直接关掉连接。
// 说明：Do 以非 *resp.ErrorReply 的错误失败时连接不回池；以 *resp.ErrorReply 失败时连接照常归还。
package client

import (
	"sync"

	"go.uber.org/zap"

	"redisdb/resp"
)

// Pool 为单个地址维护一个小型连接池。
type Pool struct {
	cfg Config
	log *zap.Logger

	pool      chan *Client
	closing   chan struct{}
	closeOnce sync.Once
}

func NewPool(cfg Config, logger *zap.Logger) *Pool {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		log:     logger,
		pool:    make(chan *Client, cfg.PoolSize),
		closing: make(chan struct{}),
	}
}

// Do 取一条连接执行命令，成功则归还连接。
func (p *Pool) Do(args ...[]byte) (resp.Reply, error) {
	c, err := p.acquire()
	if err != nil {
		return nil, err
	}

	reply, err := c.Do(args...)
	if err != nil {
		// 服务端报错连接仍然健康，可以归还；传输层失败则丢弃
		if _, ok := err.(*resp.ErrorReply); ok {
			p.release(c)
		} else {
			c.Close()
		}
		return nil, err
	}

	p.release(c)
	return reply, nil
}

func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
	})
	// 关闭所有空闲连接（使用中的连接在归还时被关闭）
	for {
		select {
		case c := <-p.pool:
			if c != nil {
				c.Close()
			}
		default:
			return
		}
	}
}

func (p *Pool) acquire() (*Client, error) {
	select {
	case <-p.closing:
		return nil, ErrClientClosed
	default:
	}

	select {
	case c := <-p.pool:
		return c, nil
	default:
		return Connect(p.cfg, p.log)
	}
}

func (p *Pool) release(c *Client) {
	select {
	case <-p.closing:
		c.Close()
		return
	default:
	}

	select {
	case p.pool <- c:
	default:
		c.Close()
	}
}
