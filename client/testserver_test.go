// 测试用 RESP 服务端：按 handler 回包的极简 TCP server。
// 关键点：沿用 listener + 连接表 + closing/wg 的关闭套路，测试结束不泄漏 goroutine。
// 说明：handler 返回 nil 表示服务端直接断开连接，用于模拟传输层故障。
package client

import (
	"net"
	"sync"
	"testing"

	"redisdb/resp"
)

type testHandler func(args [][]byte) resp.Reply

type testServer struct {
	t       *testing.T
	handler testHandler

	listener net.Listener

	closing   chan struct{}
	closeOnce sync.Once

	wg      sync.WaitGroup
	conns   map[net.Conn]struct{}
	connsMu sync.Mutex

	accepted int
}

func startTestServer(t *testing.T, handler testHandler) *testServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{
		t:        t,
		handler:  handler,
		listener: listener,
		closing:  make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) Addr() string {
	return s.listener.Addr().String()
}

// Accepted 返回至今接受过的连接数（用于验证连接池复用）。
func (s *testServer) Accepted() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.accepted
}

func (s *testServer) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.listener.Close()
	})
	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()
	s.wg.Wait()
}

func (s *testServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.t.Logf("accept: %v", err)
				return
			}
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		_ = conn.Close()
	}()

	for payload := range resp.ParseStream(conn) {
		if payload.Err != nil {
			return
		}
		mb, ok := payload.Data.(*resp.MultiBulkReply)
		if !ok {
			return
		}
		args := make([][]byte, 0, len(mb.Replies))
		for _, item := range mb.Replies {
			bulk, ok := item.(*resp.BulkReply)
			if !ok {
				return
			}
			args = append(args, bulk.Arg)
		}

		reply := s.handler(args)
		if reply == nil {
			return
		}
		if _, err := conn.Write(reply.ToBytes()); err != nil {
			return
		}
	}
}
