// Package client 是一个阻塞式 TCP 客户端，用于示例和测试。
// 服务端不做分帧，收到的字节流就是发送字节流的变换结果。
package client

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/legamerdc/nio/internal/log"
)

var logger = log.NewLogger("client")

type Handler interface {
	OnOpen(c *Client)
	// OnData 在读 goroutine 中调用，p 仅在回调期间有效
	OnData(c *Client, p []byte)
	OnClose(c *Client, err error)
}

type Client struct {
	conn net.Conn
	mu   sync.Mutex
}

// Dial 建立连接并启动读 goroutine
func Dial(network, address string, h Handler) (*Client, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "client: dial %s", address)
	}
	c := &Client{conn: nc}
	go h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	buf := make([]byte, 64<<10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			h.OnData(c, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				logger.WithError(err).Debug("read loop stopped")
			}
			h.OnClose(c, err)
			return
		}
	}
}

func (c *Client) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(p)
	return errors.Wrap(err, "client: write")
}

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Client) Close() error { return c.conn.Close() }

// Exchange 连接 address，发送 payload 并读回 n 字节后关闭连接。
// 发送在独立 goroutine 中进行，大负载下服务端背压不会造成死锁。
func Exchange(address string, payload []byte, n int, timeout time.Duration) ([]byte, error) {
	nc, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "client: dial %s", address)
	}
	defer nc.Close()
	if timeout > 0 {
		nc.SetDeadline(time.Now().Add(timeout))
	}

	werr := make(chan error, 1)
	go func() {
		_, err := nc.Write(payload)
		werr <- err
	}()

	out := make([]byte, n)
	if _, err := io.ReadFull(nc, out); err != nil {
		return nil, errors.Wrap(err, "client: read")
	}
	if err := <-werr; err != nil {
		return nil, errors.Wrap(err, "client: write")
	}
	return out, nil
}
