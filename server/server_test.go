//go:build linux

package server

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/client"
	"github.com/legamerdc/nio/metrics"
	"github.com/legamerdc/nio/reactor"
	"github.com/legamerdc/nio/transform"
)

func newLoopbackServer(t *testing.T) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Port = 0
	s, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)
	return s
}

// startServer 在后台运行事件循环，测试结束时停止并释放资源
func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := newLoopbackServer(t)
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
		assert.NoError(t, s.Close())
	})
	return s, "127.0.0.1:" + strconv.Itoa(s.Port())
}

func TestUppercaseEcho(t *testing.T) {
	_, addr := startServer(t)

	got, err := client.Exchange(addr, []byte("hello, world"), 12, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "HELLO, WORLD", string(got))
}

func TestFragmentedInput(t *testing.T) {
	_, addr := startServer(t)

	rng := rand.New(rand.NewSource(7))
	payload := make([]byte, 50000)
	rng.Read(payload)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	go func() {
		for rest := payload; len(rest) > 0; {
			n := 1 + rng.Intn(300)
			if n > len(rest) {
				n = len(rest)
			}
			if _, err := conn.Write(rest[:n]); err != nil {
				return
			}
			rest = rest[n:]
		}
	}()

	got := make([]byte, len(payload))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, transform.Upper.Apply(nil, payload), got)
}

func TestSingleByteWrites(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	for _, b := range []byte("partial") {
		_, err := conn.Write([]byte{b})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	got := make([]byte, 7)
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "PARTIAL", string(got))
}

// 负载远大于高水位线，依赖背压与恢复才能完整往返
func TestLargePayloadRoundTrip(t *testing.T) {
	_, addr := startServer(t)

	payload := bytes.Repeat([]byte("abcdefghij"), 100<<10)
	got, err := client.Exchange(addr, payload, len(payload), 20*time.Second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(bytes.ToUpper(payload), got))
}

func TestConcurrentClients(t *testing.T) {
	_, addr := startServer(t)

	const clients = 50
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte("client-" + strconv.Itoa(i) + "-payload")
			got, err := client.Exchange(addr, msg, len(msg), 10*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(bytes.ToUpper(msg), got) {
				errs <- errors.Errorf("client %d: got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRapidConnectDisconnect(t *testing.T) {
	_, addr := startServer(t)

	for i := 0; i < 100; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conn.Close()
	}
	// 服务端仍然可用
	got, err := client.Exchange(addr, []byte("still alive"), 11, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "STILL ALIVE", string(got))
}

// 一次唤醒前到达的多个连接必须在同一次分发中全部接受
func TestAcceptDrainsBacklog(t *testing.T) {
	s := newLoopbackServer(t)
	defer s.Close()
	addr := "127.0.0.1:" + strconv.Itoa(s.Port())

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer c.Close()
		conns = append(conns, c)
	}

	require.NoError(t, s.onAccept(s.ln.FD(), reactor.Readable))
	assert.Equal(t, 3, s.Conns())
	assert.Equal(t, 4, s.rc.Len(), "listener plus three connections")
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.ConnectionsAccepted))
	for fd, c := range s.conns {
		assert.True(t, s.rc.Registered(fd))
		assert.Equal(t, reactor.Readable, c.interest)
	}

	// backlog 已空，再次调用不接受任何连接
	require.NoError(t, s.onAccept(s.ln.FD(), reactor.Readable))
	assert.Equal(t, 3, s.Conns())
}

func TestCloseReleasesConnections(t *testing.T) {
	s := newLoopbackServer(t)
	addr := "127.0.0.1:" + strconv.Itoa(s.Port())

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, s.onAccept(s.ln.FD(), reactor.Readable))
	require.Equal(t, 1, s.Conns())

	require.NoError(t, s.Close())
	assert.Zero(t, s.Conns())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ConnectionsClosed.WithLabelValues(metrics.ReasonShutdown)))

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err, "peer must observe the close")
}

func TestShutdownViaDescriptor(t *testing.T) {
	s := newLoopbackServer(t)
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(s.ShutdownFD(), buf[:])
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenConflict(t *testing.T) {
	s := newLoopbackServer(t)
	defer s.Close()

	cfg := DefaultConfig()
	cfg.Port = s.Port()
	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}
