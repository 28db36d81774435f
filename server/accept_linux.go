//go:build linux

package server

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/internal/bytequeue"
	"github.com/legamerdc/nio/reactor"
	"github.com/legamerdc/nio/socket"
)

// onAccept 在监听 fd 可读时被调用，一直 accept 到 EAGAIN。
// 边沿触发下一次唤醒可能对应多个待处理连接，必须全部取走。
func (s *Server) onAccept(fd int, ev reactor.Events) error {
	for {
		c, sa, err := s.ln.Accept()
		if err != nil {
			if socket.IsWouldBlock(err) {
				return nil
			}
			if errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "server: accept")
		}
		s.addConn(c, socket.FormatAddr(sa))
	}
}

func (s *Server) addConn(sock *socket.Socket, remote string) {
	fd := sock.FD()
	c := &connection{
		sock:     sock,
		id:       uuid.New(),
		out:      bytequeue.New(),
		interest: reactor.Readable,
	}
	c.log = s.logger.WithFields(logrus.Fields{
		"fd":     fd,
		"conn":   c.id.String(),
		"remote": remote,
	})
	if err := sock.SetNoDelay(); err != nil {
		c.log.WithError(err).Warn("set TCP_NODELAY failed")
	}
	if err := s.mux.Register(fd, reactor.Readable, s.onConnEvent); err != nil {
		c.log.WithError(err).Error("register connection failed, closing")
		sock.Close()
		return
	}
	s.conns[fd] = c
	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ConnectionsActive.Inc()
	c.log.Info("accepted new connection")
}
