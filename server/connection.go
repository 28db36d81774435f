//go:build linux

package server

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/internal/bytequeue"
	"github.com/legamerdc/nio/metrics"
	"github.com/legamerdc/nio/reactor"
	"github.com/legamerdc/nio/socket"
)

// connection 是一个已接受连接的状态：
// Readable → {Readable ⇄ Writable(背压) ⇄ Readable|Writable} → 关闭
type connection struct {
	sock *socket.Socket
	id   uuid.UUID
	out  *bytequeue.Queue
	// interest 是最近一次提交给 reactor 的关注事件
	interest reactor.Events
	log      logrus.FieldLogger
}

func (s *Server) onConnEvent(fd int, ev reactor.Events) error {
	c, ok := s.conns[fd]
	if !ok {
		s.logger.WithField("fd", fd).Debug("event for closed connection ignored")
		return nil
	}
	if ev&(reactor.Error|reactor.Hangup) != 0 {
		c.log.WithField("events", ev).Info("connection hangup or error")
		s.closeConn(fd, metrics.ReasonHangup)
		return nil
	}
	// 先写后读：写路径可能已经关闭连接
	if ev&reactor.Writable != 0 {
		s.flush(fd, c)
		if s.conns[fd] != c {
			return nil
		}
	}
	if ev&reactor.Readable != 0 {
		s.onReadable(fd, c)
	}
	return nil
}

// onReadable 读到 EAGAIN，每块数据变换后追加到发送队列。
func (s *Server) onReadable(fd int, c *connection) {
	if c.out.Len() >= s.cfg.HighWatermark {
		// 过期的可读通知：背压期间不读
		s.setInterest(fd, c, reactor.Writable)
		return
	}
	for {
		n, err := s.read(fd, s.scratch)
		if n > 0 {
			s.metrics.BytesRead.Add(float64(n))
			s.out = s.cfg.Transform.Apply(s.out[:0], s.scratch[:n])
			c.out.Write(s.out)
			c.log.WithFields(logrus.Fields{"bytes": n, "queued": c.out.Len()}).Debug("read")
			if c.out.Len() >= s.cfg.HighWatermark {
				s.setInterest(fd, c, reactor.Writable)
				s.flush(fd, c)
				return
			}
			continue
		}
		if err == nil {
			c.log.Info("client disconnected cleanly")
			s.closeConn(fd, metrics.ReasonPeerClosed)
			return
		}
		if socket.IsWouldBlock(err) {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		c.log.WithError(err).Warn("read failed")
		s.closeConn(fd, metrics.ReasonReadError)
		return
	}
	if c.out.Len() > 0 {
		s.flush(fd, c)
	}
}

// flush 尽量写出发送队列。写空后恢复只读关注；EAGAIN 时按低水位线决定是否恢复读。
func (s *Server) flush(fd int, c *connection) {
	for c.out.Len() > 0 {
		n, err := s.write(fd, c.out.Peek())
		if n > 0 {
			c.out.Discard(n)
			s.metrics.BytesWritten.Add(float64(n))
			continue
		}
		if err == nil || socket.IsWouldBlock(err) {
			if c.out.Len() < s.cfg.LowWatermark {
				s.setInterest(fd, c, reactor.Readable|reactor.Writable)
			} else {
				s.setInterest(fd, c, reactor.Writable)
			}
			c.log.WithField("queued", c.out.Len()).Debug("write would block")
			return
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
			c.log.WithError(err).Info("client disconnected during buffered write")
		} else {
			c.log.WithError(err).Warn("write failed")
		}
		s.closeConn(fd, metrics.ReasonWriteError)
		return
	}
	c.log.Debug("flushed write buffer")
	s.setInterest(fd, c, reactor.Readable)
}

// setInterest 提交关注事件，与上次相同时不调用 Modify
func (s *Server) setInterest(fd int, c *connection, want reactor.Events) {
	if c.interest == want {
		return
	}
	if err := s.mux.Modify(fd, want); err != nil {
		c.log.WithError(err).Warn("modify interest failed")
		return
	}
	wasReading := c.interest&reactor.Readable != 0
	c.interest = want
	reading := want&reactor.Readable != 0
	switch {
	case wasReading && !reading:
		s.metrics.Backpressure.WithLabelValues(metrics.DirectionPause).Inc()
		c.log.WithField("queued", c.out.Len()).Info("write buffer reached threshold, pausing reads")
	case !wasReading && reading:
		s.metrics.Backpressure.WithLabelValues(metrics.DirectionResume).Inc()
		c.log.WithField("queued", c.out.Len()).Info("write buffer below threshold, resuming reads")
	}
}

// closeConn 注销 fd、删除状态并关闭套接字；同一 fd 再次调用为空操作
func (s *Server) closeConn(fd int, reason string) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	// 失败已由 reactor 记录
	_ = s.mux.Unregister(fd)
	delete(s.conns, fd)
	s.release(c, reason)
}

func (s *Server) release(c *connection, reason string) {
	if err := c.sock.Close(); err != nil {
		c.log.WithError(err).Warn("close socket failed")
	}
	c.out.Reset()
	s.metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	s.metrics.ConnectionsActive.Dec()
	c.log.WithField("reason", reason).Info("connection closed")
}
