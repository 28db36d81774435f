//go:build linux

// Package server 实现基于 reactor 的连接管理：接受连接、逐块变换读到的数据、
// 缓冲写回，并用高低水位线对每个连接施加背压。
//
// 所有回调都在事件循环 goroutine 中执行；除 Shutdown 外，Server 的方法不是并发安全的。
package server

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/internal/log"
	"github.com/legamerdc/nio/metrics"
	"github.com/legamerdc/nio/reactor"
	"github.com/legamerdc/nio/socket"
)

// Multiplexer 是连接管理依赖的 reactor 注册接口
type Multiplexer interface {
	Register(fd int, interest reactor.Events, h reactor.Handler) error
	Modify(fd int, interest reactor.Events) error
	Unregister(fd int) error
}

type Server struct {
	cfg     Config
	ln      *socket.Socket
	rc      *reactor.Reactor
	mux     Multiplexer
	conns   map[int]*connection
	scratch []byte
	out     []byte
	logger  logrus.FieldLogger
	rlog    logrus.FieldLogger
	metrics *metrics.Metrics

	read  func(fd int, p []byte) (int, error)
	write func(fd int, p []byte) (int, error)
}

func sendNoSignal(fd int, p []byte) (int, error) {
	// MSG_NOSIGNAL：对端已关闭时返回 EPIPE 而不是触发 SIGPIPE
	return unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
}

func newServer(cfg Config, mux Multiplexer, opts ...Option) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	rlog := o.logger
	if o.logger == nil {
		o.logger = log.NewLogger("server")
		rlog = log.NewLogger("reactor")
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	return &Server{
		cfg:     cfg,
		mux:     mux,
		conns:   make(map[int]*connection),
		scratch: make([]byte, cfg.ReadBufferSize),
		logger:  o.logger,
		rlog:    rlog,
		metrics: o.metrics,
		read:    unix.Read,
		write:   sendNoSignal,
	}, nil
}

// New 创建 reactor 和监听套接字，并把监听 fd 注册到 reactor。
// 任一步失败都会释放已创建的资源并返回错误。
func New(cfg Config, opts ...Option) (*Server, error) {
	s, err := newServer(cfg, nil, opts...)
	if err != nil {
		return nil, err
	}
	rc, err := reactor.New(
		reactor.WithLogger(s.rlog),
		reactor.WithMaxEvents(s.cfg.MaxEvents),
		reactor.WithErrorHook(func(fd int, err error) {
			s.metrics.HandlerFailures.Inc()
		}),
	)
	if err != nil {
		return nil, err
	}
	ln, err := openListener(s.cfg.Port)
	if err != nil {
		rc.Close()
		return nil, err
	}
	if err := rc.Register(ln.FD(), reactor.Readable, s.onAccept); err != nil {
		ln.Close()
		rc.Close()
		return nil, errors.Wrap(err, "server: register listener")
	}
	s.rc, s.mux, s.ln = rc, rc, ln
	return s, nil
}

// Port 返回实际监听端口（配置为 0 时由内核分配）
func (s *Server) Port() int {
	port, err := s.ln.Port()
	if err != nil {
		s.logger.WithError(err).Warn("query listen port failed")
	}
	return port
}

// Serve 运行事件循环，直到 Shutdown 被调用后返回 nil
func (s *Server) Serve() error {
	s.logger.Infof("starting TCP server on port %d", s.Port())
	return s.rc.Run()
}

// Shutdown 请求事件循环停止，可在任意 goroutine 中调用
func (s *Server) Shutdown() error { return s.rc.Shutdown() }

// ShutdownFD 返回 reactor 的取消描述符
func (s *Server) ShutdownFD() int { return s.rc.ShutdownFD() }

// Close 在 Serve 返回后释放所有连接、监听套接字和 reactor。
// 事件循环仍在运行时返回 reactor.ErrRunning。
func (s *Server) Close() error {
	if s.rc != nil {
		if err := s.rc.Close(); err != nil {
			return err
		}
	}
	for fd, c := range s.conns {
		delete(s.conns, fd)
		s.release(c, metrics.ReasonShutdown)
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Conns 返回当前连接数
func (s *Server) Conns() int { return len(s.conns) }
