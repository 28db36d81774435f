//go:build linux

package reactor

import (
	"encoding/binary"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Events 是 epoll 事件位掩码
type Events uint32

const (
	Readable      Events = unix.EPOLLIN
	Writable      Events = unix.EPOLLOUT
	EdgeTriggered Events = unix.EPOLLET
	Error         Events = unix.EPOLLERR
	Hangup        Events = unix.EPOLLHUP
	PeerHangup    Events = unix.EPOLLRDHUP
)

var eventNames = []struct {
	ev   Events
	name string
}{
	{Readable, "IN"},
	{Writable, "OUT"},
	{Error, "ERR"},
	{Hangup, "HUP"},
	{PeerHangup, "RDHUP"},
	{EdgeTriggered, "ET"},
}

type entry struct {
	h   Handler
	gen int32
}

type Reactor struct {
	epfd   int
	efd    int // eventfd，取消描述符
	table  map[int]*entry
	gen    int32
	state  atomic.Int32
	closed bool
	opts   options
	logger logrus.FieldLogger
	efdBuf [8]byte
}

// New 创建 epoll 实例和取消 eventfd。任一步失败都会释放已创建的资源。
func New(opts ...Option) (*Reactor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "reactor: eventfd")
	}
	// 取消描述符使用水平触发，未读尽时会再次通知
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, ev); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "reactor: register eventfd")
	}
	return &Reactor{
		epfd:   epfd,
		efd:    efd,
		table:  make(map[int]*entry),
		opts:   o,
		logger: o.logger,
	}, nil
}

// Register 以边沿触发方式注册 fd。fd 已存在（包括取消描述符本身、
// 以及 epoll_ctl 报告 EEXIST）时返回 ErrAlreadyRegistered，原回调保持不变。
func (r *Reactor) Register(fd int, interest Events, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if r.closed {
		return ErrClosed
	}
	if fd < 0 {
		return errors.Wrapf(unix.EBADF, "reactor: register fd %d", fd)
	}
	if _, ok := r.table[fd]; ok || fd == r.efd {
		r.logger.WithField("fd", fd).Warn("duplicate registration rejected")
		return errors.Wrapf(ErrAlreadyRegistered, "fd %d", fd)
	}
	gen := r.gen + 1
	ev := &unix.EpollEvent{Events: uint32(interest | EdgeTriggered), Fd: int32(fd), Pad: gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		if err == unix.EEXIST {
			r.logger.WithField("fd", fd).Warn("fd already present in epoll set, registration rejected")
			return errors.Wrapf(ErrAlreadyRegistered, "fd %d", fd)
		}
		return errors.Wrapf(err, "reactor: epoll_ctl add fd %d", fd)
	}
	r.gen = gen
	r.table[fd] = &entry{h: h, gen: gen}
	r.logger.WithFields(logrus.Fields{"fd": fd, "events": interest}).Debug("registered")
	return nil
}

// Modify 修改已注册 fd 的关注事件。失败会被记录，调用方可以忽略返回值。
func (r *Reactor) Modify(fd int, interest Events) error {
	e, ok := r.table[fd]
	if !ok {
		r.logger.WithField("fd", fd).Warn("modify on unregistered fd")
		return errors.Wrapf(ErrNotRegistered, "fd %d", fd)
	}
	ev := &unix.EpollEvent{Events: uint32(interest | EdgeTriggered), Fd: int32(fd), Pad: e.gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		r.logger.WithError(err).WithField("fd", fd).Warn("epoll_ctl mod failed")
		return errors.Wrapf(err, "reactor: epoll_ctl mod fd %d", fd)
	}
	return nil
}

// Unregister 从回调表和 epoll 实例中移除 fd。
// fd 可能已被关闭，epoll_ctl 失败只记录日志，回调表照常清理。
func (r *Reactor) Unregister(fd int) error {
	if _, ok := r.table[fd]; !ok {
		r.logger.WithField("fd", fd).Warn("unregister on unregistered fd")
		return errors.Wrapf(ErrNotRegistered, "fd %d", fd)
	}
	delete(r.table, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		r.logger.WithError(err).WithField("fd", fd).Warn("epoll_ctl del failed")
		return errors.Wrapf(err, "reactor: epoll_ctl del fd %d", fd)
	}
	return nil
}

// Registered 报告 fd 当前是否在回调表中
func (r *Reactor) Registered(fd int) bool {
	_, ok := r.table[fd]
	return ok
}

// Len 返回回调表大小（不含取消描述符）
func (r *Reactor) Len() int { return len(r.table) }

// ShutdownFD 返回取消描述符，写入非零 8 字节计数即可请求停止
func (r *Reactor) ShutdownFD() int { return r.efd }

// Shutdown 向取消描述符写一次值 1，可在任意 goroutine 中调用
func (r *Reactor) Shutdown() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(r.efd, buf[:])
	if err == unix.EAGAIN {
		// 计数器已满，说明停止请求早已挂起
		return nil
	}
	return errors.Wrap(err, "reactor: write eventfd")
}

// Run 阻塞运行事件循环，直到取消描述符可读。
// 收到取消时会先处理完当前批次的其余事件再返回 nil。
// 每个实例只能调用一次，再次调用返回 ErrRunOnce。
func (r *Reactor) Run() error {
	if r.closed {
		return ErrClosed
	}
	if !r.state.CompareAndSwap(int32(stateInitialized), int32(stateRunning)) {
		return ErrRunOnce
	}
	defer r.state.Store(int32(stateStopped))
	defer runtime.KeepAlive(r)

	events := make([]unix.EpollEvent, r.opts.maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "reactor: epoll_wait")
		}
		stop := false
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == r.efd {
				if err := r.drainShutdown(); err != nil {
					return err
				}
				stop = true
				continue
			}
			r.dispatch(fd, ev)
		}
		if stop {
			r.logger.Info("shutdown requested, event loop stopped")
			return nil
		}
	}
}

// Close 释放 epoll 实例与取消描述符，不关闭已注册的 fd。
// 事件循环运行中调用返回 ErrRunning。
func (r *Reactor) Close() error {
	if state(r.state.Load()) == stateRunning {
		return ErrRunning
	}
	if r.closed {
		return nil
	}
	r.closed = true
	r.table = make(map[int]*entry)
	err1 := unix.Close(r.efd)
	err2 := unix.Close(r.epfd)
	if err1 != nil {
		return errors.Wrap(err1, "reactor: close eventfd")
	}
	return errors.Wrap(err2, "reactor: close epoll")
}

func (r *Reactor) drainShutdown() error {
	for {
		_, err := unix.Read(r.efd, r.efdBuf[:])
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reactor: read eventfd")
		}
	}
}

func (r *Reactor) dispatch(fd int, ev unix.EpollEvent) {
	e, ok := r.table[fd]
	if !ok || e.gen != ev.Pad {
		// 同一批次内已被注销或 fd 已被复用
		r.logger.WithFields(logrus.Fields{"fd": fd, "events": Events(ev.Events)}).Debug("stale event dropped")
		return
	}
	r.invoke(fd, Events(ev.Events), e.h)
}

func (r *Reactor) invoke(fd int, ev Events, h Handler) {
	defer func() {
		if p := recover(); p != nil {
			err := errors.Errorf("handler panic: %v", p)
			r.logger.WithFields(logrus.Fields{
				"fd":    fd,
				"panic": p,
				"stack": string(debug.Stack()),
			}).Error("handler panicked")
			r.fail(fd, err)
		}
	}()
	if err := h(fd, ev); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"fd": fd, "events": ev}).Error("handler failed")
		r.fail(fd, err)
	}
}

func (r *Reactor) fail(fd int, err error) {
	if r.opts.hook != nil {
		r.opts.hook(fd, err)
	}
}
