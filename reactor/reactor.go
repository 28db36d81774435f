//go:build linux

// Package reactor 实现单线程的就绪通知事件循环。
//
// Reactor 持有一个 epoll 实例、一张 fd → Handler 的回调表，以及一个用于
// 协作式取消的 eventfd。除取消描述符外，所有注册的 fd 都以边沿触发方式监听：
// Handler 必须在返回前把 fd 读/写到 EAGAIN，否则剩余数据不会再次通知。
//
// 除 Shutdown 外的所有方法都只能在运行 Run 的 goroutine 中调用
// （或在 Run 之前/之后调用）。
package reactor

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/legamerdc/nio/internal/log"
)

var (
	// ErrAlreadyRegistered fd 已在回调表或 epoll 实例中
	ErrAlreadyRegistered = errors.New("reactor: fd already registered")
	// ErrNotRegistered fd 不在回调表中
	ErrNotRegistered = errors.New("reactor: fd not registered")
	// ErrRunOnce Run 每个实例只能调用一次
	ErrRunOnce    = errors.New("reactor: run called more than once")
	ErrRunning    = errors.New("reactor: loop is running")
	ErrNilHandler = errors.New("reactor: nil handler")
	ErrClosed     = errors.New("reactor: closed")
)

// Handler 在 poller goroutine 中被调用，要求无阻塞返回。
// 返回的 error 或 panic 会在分发边界被记录，不影响事件循环。
type Handler func(fd int, ev Events) error

// ErrorHook 在 Handler 返回错误或 panic 后调用
type ErrorHook func(fd int, err error)

type state int32

const (
	stateInitialized state = iota
	stateRunning
	stateStopped
)

type options struct {
	logger    logrus.FieldLogger
	maxEvents int
	hook      ErrorHook
}

type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxEvents 设置单次 epoll_wait 的批量大小
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

func WithErrorHook(h ErrorHook) Option {
	return func(o *options) { o.hook = h }
}

func defaultOptions() options {
	return options{
		logger:    log.NewLogger("reactor"),
		maxEvents: 128,
	}
}

// String 以 "IN|OUT|ET" 形式输出事件位
func (e Events) String() string {
	if e == 0 {
		return "0"
	}
	var parts []string
	for _, n := range eventNames {
		if e&n.ev != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
