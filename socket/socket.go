//go:build linux

// Package socket 提供独占所有权的套接字句柄。
//
// 一个有效的 Socket 独占一个描述符；Move 转移所有权并使源句柄失效，
// 失效句柄不持有描述符，Close 为空操作。Go 没有析构函数，
// 所有者负责在生命周期结束时调用 Close。
package socket

import (
	"fmt"
	"net"
	"strconv"

	"github.com/legamerdc/nio/internal/netutil"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// noFD 为失效句柄的哨兵值
const noFD = -1

// ResourceError 表示底层系统调用失败。
// 是否致命由调用位置决定：启动阶段致命，单连接阶段可恢复。
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return "socket: " + e.Op + ": " + e.Err.Error()
}

func (e *ResourceError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &ResourceError{Op: op, Err: err}
}

type Socket struct {
	fd int
}

// New 创建 IPv4 流式套接字
func New() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, opError("socket", err)
	}
	return &Socket{fd: fd}, nil
}

// FromFD 接管一个已打开的描述符
func FromFD(fd int) *Socket {
	if fd < 0 {
		return &Socket{fd: noFD}
	}
	return &Socket{fd: fd}
}

// FD 返回原始描述符（不转移所有权），失效句柄返回 -1
func (s *Socket) FD() int { return s.fd }

func (s *Socket) Valid() bool { return s.fd != noFD }

// Move 把描述符转移到新句柄，s 随即失效
func (s *Socket) Move() *Socket {
	n := &Socket{fd: s.fd}
	s.fd = noFD
	return n
}

func (s *Socket) SetNonblock() error {
	if err := s.check("fcntl"); err != nil {
		return err
	}
	if err := netutil.SetNonblock(s.fd, true); err != nil {
		return opError("fcntl O_NONBLOCK", err)
	}
	return nil
}

func (s *Socket) SetReuseAddr() error {
	if err := s.check("setsockopt"); err != nil {
		return err
	}
	if err := netutil.SetReuseAddr(s.fd, true); err != nil {
		return opError("setsockopt SO_REUSEADDR", err)
	}
	return nil
}

func (s *Socket) SetNoDelay() error {
	if err := s.check("setsockopt"); err != nil {
		return err
	}
	if err := netutil.SetNoDelay(s.fd, true); err != nil {
		return opError("setsockopt TCP_NODELAY", err)
	}
	return nil
}

// Bind 绑定到 INADDR_ANY:port，port 为 0 时由内核选择
func (s *Socket) Bind(port int) error {
	if err := s.check("bind"); err != nil {
		return err
	}
	if port < 0 || port > 0xFFFF {
		return opError("bind", unix.EINVAL)
	}
	if err := unix.Bind(s.fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return opError(fmt.Sprintf("bind :%d", port), err)
	}
	return nil
}

func (s *Socket) Listen() error {
	if err := s.check("listen"); err != nil {
		return err
	}
	if err := unix.Listen(s.fd, unix.SOMAXCONN); err != nil {
		return opError("listen", err)
	}
	return nil
}

// Port 查询已绑定端口；失效句柄返回 0
func (s *Socket) Port() (int, error) {
	if !s.Valid() {
		return 0, nil
	}
	port, err := netutil.LocalPort(s.fd)
	if err != nil {
		return 0, opError("getsockname", err)
	}
	return port, nil
}

// Accept 取出一个待处理连接，新描述符已是非阻塞。
// 无待处理连接时返回包装了 EAGAIN 的 ResourceError。
func (s *Socket) Accept() (*Socket, unix.Sockaddr, error) {
	if err := s.check("accept"); err != nil {
		return nil, nil, err
	}
	fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, nil, opError("accept", err)
	}
	return &Socket{fd: fd}, sa, nil
}

// Close 释放描述符，重复调用安全
func (s *Socket) Close() error {
	if !s.Valid() {
		return nil
	}
	fd := s.fd
	s.fd = noFD
	if err := unix.Close(fd); err != nil {
		return opError("close", err)
	}
	return nil
}

func (s *Socket) check(op string) error {
	if !s.Valid() {
		return opError(op, unix.EBADF)
	}
	return nil
}

// IsWouldBlock 判断错误是否为暂时性的 EAGAIN/EWOULDBLOCK
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// FormatAddr 将对端地址格式化为 host:port
func FormatAddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return "unknown"
}
