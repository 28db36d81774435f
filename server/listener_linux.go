//go:build linux

package server

import (
	"github.com/legamerdc/nio/socket"
)

// openListener 创建非阻塞监听套接字：SO_REUSEADDR，绑定 INADDR_ANY:port
func openListener(port int) (*socket.Socket, error) {
	s, err := socket.New()
	if err != nil {
		return nil, err
	}
	steps := []func() error{
		s.SetReuseAddr,
		func() error { return s.Bind(port) },
		s.Listen,
		// accept 循环依赖非阻塞监听 fd 才能在 EAGAIN 处停下
		s.SetNonblock,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}
