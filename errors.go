package nio

import "github.com/pkg/errors"

var (
	// ErrPlatformNotSupported 非 Linux 平台（需要 epoll/eventfd/accept4）
	ErrPlatformNotSupported = errors.New("nio: platform not supported (requires Linux/epoll)")

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("nio: invalid argument")
)
