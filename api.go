package nio

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/legamerdc/nio/transform"
)

// Config 为服务端配置
type Config struct {
	Port           int    // 监听端口，0 由内核分配
	HighWatermark  int    // 发送队列达到该长度时暂停读取（字节）
	LowWatermark   int    // 发送队列低于该长度时恢复读取（字节）
	ReadBufferSize int    // 单次 read 的缓冲大小
	MaxEvents      int    // 单次 epoll_wait 的批量大小
	Transform      string // 变换名，见 transform.Names
	MetricsAddress string // 非空时在该地址提供 /metrics
	LogLevel       string // logrus 级别名
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		HighWatermark:  64 << 10, // 64 KiB
		LowWatermark:   32 << 10, // 32 KiB
		ReadBufferSize: 4096,
		MaxEvents:      128,
		Transform:      "upper",
		LogLevel:       "info",
	}
}

// Validate 检查配置，错误均包装 ErrInvalidArgument
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 0xFFFF:
		return errors.Wrapf(ErrInvalidArgument, "port %d out of range", c.Port)
	case c.HighWatermark <= 0 || c.LowWatermark <= 0:
		return errors.Wrap(ErrInvalidArgument, "watermarks must be positive")
	case c.LowWatermark >= c.HighWatermark:
		return errors.Wrapf(ErrInvalidArgument, "low watermark %d must be below high watermark %d",
			c.LowWatermark, c.HighWatermark)
	case c.ReadBufferSize <= 0:
		return errors.Wrap(ErrInvalidArgument, "read buffer size must be positive")
	case c.MaxEvents <= 0:
		return errors.Wrap(ErrInvalidArgument, "max events must be positive")
	}
	if _, err := transform.Lookup(c.Transform); err != nil {
		return errors.Wrapf(ErrInvalidArgument, "transform %q", c.Transform)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalidArgument, "log level %q", c.LogLevel)
	}
	return nil
}

// Endpoints 描述启动完成后实际监听的地址
type Endpoints struct {
	Port        int
	MetricsAddr string
}

type serveOptions struct {
	ready  func(Endpoints)
	logger logrus.FieldLogger
}

type ServeOption func(*serveOptions)

// WithReady 在事件循环开始前回调实际监听地址
func WithReady(f func(Endpoints)) ServeOption {
	return func(o *serveOptions) { o.ready = f }
}

func WithLogger(l logrus.FieldLogger) ServeOption {
	return func(o *serveOptions) { o.logger = l }
}
