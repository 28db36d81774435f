//go:build linux

package server

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/legamerdc/nio/metrics"
	"github.com/legamerdc/nio/transform"
)

const (
	DefaultPort = 8080
	// HighWatermark 发送队列达到该长度时暂停读取
	HighWatermark = 64 << 10
	// LowWatermark 发送队列低于该长度时恢复读取
	LowWatermark   = 32 << 10
	ReadBufferSize = 4096
	MaxEvents      = 128
)

var ErrInvalidConfig = errors.New("server: invalid config")

type Config struct {
	Port           int
	HighWatermark  int
	LowWatermark   int
	ReadBufferSize int
	MaxEvents      int
	// Transform 逐块作用于读到的数据，为 nil 时使用 transform.Upper
	Transform transform.Transform
}

func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		HighWatermark:  HighWatermark,
		LowWatermark:   LowWatermark,
		ReadBufferSize: ReadBufferSize,
		MaxEvents:      MaxEvents,
		Transform:      transform.Upper,
	}
}

func (c *Config) validate() error {
	switch {
	case c.Port < 0 || c.Port > 0xFFFF:
		return errors.Wrapf(ErrInvalidConfig, "port %d out of range", c.Port)
	case c.LowWatermark <= 0 || c.HighWatermark <= 0:
		return errors.Wrap(ErrInvalidConfig, "watermarks must be positive")
	case c.LowWatermark >= c.HighWatermark:
		return errors.Wrapf(ErrInvalidConfig, "low watermark %d must be below high watermark %d",
			c.LowWatermark, c.HighWatermark)
	case c.ReadBufferSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "read buffer size must be positive")
	case c.MaxEvents <= 0:
		return errors.Wrap(ErrInvalidConfig, "max events must be positive")
	}
	if c.Transform == nil {
		c.Transform = transform.Upper
	}
	return nil
}

type options struct {
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics 指定指标集合，默认使用未注册的独立集合
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
