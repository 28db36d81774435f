//go:build !linux

package nio

import "context"

// Serve 在非 Linux 平台校验配置后返回 ErrPlatformNotSupported
func Serve(ctx context.Context, cfg Config, opts ...ServeOption) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return ErrPlatformNotSupported
}
