//go:build linux

package nio

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/internal/log"
	"github.com/legamerdc/nio/metrics"
	"github.com/legamerdc/nio/server"
	"github.com/legamerdc/nio/transform"
)

// Serve 创建服务并运行事件循环，直到收到 SIGINT/SIGTERM 或 ctx 被取消。
// 停止请求只通过写取消描述符送达事件循环；正常停止返回 nil。
func Serve(ctx context.Context, cfg Config, opts ...ServeOption) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o := serveOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	srvOpts := []server.Option{}
	if o.logger == nil {
		o.logger = log.NewLogger("nio")
	} else {
		srvOpts = append(srvOpts, server.WithLogger(o.logger))
	}
	logger := o.logger

	tr, err := transform.Lookup(cfg.Transform)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		HighWatermark:  cfg.HighWatermark,
		LowWatermark:   cfg.LowWatermark,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxEvents:      cfg.MaxEvents,
		Transform:      tr,
	}, append(srvOpts, server.WithMetrics(m))...)
	if err != nil {
		return errors.Wrap(err, "nio: start server")
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.WithError(err).Warn("release server resources failed")
		}
	}()

	ep := Endpoints{Port: srv.Port()}
	if cfg.MetricsAddress != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			return errors.Wrapf(err, "nio: listen metrics on %s", cfg.MetricsAddress)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		hs := &http.Server{Handler: mux}
		go func() {
			if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("metrics endpoint stopped")
			}
		}()
		defer hs.Close()
		ep.MetricsAddr = ln.Addr().String()
		logger.WithField("addr", ep.MetricsAddr).Info("serving metrics")
	}

	// 信号处理在 reactor 创建之后安装，之前到达的信号按默认行为处理
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case sig := <-sigs:
			logger.WithField("signal", sig).Info("shutdown signal received, stopping server")
		case <-ctx.Done():
			logger.Info("context done, stopping server")
		case <-stop:
			return
		}
		if err := srv.Shutdown(); err != nil {
			logger.WithError(err).Error("write shutdown descriptor failed")
		}
	}()
	// 取消描述符在 Close 中释放，必须等上面的 goroutine 退出
	defer func() {
		close(stop)
		<-exited
	}()

	if o.ready != nil {
		o.ready(ep)
	}
	if err := srv.Serve(); err != nil {
		return errors.Wrap(err, "nio: event loop")
	}
	logger.Info("server stopped")
	return nil
}
