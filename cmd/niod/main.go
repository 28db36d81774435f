package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/legamerdc/nio"
	"github.com/legamerdc/nio/transform"
)

func main() {
	if err := newCommand(nio.Serve).Execute(); err != nil {
		logrus.Fatal(err)
	}
}

type serveFunc func(ctx context.Context, cfg nio.Config, opts ...nio.ServeOption) error

func newCommand(serve serveFunc) *cobra.Command {
	cfg := nio.DefaultConfig()

	command := &cobra.Command{
		Use:           "niod [port]",
		Short:         "single-threaded epoll TCP server that echoes transformed input",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	command.Flags().IntVar(&cfg.HighWatermark, "high-watermark", cfg.HighWatermark, "Pause reads once a connection's output queue reaches this many bytes.")
	command.Flags().IntVar(&cfg.LowWatermark, "low-watermark", cfg.LowWatermark, "Resume reads once the output queue drops below this many bytes.")
	command.Flags().IntVar(&cfg.ReadBufferSize, "read-buffer", cfg.ReadBufferSize, "Bytes requested per read call.")
	command.Flags().IntVar(&cfg.MaxEvents, "max-events", cfg.MaxEvents, "Readiness events fetched per wait.")
	command.Flags().StringVar(&cfg.Transform, "transform", cfg.Transform, "Byte transform applied to input: "+strings.Join(transform.Names(), ", "))
	command.Flags().StringVar(&cfg.MetricsAddress, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090.")
	command.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error).")
	return command
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 0xFFFF {
		return 0, errors.Wrapf(nio.ErrInvalidArgument, "invalid port %q", s)
	}
	return port, nil
}
