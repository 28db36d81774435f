package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/nio"
)

func runCommand(t *testing.T, args ...string) (nio.Config, bool, error) {
	t.Helper()
	var got nio.Config
	called := false
	cmd := newCommand(func(ctx context.Context, cfg nio.Config, opts ...nio.ServeOption) error {
		called = true
		got = cfg
		return nil
	})
	cmd.SetArgs(append([]string{}, args...))
	err := cmd.ExecuteContext(context.Background())
	return got, called, err
}

func TestDefaultPort(t *testing.T) {
	cfg, called, err := runCommand(t)
	require.NoError(t, err)
	require.True(t, called)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "upper", cfg.Transform)
}

func TestPositionalPortAndFlags(t *testing.T) {
	cfg, _, err := runCommand(t, "9000", "--high-watermark", "1024", "--low-watermark", "512", "--transform", "echo")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 1024, cfg.HighWatermark)
	assert.Equal(t, 512, cfg.LowWatermark)
	assert.Equal(t, "echo", cfg.Transform)
}

func TestInvalidPort(t *testing.T) {
	for _, arg := range []string{"http", "70000", "80x", ""} {
		_, called, err := runCommand(t, arg)
		assert.True(t, errors.Is(err, nio.ErrInvalidArgument), arg)
		assert.False(t, called, arg)
	}
}

func TestTooManyArgs(t *testing.T) {
	_, called, err := runCommand(t, "1", "2")
	assert.Error(t, err)
	assert.False(t, called)
}

func TestServeErrorPropagates(t *testing.T) {
	cmd := newCommand(func(context.Context, nio.Config, ...nio.ServeOption) error {
		return errors.New("bind failed")
	})
	cmd.SetArgs([]string{})
	assert.EqualError(t, cmd.Execute(), "bind failed")
}
