// avlsim 模拟 AVL 终端：TCP/UDP 上报遥测并应答 Codec12 指令
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/logging"
)

func main() {
	var cfg Config
	var logLevel string
	pflag.StringVarP(&cfg.Addr, "addr", "a", "127.0.0.1:5027", "gateway address")
	pflag.StringVar(&cfg.IMEI, "imei", "356307042441013", "device IMEI")
	pflag.StringVarP(&cfg.Transport, "transport", "t", "tcp", "tcp | udp")
	pflag.StringVar(&cfg.Codec, "codec", "8e", "telemetry codec: 8 | 8e | 16")
	pflag.IntVarP(&cfg.Frames, "frames", "n", 10, "frames (or datagrams) to send, 0 = until interrupted")
	pflag.IntVarP(&cfg.Records, "records", "r", 1, "records per frame")
	pflag.DurationVarP(&cfg.Interval, "interval", "i", time.Second, "delay between frames")
	pflag.DurationVar(&cfg.CommandWait, "command-wait", 200*time.Millisecond, "how long to wait for a command after each ack (tcp)")
	pflag.StringSliceVar(&cfg.Reject, "reject", nil, "commands answered with not-executed")
	pflag.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "dial and ack timeout")
	pflag.StringVar(&logLevel, "log-level", "info", "debug | info | warn | error")
	pflag.Parse()

	logger := logging.New(cfgpkg.LoggingConfig{Level: logLevel, Format: "console"}, os.Stderr)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := New(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "avlsim:", err)
		os.Exit(2)
	}
	stats, err := sim.Run(ctx)
	logger.Info("simulation finished",
		zap.Int("frames", stats.Frames),
		zap.Int("records", stats.Records),
		zap.Int("commands", stats.Commands))
	if err != nil && ctx.Err() == nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}
