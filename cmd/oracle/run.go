package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphprotocol/block-oracle-go/internal/config"
	"github.com/graphprotocol/block-oracle-go/internal/telemetry"
)

func newRunCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the oracle polling loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "path to the TOML configuration file")
	cmd.MarkFlagRequired("config-file")
	return cmd
}

func runLoop(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	telemetry.SetDefault(telemetry.New(level))
	logger := telemetry.Module("cmd")

	d, err := loadDeps(cfg)
	if err != nil {
		return err
	}
	loop, metrics, err := buildLoop(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First SIGINT/SIGTERM cancels the context; the in-flight iteration runs
	// detached from that cancellation and finishes, then the loop exits. A
	// second one force-exits immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown requested, finishing in-flight iteration")
		cancel()
		<-sigCh
		logger.Warn("second signal received, exiting immediately")
		os.Exit(1)
	}()

	metricsAddr := ":" + strconv.Itoa(cfg.MetricsPort)
	go func() {
		if err := metrics.Serve(ctx, metricsAddr); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	logger.Info("starting oracle loop", "polling_interval", cfg.PollingInterval(), "metrics_addr", metricsAddr)
	return loop.Run(ctx)
}
