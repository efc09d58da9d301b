package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devsight/devsight/internal/collector"
	"github.com/devsight/devsight/internal/config"
	"github.com/devsight/devsight/internal/logging"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("devsight-collector", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadCollector(ctx)
	if err != nil {
		fatal(err)
	}
	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}

	c, err := collector.Open(ctx, logger, cfg)
	if err != nil {
		fatal(err)
	}

	if err := c.StartServer(); err != nil {
		fatal(err)
	}
	c.StartBackground()

	status := c.ServerStatus()
	logger.Info("collector running", "addr", status.Addr, "api_key", status.APIKey)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := c.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "devsight-collector:", err)
	os.Exit(1)
}
