package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devsight/devsight/internal/agent"
	"github.com/devsight/devsight/internal/config"
	"github.com/devsight/devsight/internal/logging"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	record := flag.String("record", "", "record one observation with the given description and exit")
	kind := flag.String("kind", "", "activity kind for -record (classified from the description when empty)")
	syncNow := flag.Bool("sync", false, "run one sync pass and exit")
	status := flag.Bool("status", false, "print agent status and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("devsight-agent", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadAgent(ctx)
	if err != nil {
		fatal(err)
	}
	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}

	a, err := agent.Open(ctx, logger, cfg)
	if err != nil {
		fatal(err)
	}
	defer func() {
		_ = a.Close()
	}()

	switch {
	case *record != "":
		id, err := a.Record(ctx, *record, *kind)
		if err != nil {
			fatal(err)
		}
		fmt.Println(id)
	case *syncNow:
		res, err := a.SyncOnce(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("delivered=%d failed=%d\n", res.Delivered, res.Failed)
	case *status:
		out, err := json.MarshalIndent(a.Status(ctx), "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(out))
	default:
		// Long-running mode: periodic sync until signalled. Capture is an
		// external collaborator feeding Record through this process.
		a.StartSync()
		<-ctx.Done()
		logger.Info("shutting down")
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "devsight-agent:", err)
	os.Exit(1)
}
