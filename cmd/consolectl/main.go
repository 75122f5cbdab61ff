package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/retail-console/cmd/odyssey/cli"
	"github.com/odyssey-erp/retail-console/internal/app"
)

const usage = `usage: consolectl [--json] <command>

commands:
  audit-purge [--days N]   enqueue an audit purge (defaults to AUDIT_RETENTION_DAYS)
  queues                   print queue metrics, exit 10 when retries are pending
`

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	global := flag.NewFlagSet("consolectl", flag.ContinueOnError)
	jsonOutput := global.Bool("json", false, "print JSON")
	global.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()
	opts := cli.CommandOptions{JSONOutput: *jsonOutput}

	switch global.Arg(0) {
	case "audit-purge":
		fs := flag.NewFlagSet("audit-purge", flag.ContinueOnError)
		days := fs.Int("days", cfg.AuditRetentionDays, "days of audit history to keep")
		if err := fs.Parse(global.Args()[1:]); err != nil {
			return 2
		}
		return jobsCLI.PurgeCommand(ctx, *days, opts)
	case "queues":
		return jobsCLI.QueuesCommand(ctx, opts)
	default:
		global.Usage()
		return 2
	}
}
