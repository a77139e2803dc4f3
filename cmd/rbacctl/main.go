package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-dms/odyssey-dms/cmd/odyssey/cli"
	"github.com/odyssey-dms/odyssey-dms/internal/app"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
)

const usage = `usage:
  rbacctl check -user <id> [-perm <name>]... [-module <name>] [-json]
  rbacctl enqueue reseal [table,...]
  rbacctl enqueue purge-sessions
  rbacctl queue
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch args[0] {
	case "check":
		opts, err := cli.ParseCheckArgs(args[1:], stderr)
		if err != nil {
			return 2
		}
		opts.Stdout, opts.Stderr = stdout, stderr
		codec, err := app.NewCodec(cfg, logger, nil)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "init codec: %v\n", err)
			return 1
		}
		pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "connect database: %v\n", err)
			return 1
		}
		defer pool.Close()
		engine := rbac.NewEngine(rbac.NewRepository(pool, codec), nil)
		checker, err := cli.NewRBACCLI(engine, users.NewResolver(users.NewRepository(pool, codec)))
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		return checker.CheckCommand(ctx, opts)
	case "enqueue", "queue":
		jobsCLI, err := cli.NewJobsCLI(cfg.Redis().Asynq())
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() {
			_ = jobsCLI.Close()
		}()
		if args[0] == "queue" {
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "inspect queue: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return 0
		}
		if len(args) < 2 {
			_, _ = fmt.Fprint(stderr, usage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "enqueue %s: %v\n", args[1], err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s (%s)\n", info.Type, info.ID)
		return 0
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}
