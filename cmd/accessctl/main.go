package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-access/cmd/accessctl/cli"
	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/app"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
)

const usage = `usage: accessctl <command> [flags]

commands:
  explain     resolve a user's roles, permissions and menus from the database
  invalidate  enqueue a cache invalidation for a user, a role or everything
  queue       show the access queue state
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	switch args[0] {
	case "explain":
		return explain(ctx, cfg, args[1:], stdout, stderr)
	case "invalidate":
		return invalidate(ctx, cfg, args[1:], stdout, stderr)
	case "queue":
		return queue(ctx, cfg, stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 1
	}
}

func explain(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.ExplainOptions{Stdout: stdout, Stderr: stderr}
	fs.Int64Var(&opts.UserID, "user", 0, "user id")
	fs.StringVar(&opts.Resource, "resource", "", "resource to check")
	fs.StringVar(&opts.Action, "action", "", "action to check")
	fs.StringVar(&opts.Module, "module", "", "restrict output to a module")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	helper, err := cli.NewExplainCLI(access.NewRepository(pool))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return helper.ExplainCommand(ctx, opts)
}

func invalidate(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var target cli.InvalidateTarget
	fs.Int64Var(&target.UserID, "user", 0, "user id")
	fs.Int64Var(&target.RoleID, "role", 0, "role id")
	fs.BoolVar(&target.All, "all", false, "purge every cached entry")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	info, err := jobsCLI.Trigger(ctx, target)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	return 0
}

func queue(ctx context.Context, cfg *app.Config, stdout, stderr io.Writer) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "inspect queue: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	scheduled, err := jobsCLI.ListScheduled(ctx, 10)
	if err != nil {
		fmt.Fprintf(stderr, "list scheduled: %v\n", err)
		return 1
	}
	for _, task := range scheduled {
		fmt.Fprintf(stdout, "  %s %s at %s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return 0
}
