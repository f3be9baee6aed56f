// Command accessctl triggers and inspects access background jobs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/cmd/accessctl/cli"
	"github.com/odyssey-erp/odyssey-access/internal/app"
)

const usage = `usage:
  accessctl trigger access:warmup (-role ID | -user ID)
  accessctl inspect
  accessctl scheduled [-size N]`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%s", usage)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("%s", usage)
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		roleID := fs.Int64("role", 0, "role id whose members are warmed")
		userID := fs.Int64("user", 0, "user id to warm")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := jobsCLI.Trigger(ctx, args[1], cli.TriggerOptions{RoleID: *roleID, UserID: *userID})
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type})
	case "inspect":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, stats)
	case "scheduled":
		fs := flag.NewFlagSet("scheduled", flag.ContinueOnError)
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			return err
		}
		rows := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, map[string]any{"id": t.ID, "type": t.Type, "next_process_at": t.NextProcessAt})
		}
		return writeJSON(out, rows)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
