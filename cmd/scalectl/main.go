package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"scalelog/internal/client"
	"scalelog/internal/config"
	"scalelog/internal/db"
	"scalelog/internal/logging"
	"scalelog/internal/migrate"
	"scalelog/internal/modules/readings/repository"
)

var version = "dev"
var appName = "scalelog-scalectl"

const usage = `usage: %s <command> [args]
  migrate               apply pending schema migrations (DB_DRIVER, SQLITE_PATH, DATABASE_URL)
  ingest <value> [at]   post a reading; at is RFC3339
  trigger               ask the server to read the device
  latest                print the latest reading
  summary [YYYY-MM-DD]  print one day (default today)
  summary-all           print every day
  chart                 print the chart series
server address: SCALELOG_URL (default http://localhost:8080)
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	if cmd == "migrate" {
		return runMigrate(ctx)
	}

	baseURL := os.Getenv("SCALELOG_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL, 30*time.Second)

	switch cmd {
	case "ingest":
		if len(args) < 1 {
			return fmt.Errorf("missing value")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[0], err)
		}
		var at time.Time
		if len(args) > 1 {
			at, err = time.Parse(time.RFC3339, args[1])
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[1], err)
			}
		}
		return printResult(c.Ingest(ctx, v, at))
	case "trigger":
		return printResult(c.Trigger(ctx))
	case "latest":
		r, err := c.Latest(ctx)
		if err == nil && r == nil {
			fmt.Println("no readings yet")
			return nil
		}
		return printResult(r, err)
	case "summary":
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		return printResult(c.Summary(ctx, date))
	case "summary-all":
		return printResult(c.SummaryAll(ctx))
	case "chart":
		return printResult(c.Chart(ctx))
	default:
		return fmt.Errorf("unknown command (run without arguments for usage)")
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.AppEnv, version, appName)

	if cfg.DBDriver == config.DriverPostgres {
		pool, err := db.OpenPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		fmt.Println("schema ensured")
		return nil
	}

	conn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	n, err := migrate.Run(conn)
	if err != nil {
		return err
	}
	fmt.Printf("%d migrations applied\n", n)
	return nil
}

func printResult(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
