package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/Strob0t/flowboard/internal/adapter/boardfile"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/database"
	"github.com/Strob0t/flowboard/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "boards":
		return runAdminBoards(args[1:])
	case "snapshots":
		return runAdminSnapshots(args[1:])
	case "recompute":
		return runAdminRecompute(args[1:])
	case "sync-catalog":
		return runAdminSyncCatalog(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: flowboard admin <command> [options]

Commands:
  boards           List boards and their columns
  snapshots        List stored daily snapshots of a board
  recompute        Recompute a board's snapshot for a date and every later one
  sync-catalog     Load the board catalog file into storage
  migrate-status   Show the schema migration version
  help             Show this help message

Examples:
  flowboard admin boards
  flowboard admin snapshots --board team-a --limit 14
  flowboard admin recompute --board team-a --date 2024-03-01
  flowboard admin sync-catalog --path boards.yaml
`)
}

type adminDeps struct {
	cfg     *config.Config
	store   database.Store
	cleanup func()
}

func loadAdminDeps(ctx context.Context, configPath string) (*adminDeps, error) {
	var flags config.CLIFlags
	if configPath != "" {
		flags.ConfigPath = &configPath
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &adminDeps{cfg: cfg, store: store, cleanup: cleanup}, nil
}

func runAdminBoards(args []string) error {
	fs := flag.NewFlagSet("boards", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	boards, err := deps.store.ListBoards(ctx)
	if err != nil {
		return fmt.Errorf("list boards: %w", err)
	}
	if len(boards) == 0 {
		fmt.Println("No boards found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BOARD\tTIMEZONE\tCOLUMN\tWIP_LIMIT\tTERMINAL")
	for i := range boards {
		cols, err := deps.store.ListColumns(ctx, boards[i].ID)
		if err != nil {
			return fmt.Errorf("list columns %s: %w", boards[i].ID, err)
		}
		for _, c := range cols {
			limit := "-"
			if c.WIPLimit != nil {
				limit = strconv.Itoa(*c.WIPLimit)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", boards[i].ID, boards[i].Timezone, c.ID, limit, c.IsTerminal)
		}
	}
	return w.Flush()
}

func runAdminSnapshots(args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	boardID := fs.String("board", "", "board id (required)")
	limit := fs.Int("limit", 30, "number of most recent snapshots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boardID == "" {
		return fmt.Errorf("--board is required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	snaps, err := deps.store.ListSnapshots(ctx, *boardID, *limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tCOMPLETED\tWIP\tLEAD_H\tCYCLE_H\tFINGERPRINT")
	for i := range snaps {
		s := &snaps[i]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Date, s.CardsCompleted, s.TotalWIP, hours(s.AvgLeadTimeHours), hours(s.AvgCycleTimeHours), s.Fingerprint)
	}
	return w.Flush()
}

func hours(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func runAdminRecompute(args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	boardID := fs.String("board", "", "board id (required)")
	date := fs.String("date", "", "first date to recompute, YYYY-MM-DD (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *boardID == "" {
		return fmt.Errorf("--board is required")
	}
	from, err := flow.ParseDate(*date)
	if err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	agg := service.NewAggregatorService(deps.store, nil, nil, nil, deps.cfg.Aggregator)
	_, changed, err := agg.Recompute(ctx, *boardID, from)
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Recomputed %s from %s: %d snapshot(s) changed\n", *boardID, from, changed)
	return nil
}

func runAdminSyncCatalog(args []string) error {
	fs := flag.NewFlagSet("sync-catalog", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	path := fs.String("path", "", "catalog file (defaults to catalog.path from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	catalogPath := deps.cfg.Catalog.Path
	if *path != "" {
		catalogPath = *path
	}
	defs, err := boardfile.Load(catalogPath)
	if err != nil {
		return err
	}
	if err := service.NewCatalogService(deps.store).Sync(ctx, defs); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Synced %d board(s) from %s\n", len(defs), catalogPath)
	return nil
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx, *configPath)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	v, err := migrationVersion(ctx, deps.cfg, deps.store)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Printf("%s schema version: %d\n", deps.cfg.Storage.Driver, v)
	return nil
}
