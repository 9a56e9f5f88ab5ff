package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/lock"
	"github.com/mmdatafocus/fees_backend/reconcile"
	"github.com/mmdatafocus/fees_backend/store/gormstore"
	"github.com/mmdatafocus/fees_backend/utils"
)

func main() {
	schoolID := flag.String("school-id", "", "School to reconcile (required).")
	accountID := flag.String("account-id", "", "Optional: reconcile only this fee account.")
	dryRun := flag.Bool("dry-run", false, "Compute and print the repairs without writing anything.")
	synthesize := flag.Bool("synthesize-legacy", false, "Insert system-backfill payments for installments paid before the ledger existed.")
	flag.Parse()

	if strings.TrimSpace(*schoolID) == "" {
		fmt.Fprintln(os.Stderr, "-school-id is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadLedgerSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "settings: %v\n", err)
		os.Exit(1)
	}
	loc, _ := settings.Location()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry(ctx)
	if config.GetRedisLock() == nil {
		fmt.Fprintln(os.Stderr, "redis not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	ctx = utils.SetUsernameInContext(ctx, "FeeReconcileCLI")
	ctx = utils.SetCorrelationIdInContext(ctx, "cli-"+uuid.NewString())

	locker := lock.NewRedisLocker(config.GetRedisLock(), settings.LockTTL(), settings.LockWait(), logger)
	sweeper := reconcile.NewSweeper(gormstore.New(db), locker, logger, reconcile.SweeperOptions{
		Concurrency: settings.SweepConcurrency,
		MaxRetries:  settings.MaxRetries,
		Location:    loc,
	})
	opts := reconcile.Options{DryRun: *dryRun, SynthesizeLegacy: *synthesize}

	var out interface{}
	failed := false
	if id := strings.TrimSpace(*accountID); id != "" {
		result, err := sweeper.ReconcileAccount(ctx, *schoolID, id, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile account %s: %v\n", id, err)
			os.Exit(1)
		}
		out = result
	} else {
		report, err := sweeper.SweepSchool(ctx, *schoolID, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep school %s: %v\n", *schoolID, err)
			os.Exit(1)
		}
		failed = len(report.Failures) > 0
		out = report
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}
