package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/account_monitor/internal/infrastructure/storage"
)

// Prints the persisted ledger state for a quick look at a live database.
func main() {
	dbPath := flag.String("db", "account_monitor.db", "path to ledger database")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	state, err := store.LoadState(ctx)
	if err != nil {
		fmt.Printf("Failed to load state: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Positions (%d) ===\n", len(state.Positions))
	for symbol, pos := range state.Positions {
		fmt.Printf("%-12s qty=%s entry=%s realized=%s fees=%s trades=%d\n",
			symbol, pos.Quantity, pos.EntryPrice, pos.RealizedPnL, pos.TotalFees, len(pos.Trades))
	}

	fmt.Printf("\n=== Balances (%d) ===\n", len(state.Balances))
	for asset, bal := range state.Balances {
		fmt.Printf("%-8s free=%s locked=%s total=%s\n", asset, bal.Free, bal.Locked, bal.Total)
	}

	alerts, err := store.ListAlerts(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list alerts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n=== Recent alerts (%d) ===\n", len(alerts))
	for _, a := range alerts {
		fmt.Printf("%s [%s/%s] %s: %s\n",
			a.Timestamp.Format("2006-01-02 15:04:05"), a.Type, a.Severity, a.SubjectKey, a.Message)
	}

	drifts, err := store.ListDrifts(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list drifts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n=== Recent drifts (%d) ===\n", len(drifts))
	for _, d := range drifts {
		fmt.Printf("%s %s/%s local=%s external=%s drift=%s corrected=%v\n",
			d.Timestamp.Format("2006-01-02 15:04:05"), d.Kind, d.Key,
			d.LocalValue, d.ExternalValue, d.Drift, d.Corrected)
	}
}
