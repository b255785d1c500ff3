package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tiendapos/backend/internal/config"
	"tiendapos/backend/internal/inventory"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/pricing"
	pgstore "tiendapos/backend/internal/store/postgres"
	"tiendapos/backend/internal/syncqueue"
)

var errNoDatabase = errors.New("DATABASE_URL or --database-url is required")

// app holds what the commands open. Tests swap the openers for in-memory
// stores.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	openLocal  func() (localstore.Store, error)
	openRemote func(ctx context.Context) (syncqueue.Submitter, func() error, error)
}

func newApp(cfg config.Config, logger *slog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}
	a.openLocal = func() (localstore.Store, error) {
		if a.cfg.LocalDataDir == "" {
			return nil, errors.New("LOCAL_DATA_DIR or --data-dir is required")
		}
		badgerCfg := localstore.DefaultBadgerConfig(a.cfg.LocalDataDir)
		badgerCfg.GCInterval = 0
		badgerCfg.Logger = a.logger
		return localstore.OpenBadger(badgerCfg)
	}
	a.openRemote = func(ctx context.Context) (syncqueue.Submitter, func() error, error) {
		if a.cfg.DatabaseURL == "" {
			return nil, nil, errNoDatabase
		}
		pg, err := pgstore.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return a
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "posctl",
		Short:        "Inspect a POS terminal's offline data",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.cfg.LocalDataDir, "data-dir", a.cfg.LocalDataDir, "terminal local data directory")
	root.PersistentFlags().StringVar(&a.cfg.DatabaseURL, "database-url", a.cfg.DatabaseURL, "remote store connection string")

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Work with sales completed offline",
	}
	queueCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sales waiting for the remote store",
			Args:  cobra.NoArgs,
			RunE:  a.runQueueList,
		},
		&cobra.Command{
			Use:   "drain",
			Short: "Submit the pending sales to the remote store now",
			Args:  cobra.NoArgs,
			RunE:  a.runQueueDrain,
		},
	)

	var location string
	stockCmd := &cobra.Command{
		Use:   "stock [product-id]",
		Short: "Show the cached batches of a product in FEFO order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStock(cmd, args[0], location)
		},
	}
	stockCmd.Flags().StringVar(&location, "location", a.cfg.LocationID, "location to inspect")

	root.AddCommand(queueCmd, stockCmd)
	return root
}

func (a *app) runQueueList(cmd *cobra.Command, _ []string) error {
	local, err := a.openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	queue := syncqueue.New(local, nil, 0, a.logger)
	pending, err := queue.Pending(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no pending sales")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCAL ID\tCREATED\tITEMS\tTOTAL")
	for _, p := range pending {
		items := 0
		for _, line := range p.Sale.Lines {
			items += line.Quantity
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.LocalID, p.CreatedAt.Format(time.DateTime), items, pricing.Format(p.Sale.TotalCents))
	}
	return w.Flush()
}

func (a *app) runQueueDrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	local, err := a.openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	remote, closeRemote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeRemote() }()

	queue := syncqueue.New(local, remote, time.Duration(a.cfg.RemoteTimeoutSeconds)*time.Second, a.logger)
	report, err := queue.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d synced=%d failed=%d\n", report.Attempted, report.Synced, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d sales could not be submitted", report.Failed)
	}
	return nil
}

func (a *app) runStock(cmd *cobra.Command, productID string, location string) error {
	local, err := a.openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	stock := inventory.NewCache(local, a.logger)
	if err := stock.Restore(cmd.Context()); err != nil {
		return err
	}
	snapshot := stock.Snapshot()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s @ %s: %d units\n", productID, location, snapshot.TotalStock(productID, location))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tQTY\tEXPIRES\tCOST")
	for _, batch := range snapshot.Candidates(productID, location) {
		expires := "-"
		if batch.ExpirationDate != nil {
			expires = batch.ExpirationDate.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", batch.ID, batch.Quantity, expires, pricing.Format(batch.CostCents))
	}
	return w.Flush()
}
