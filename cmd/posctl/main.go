// Command posctl inspects and repairs a terminal's local data outside the
// running server: the pending sales queue and the cached stock ledger.
package main

import (
	"log/slog"
	"os"

	"tiendapos/backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := newRootCmd(newApp(cfg, logger)).Execute(); err != nil {
		os.Exit(1)
	}
}
