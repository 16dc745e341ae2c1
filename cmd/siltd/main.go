// Command siltd serves spec.md §6's HTTP resource surface over
// repositories rooted under SYNC_DIR, the one environment variable
// this binary reads.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/siltdata/silt/internal/httpapi"
)

const defaultAddr = ":8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "siltd:", err)
		os.Exit(1)
	}
}

func run() error {
	syncDir := os.Getenv("SYNC_DIR")
	if syncDir == "" {
		return errors.New("SYNC_DIR environment variable is required")
	}
	if err := os.MkdirAll(syncDir, 0o755); err != nil {
		return fmt.Errorf("creating SYNC_DIR %s: %w", syncDir, err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := httpapi.NewRegistry(syncDir, logger)
	defer registry.Close()

	router := httpapi.NewRouter(registry, logger)

	logger.Info("starting siltd", zap.String("addr", defaultAddr), zap.String("sync_dir", syncDir))
	return http.ListenAndServe(defaultAddr, router)
}
