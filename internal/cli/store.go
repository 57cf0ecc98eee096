package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/cashutrack/internal/config"
	"github.com/roach88/cashutrack/internal/store"
)

// tokenStore is what the CLI needs from either store driver.
type tokenStore interface {
	LoadAll(ctx context.Context) (store.Snapshot, error)
	SaveAll(ctx context.Context, snap store.Snapshot) error
	Close() error
}

// openStore opens the token store selected by cfg.StoreDriver, creating
// its directory if needed.
func openStore(cfg config.Config) (tokenStore, error) {
	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return store.Open(cfg.StorePath)
	case config.DriverJSON:
		return store.OpenFile(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
