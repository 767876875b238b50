package governance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	evstorage "github.com/KBRglobal/travi-final-website-sub012/pkg/events/storage"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
)

// Open opens the backends named in cfg and assembles a Core on them.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Core, error) {
	ledgerBackend, err := OpenLedgerBackend(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	eventStore, err := OpenEventStore(cfg.Events)
	if err != nil {
		_ = ledgerBackend.Close()
		return nil, err
	}
	return New(ctx, cfg, Backends{Ledger: ledgerBackend, Events: eventStore}, opts)
}

// OpenLedgerBackend opens the configured budget ledger backend.
func OpenLedgerBackend(ctx context.Context, cfg config.LedgerConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackend(max(0, cfg.MaxEntries)), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		b, err := storage.NewSQLiteBackend(storage.SQLiteConfig{
			Path:               cfg.SQLite.Path,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger database: %w", err)
		}
		return b, nil
	case "redis":
		b, err := storage.NewRedisBackend(ctx, storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect ledger to redis: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}

// OpenEventStore opens the configured event log backend.
func OpenEventStore(cfg config.EventsConfig) (events.Store, error) {
	switch cfg.Backend {
	case "memory":
		return evstorage.NewMemoryStorage(), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := evstorage.NewSQLiteStorage(&evstorage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      true,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open event database: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported events backend: %s", cfg.Backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}
