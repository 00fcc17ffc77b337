package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/adapters/memory"
	"github.com/xancrypt/xancrypt/adapters/postgres"
	xredis "github.com/xancrypt/xancrypt/adapters/redis"
	"github.com/xancrypt/xancrypt/adapters/sqlite"
	"github.com/xancrypt/xancrypt/config"
	"github.com/xancrypt/xancrypt/ports"
)

// Stores groups the ledger and history backends selected by configuration.
type Stores struct {
	Ledger  ports.LedgerStore
	History ports.HistoryStore

	closers []func() error
}

// OpenStores connects to the configured backend and runs its migrations.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.MigrateContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		s.Ledger = sqlite.NewLedgerStore(db)
		s.History = sqlite.NewHistoryStore(db)
		s.closers = append(s.closers, db.Close)

	case config.DriverPostgres:
		version, err := postgres.Migrate(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Debug().Uint("schema_version", version).Msg("postgres schema ready")
		s.Ledger = postgres.NewLedgerStore(pool)
		s.History = postgres.NewHistoryStore(pool)
		s.closers = append(s.closers, func() error {
			pool.Close()
			return nil
		})

	case config.DriverRedis:
		client, err := xredis.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		var opts []xredis.Option
		if cfg.RedisPrefix != "" {
			opts = append(opts, xredis.WithPrefix(cfg.RedisPrefix))
		}
		s.Ledger = xredis.NewLedgerStore(client, opts...)
		s.History = xredis.NewHistoryStore(client, opts...)
		s.closers = append(s.closers, client.Close)

	case config.DriverMemory:
		logger.Warn().Msg("memory storage selected; usage is lost on restart")
		s.Ledger = memory.NewLedgerStore()
		s.History = memory.NewHistoryStore()

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("storage ready")
	return s, nil
}

// Close releases every backend connection.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
