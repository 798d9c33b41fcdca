package storage

import (
	"context"
	"fmt"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/ports"
)

// Store bundles both repositories behind one connection.
type Store interface {
	ports.SubscriptionRepository
	ports.RunRepository
	Close(ctx context.Context) error
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
		store, err := OpenSQL(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMongo:
		store, err := OpenMongo(ctx, cfg.DSN, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
