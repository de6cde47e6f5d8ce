package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
)

// Open builds the store selected by cfg.Store. On success the returned close
// function releases the backing connection.
func Open(ctx context.Context, cfg account.Config, logger *zap.SugaredLogger) (account.Store, func() error, error) {
	switch cfg.Store {
	case "memory":
		r, err := NewMemoryRepo(cfg.SnowflakeNode, cfg.UniqueNames)
		if err != nil {
			return nil, nil, err
		}
		logger.Warnw("using in-memory account store; data is lost on exit", "unique_names", cfg.UniqueNames)
		return r, func() error { return nil }, nil
	case "postgres", "":
		db, err := database.Connect(database.ConfigFromEnv())
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		r := NewAccountRepo(db, cfg.UniqueNames)
		if err := r.EnsureTable(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Infow("account store ready", "backend", "postgres", "unique_names", cfg.UniqueNames)
		return r, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown account store %q", cfg.Store)
}
