package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"booking-service/internal/shared/models"
	"booking-service/internal/shared/util"
)

func DSN(cfg *models.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// ConnectToDB opens a pool and waits for the database to answer a ping,
// retrying while the container is still starting.
func ConnectToDB(ctx context.Context, cfg *models.DatabaseConfig, log *util.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	backoff := util.Backoff{Attempts: 10, Initial: time.Second, Max: 5 * time.Second}
	err = util.Retry(ctx, backoff, func(attempt int) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			log.Warn("db", fmt.Sprintf("postgres not ready (attempt %d/%d): %v", attempt, backoff.Attempts, err))
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.OK("db", "connected to PostgreSQL")
	return pool, nil
}
