package store

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/jiangjiechen/auction-arena/config"
)

// OpenArchive picks the archive backend from the storage config:
// Postgres when configured, then Redis, then the file fallback.
func OpenArchive(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (Archive, error) {
	if cfg.Postgres.Configured() {
		dsn, err := cfg.Postgres.DSN()
		if err != nil {
			return nil, err
		}
		st, err := Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres archive: %w", err)
		}
		logger.Printf("[STORE] using postgres archive (%s)", cfg.Postgres.Host)
		return st, nil
	}
	if cfg.Redis.Configured() {
		port := cfg.Redis.Port
		if port == "" {
			port = "6379"
		}
		addr := net.JoinHostPort(cfg.Redis.Host, port)
		arc, err := NewRedisArchive(ctx, addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis archive: %w", err)
		}
		logger.Printf("[STORE] using redis archive (%s)", addr)
		return arc, nil
	}
	arc, err := NewFileArchive(cfg.File.LogDir)
	if err != nil {
		return nil, err
	}
	logger.Printf("[STORE] using file archive (%s)", cfg.File.LogDir)
	return arc, nil
}
