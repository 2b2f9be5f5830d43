package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/citycard-gateway/internal/config"
	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/storage/filestore"
	"github.com/jrsteele09/citycard-gateway/storage/memstore"
	"github.com/jrsteele09/citycard-gateway/storage/redisstore"
)

// OpenStore opens the session storage selected by the configured driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.GetStorageDriver() {
	case config.StorageMemory:
		return memstore.New(), nil
	case config.StorageFile, "":
		return filestore.New(cfg.GetStoragePath(), filestore.WithLogger(logger))
	case config.StorageRedis:
		return redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Key:      cfg.GetRedisKeyPrefix(),
		}, logger)
	default:
		return nil, fmt.Errorf("[gateway.OpenStore] unknown storage driver %q", cfg.GetStorageDriver())
	}
}
