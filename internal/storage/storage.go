// Package storage opens the snapshot sink named by a config.Config.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pocketdb/internal/config"
	"pocketdb/internal/infra/snapshot/badger"
	"pocketdb/internal/infra/snapshot/file"
	"pocketdb/internal/infra/snapshot/memory"
	"pocketdb/internal/infra/snapshot/postgres"
	"pocketdb/internal/infra/snapshot/s3"
	"pocketdb/internal/infra/snapshot/sqlite"
	"pocketdb/internal/snapshot"
)

// OpenSink selects a backend from cfg. Sinks holding connections or file
// handles also implement io.Closer; the workspace closes them on Close.
//
//	file:     cfg.Path (default ./pocketdb.snapshot)
//	memory:   no settings
//	sqlite:   cfg.Path (default ./pocketdb.db)
//	postgres: cfg.DSN
//	s3:       cfg.S3 plus the default AWS credential chain
//	badger:   cfg.Path (default ./pocketdb.badger)
func OpenSink(ctx context.Context, cfg config.Config, log *zap.Logger) (snapshot.Sink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = snapshot.DriverFile
	}
	log.Debug("opening snapshot sink", zap.String("driver", string(driver)))
	switch driver {
	case snapshot.DriverFile:
		return file.New(cfg.Path)
	case snapshot.DriverMemory:
		return memory.New(), nil
	case snapshot.DriverSQLite:
		return sqlite.New(ctx, cfg.Path)
	case snapshot.DriverPostgres:
		return postgres.New(ctx, cfg.DSN)
	case snapshot.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Key:       cfg.S3.Key,
			PathStyle: cfg.S3.PathStyle,
		})
	case snapshot.DriverBadger:
		bc := badger.DefaultConfig(cfg.Path)
		bc.Logger = log
		return badger.New(bc)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %s", driver)
	}
}

// OpenFromEnv loads the configuration from the environment and opens its sink.
func OpenFromEnv(ctx context.Context, log *zap.Logger) (snapshot.Sink, config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, config.Config{}, err
	}
	sink, err := OpenSink(ctx, cfg, log)
	if err != nil {
		return nil, config.Config{}, err
	}
	return sink, cfg, nil
}
