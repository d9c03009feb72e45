package main

import (
	"context"
	"fmt"

	"github.com/funktionslust/goingest"
	"github.com/funktionslust/goingest/catalog"
	"github.com/funktionslust/goingest/config"
	"github.com/funktionslust/goingest/metrics"
	"github.com/funktionslust/goingest/prober"
	"github.com/funktionslust/goingest/remote"
	"github.com/funktionslust/goingest/tracker"

	"github.com/aws/aws-sdk-go/aws"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	bus     *goingest.Bus
	metrics *metrics.PrometheusTracker
}

// newApp builds the logger, the bus and the metrics of the configuration. The metrics endpoint
// is served until the context is done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := cfg.Log.Logger()
	if err != nil {
		return nil, fmt.Errorf("failed to build the logger: %v", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  log.With(zap.String("process_id", cfg.ProcessID)),
		bus:     goingest.NewBus(),
		metrics: metrics.NewPrometheusTracker(metrics.WithLogger(log)),
	}
	a.bus.Subscribe(newProgressLogger(a.logger))
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				a.logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}
	return a, nil
}

// scan finds the import units under the paths.
func (a *app) scan(ctx context.Context, paths []string) *goingest.ScanResult {
	p := prober.New(prober.WithLogger(a.logger.With(zap.String("context", "prober"))))
	s := goingest.NewScanner(p,
		goingest.ScannerWithLogger(a.logger.With(zap.String("context", "scanner"))),
		goingest.ScannerWithBus(a.bus),
		goingest.ScannerWithMetricsTracker(a.metrics),
	)
	return s.Scan(ctx, paths, a.cfg.Scan.MaxDepth)
}

// repository returns the configured remote repository. A dry run always imports into memory.
func (a *app) repository(dryRun bool) goingest.Repository {
	if dryRun || a.cfg.Repository.Kind == "memory" {
		return remote.NewMemoryRepository(remote.MemoryWithBlockSize(a.cfg.Repository.BlockSize))
	}
	s3cfg := a.cfg.Repository.S3
	awsCfg := aws.NewConfig()
	if s3cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(s3cfg.Region)
	}
	if s3cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(s3cfg.Endpoint)
	}
	awsCfg = awsCfg.WithS3ForcePathStyle(s3cfg.ForcePathStyle)
	return remote.NewS3Repository(remote.S3RepositoryConfig{
		AwsCfg:        awsCfg,
		Bucket:        s3cfg.Bucket,
		Prefix:        s3cfg.Prefix,
		BlockSize:     a.cfg.Repository.BlockSize,
		PartSize:      s3cfg.PartSize,
		CreateTargets: s3cfg.CreateTargets,
	})
}

// tracker returns the configured tracker or nil if the batches aren't tracked.
func (a *app) tracker() goingest.Tracker {
	gormCfg := tracker.GORMTrackerConfig{
		Logger:         logger.Default.LogMode(logger.Silent),
		CleanupOnStart: a.cfg.Tracker.CleanupOnStart,
	}
	switch a.cfg.Tracker.Kind {
	case "sqlite":
		return tracker.NewSQLiteTracker(a.cfg.Tracker.SQLitePath, gormCfg)
	case "mysql":
		m := a.cfg.Tracker.MySQL
		return tracker.NewMySQLTracker(tracker.MySQLConfig{
			Host:     m.Host,
			Port:     m.Port,
			Database: m.Database,
			User:     m.User,
			Password: m.Password,
		}, gormCfg)
	}
	return nil
}

// catalog returns the prepared import catalog subscribed to the bus, or nil if it's disabled.
func (a *app) catalog(ctx context.Context) (*catalog.ElasticsearchCatalog, error) {
	if !a.cfg.Catalog.Enabled {
		return nil, nil
	}
	c := catalog.NewElasticsearchCatalog(catalog.ElasticsearchCatalogConfig{
		ServerURL:   a.cfg.Catalog.ServerURL,
		Index:       a.cfg.Catalog.Index,
		IndicesPath: a.cfg.Catalog.IndicesPath,
		FlushSize:   a.cfg.Catalog.FlushSize,
	})
	if err := goingest.InitStorage(ctx, c, a.cfg.ProcessID, a.logger.With(zap.String("context", "catalog"))); err != nil {
		return nil, fmt.Errorf("failed to set up the catalog: %v", err)
	}
	a.bus.Subscribe(c)
	return c, nil
}
