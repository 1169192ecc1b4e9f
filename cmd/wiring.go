package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/db"
	"github.com/sells-group/charity-directory/internal/fetcher"
	"github.com/sells-group/charity-directory/internal/importer"
	"github.com/sells-group/charity-directory/internal/organisation"
	"github.com/sells-group/charity-directory/internal/store"
	"github.com/sells-group/charity-directory/pkg/geocode"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st = store.NewPostgres(pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initGeocoder returns nil when geocoding is disabled.
func initGeocoder(st store.Store) geocode.Client {
	if !cfg.Geocode.Enabled {
		return nil
	}
	opts := []geocode.Option{
		geocode.WithPostcodesBaseURL(cfg.Geocode.PostcodesBaseURL),
		geocode.WithCountry(cfg.Geocode.Country),
		geocode.WithBatchConcurrency(cfg.Geocode.Concurrency),
	}
	if cfg.Geocode.RateLimit > 0 {
		opts = append(opts, geocode.WithRateLimit(cfg.Geocode.RateLimit))
	}
	if cfg.Geocode.GoogleKey != "" {
		opts = append(opts, geocode.WithGoogleAPIKey(cfg.Geocode.GoogleKey))
	}
	if cfg.Geocode.CacheEnabled {
		if pg, ok := st.(*store.PostgresStore); ok {
			opts = append(opts, geocode.WithCache(geocode.NewPoolCache(pg.Pool(), cfg.Geocode.CacheTTLDays)))
		} else {
			zap.L().Warn("geocode cache needs the postgres store, continuing without it")
		}
	}
	return geocode.NewClient(opts...)
}

func initService(ctx context.Context) (*organisation.Service, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	return organisation.NewService(st, initGeocoder(st)), nil
}

func initOpener() *fetcher.Opener {
	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	return fetcher.NewOpener(fetcher.OpenerOptions{
		TempDir: cfg.Import.TempDir,
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   timeout,
		}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
	})
}

func initImporter(ctx context.Context) (*importer.Importer, store.Store, error) {
	svc, err := initService(ctx)
	if err != nil {
		return nil, nil, err
	}
	return importer.New(svc, initOpener()), svc.Store(), nil
}
