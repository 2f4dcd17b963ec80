package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/idcache"
	"github.com/amaumene/mediasync/internal/lookup"
	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/resolver"
	"github.com/amaumene/mediasync/internal/services"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
	"github.com/sirupsen/logrus"
)

// app holds the components one command works with
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   *credentials.Store
	db      *models.Database
	storage *idcache.Storage
	sources []sources.Source
	sync    *controllers.SyncController
}

// newLogger builds the logger from the configuration. Machine-readable output keeps
// stdout for the result only.
func newLogger(cfg *config.Config, output string) (*logrus.Logger, error) {
	logger, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	if isJSON(output) && cfg.Logging.File == "" {
		logger.SetOutput(os.Stderr)
	}
	return logger, nil
}

// openApp loads the configuration and wires every component of a sync
func openApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.baseDir)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, flags.output)
	if err != nil {
		return nil, err
	}
	logger.WithField("base_dir", cfg.Paths.BaseDir).Debug("Configuration loaded")

	store, err := credentials.Open(cfg.Paths.CredentialsFile)
	if err != nil {
		return nil, err
	}

	list, err := services.EnabledSources(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no source is enabled", config.ErrConfigInvalid)
	}

	storage := idcache.NewStorage(cfg.Paths.IDCacheDir, logger)
	storage.SetCompression(cfg.IDCache.Compression)
	cache, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load ID cache: %w", err)
	}
	metrics.SetIDCacheEntries(cache.Len())

	opts := lookup.DefaultOptions()
	if days := cfg.IDCache.LookupCooldownDays; days > 0 {
		opts.Cooldown = time.Duration(days) * 24 * time.Hour
	}
	agg := lookup.New(sources.LookupProviders(list), opts, logger)
	res := resolver.New(cache, storage, agg, resolver.Config{
		IncrementalSaves: cfg.IDCache.IncrementalSaves,
		FullSaveInterval: cfg.IDCache.FullSaveInterval,
	}, logger)

	ignore, err := utils.LoadIgnoreList(cfg.Paths.IgnoreFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load ignore list, continuing without it")
		ignore = nil
	} else if ignore.Len() > 0 {
		logger.WithField("entries", ignore.Len()).Info("Ignore list loaded")
	}

	db, err := models.NewDatabase(cfg.Paths.DatabaseFile)
	if err != nil {
		return nil, err
	}

	cacheMgr := controllers.NewCacheManager(cfg.Paths.CollectDir, cfg.Paths.DistributeDir, logger)
	ctrl := controllers.NewSyncController(cfg, list, res, store, cacheMgr, db, ignore, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		db:      db,
		storage: storage,
		sources: list,
		sync:    ctrl,
	}, nil
}

// Close releases the database
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
