package services

import (
	"fmt"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/services/simkl"
	"github.com/amaumene/mediasync/internal/services/trakt"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/sirupsen/logrus"
)

// Names lists every source the factory can build
var Names = []string{"trakt", "simkl"}

// NewSource builds the named source, whether or not it is enabled
func NewSource(name string, cfg *config.Config, store *credentials.Store, logger *logrus.Logger) (sources.Source, error) {
	switch name {
	case "trakt":
		client := trakt.NewClient(cfg.Trakt.ClientID, cfg.Trakt.ClientSecret, store.Tokens(name), logger)
		return trakt.NewSource(client, cfg.Trakt.StatusMapping, logger), nil
	case "simkl":
		client := simkl.NewClient(cfg.Simkl.ClientID, store.Tokens(name), logger)
		return simkl.NewSource(client, store, cfg.Simkl.StatusMapping, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", config.ErrConfigInvalid, name)
}

// EnabledSources builds every enabled source, in preference order first
func EnabledSources(cfg *config.Config, store *credentials.Store, logger *logrus.Logger) ([]sources.Source, error) {
	var list []sources.Source
	for _, name := range cfg.EnabledSources() {
		src, err := NewSource(name, cfg, store, logger)
		if err != nil {
			return nil, err
		}
		list = append(list, src)
	}
	logger.WithField("sources", cfg.EnabledSources()).Debug("Built sources")
	return list, nil
}
