package controllers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const excludedName = "excluded"

// Distribute snapshot names besides the data types
const (
	watchlistToHistoryName = "watchlist_to_history"
	removalListName        = "removal_list"
)

// CacheManager stores per-source JSON snapshots of collected and prepared data
type CacheManager struct {
	collectDir    string
	distributeDir string
	logger        *logrus.Logger
}

// NewCacheManager creates a cache manager over the collect and distribute directories
func NewCacheManager(collectDir, distributeDir string, logger *logrus.Logger) *CacheManager {
	return &CacheManager{
		collectDir:    collectDir,
		distributeDir: distributeDir,
		logger:        logger,
	}
}

func (m *CacheManager) collectPath(source, name string) string {
	return filepath.Join(m.collectDir, source, name+".json")
}

func (m *CacheManager) distributePath(source, name string) string {
	return filepath.Join(m.distributeDir, source, name+".json")
}

// DistributePath returns where a dry-run snapshot of source is written
func (m *CacheManager) DistributePath(source, name string) string {
	return m.distributePath(source, name)
}

// LoadCollected reads a collect snapshot. A missing or corrupt snapshot is a miss;
// a corrupt file is deleted.
func LoadCollected[T any](m *CacheManager, source string, dataType models.DataType) ([]T, bool) {
	return loadSnapshot[T](m.logger, m.collectPath(source, string(dataType)))
}

// SaveCollected writes a collect snapshot
func SaveCollected[T any](m *CacheManager, source string, dataType models.DataType, items []T) error {
	return saveSnapshot(m.collectPath(source, string(dataType)), items)
}

// SaveDistribute writes a dry-run snapshot
func SaveDistribute[T any](m *CacheManager, source, name string, items []T) error {
	return saveSnapshot(m.distributePath(source, name), items)
}

// LoadDistribute reads a dry-run snapshot
func LoadDistribute[T any](m *CacheManager, source, name string) ([]T, bool) {
	return loadSnapshot[T](m.logger, m.distributePath(source, name))
}

// SaveExcluded writes the items the collect phase left out
func (m *CacheManager) SaveExcluded(source string, items []models.ExcludedItem) error {
	return saveSnapshot(m.collectPath(source, excludedName), items)
}

// SaveDistributeExcluded writes the items the distribute phase left out
func (m *CacheManager) SaveDistributeExcluded(source string, items []models.ExcludedItem) error {
	return saveSnapshot(m.distributePath(source, excludedName), items)
}

// Clear empties both cache directories
func (m *CacheManager) Clear() error {
	for _, dir := range []string{m.collectDir, m.distributeDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		m.logger.WithField("dir", dir).Info("Cleared cache directory")
	}
	return nil
}

func loadSnapshot[T any](logger *logrus.Logger, path string) ([]T, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read cache file")
		}
		return nil, false
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Cache corruption detected, deleting file")
		if rmErr := os.Remove(path); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to delete corrupted cache file")
		}
		return nil, false
	}

	logger.WithFields(logrus.Fields{"path": path, "count": len(items)}).Debug("Cache hit")
	return items, true
}

func saveSnapshot[T any](path string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
