package idcache

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const (
	cacheFileName  = "id_mappings.bin"
	tempFileName   = "id_mappings.tmp"
	backupSuffix   = ".bak"
	snapshotFormat = 1
)

var gzipMagic = []byte{0x1f, 0x8b}

type snapshot struct {
	Format  int
	Records []models.MediaIDs
}

// Storage persists a Cache as a gob snapshot, gzip-framed by default
type Storage struct {
	dir      string
	compress bool
	logger   *logrus.Logger
}

// NewStorage creates a storage rooted at dir
func NewStorage(dir string, logger *logrus.Logger) *Storage {
	return &Storage{
		dir:      dir,
		compress: true,
		logger:   logger,
	}
}

// SetCompression toggles gzip framing for subsequent saves. Loads detect the framing.
func (s *Storage) SetCompression(enabled bool) {
	s.compress = enabled
}

// Path returns the cache file path
func (s *Storage) Path() string {
	return filepath.Join(s.dir, cacheFileName)
}

// Exists reports whether a cache file is present
func (s *Storage) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Size returns the size of the cache file in bytes
func (s *Storage) Size() (int64, error) {
	info, err := os.Stat(s.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Load reads the cache file. A missing file yields an empty cache; an undecodable one is
// copied aside to a .bak file and also yields an empty cache.
func (s *Storage) Load() (*Cache, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.WithField("path", s.Path()).Debug("No ID cache found, starting empty")
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read ID cache: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		backup := s.Path() + backupSuffix
		s.logger.WithError(err).WithField("backup", backup).Warn("ID cache is corrupt, starting empty")
		if werr := os.WriteFile(backup, data, 0600); werr != nil {
			s.logger.WithError(werr).Error("Failed to back up corrupt ID cache")
		}
		return New(), nil
	}

	cache := New()
	for _, rec := range snap.Records {
		cache.Insert(rec)
	}
	cache.RebuildTitleIndex()
	cache.MarkClean()

	s.logger.WithFields(logrus.Fields{
		"records":     cache.Len(),
		"title_index": cache.TitleIndexLen(),
	}).Debug("ID cache loaded")
	return cache, nil
}

func decode(data []byte) (*snapshot, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode ID cache: %w", err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("unsupported ID cache format %d", snap.Format)
	}
	return &snap, nil
}

// Save writes the cache to a temporary file and renames it over the cache file
func (s *Storage) Save(cache *Cache) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create ID cache directory: %w", err)
	}

	tmpPath := filepath.Join(s.dir, tempFileName)
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary ID cache: %w", err)
	}

	snap := snapshot{Format: snapshotFormat, Records: cache.Snapshot()}
	if err := s.encode(file, &snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync ID cache: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close ID cache: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ID cache: %w", err)
	}

	cache.MarkClean()
	s.logger.WithField("records", len(snap.Records)).Debug("ID cache saved")
	return nil
}

func (s *Storage) encode(w io.Writer, snap *snapshot) error {
	bw := bufio.NewWriter(w)
	if !s.compress {
		if err := gob.NewEncoder(bw).Encode(snap); err != nil {
			return fmt.Errorf("failed to encode ID cache: %w", err)
		}
		return bw.Flush()
	}

	zw := gzip.NewWriter(bw)
	if err := gob.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode ID cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return bw.Flush()
}

// Clear removes the cache file and any backup
func (s *Storage) Clear() error {
	for _, path := range []string{s.Path(), s.Path() + backupSuffix} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}
