package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths lists every file and directory under the base directory
type Paths struct {
	BaseDir         string
	ConfigFile      string
	CredentialsFile string
	DataDir         string
	CollectDir      string
	DistributeDir   string
	IDCacheDir      string
	DatabaseFile    string
	IgnoreFile      string
	PIDFile         string
	LogDir          string
}

// DefaultBaseDir returns $MEDIASYNC_BASE_DIR or ~/.config/mediasync
func DefaultBaseDir() (string, error) {
	if dir := os.Getenv("MEDIASYNC_BASE_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mediasync"), nil
}

// NewPaths derives every path from baseDir. An empty baseDir selects DefaultBaseDir.
func NewPaths(baseDir string) (Paths, error) {
	if baseDir == "" {
		dir, err := DefaultBaseDir()
		if err != nil {
			return Paths{}, err
		}
		baseDir = dir
	}

	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to get absolute path for base directory: %w", err)
	}

	dataDir := filepath.Join(absPath, "data")
	cacheDir := filepath.Join(dataDir, "cache")
	return Paths{
		BaseDir:         absPath,
		ConfigFile:      filepath.Join(absPath, "config.toml"),
		CredentialsFile: filepath.Join(absPath, "credentials.toml"),
		DataDir:         dataDir,
		CollectDir:      filepath.Join(cacheDir, "collect"),
		DistributeDir:   filepath.Join(cacheDir, "distribute"),
		IDCacheDir:      filepath.Join(cacheDir, "id"),
		DatabaseFile:    filepath.Join(dataDir, "mediasync.db"),
		IgnoreFile:      filepath.Join(absPath, "ignore.txt"),
		PIDFile:         filepath.Join(absPath, "mediasync.pid"),
		LogDir:          filepath.Join(absPath, "logs"),
	}, nil
}

// Ensure creates the directories the application writes to
func (p Paths) Ensure() error {
	for _, dir := range []string{p.BaseDir, p.DataDir, p.CollectDir, p.DistributeDir, p.IDCacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
