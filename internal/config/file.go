package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// secretKeys are masked by Show
var secretKeys = []string{"client_secret"}

// Init writes config.toml with every default value. An existing file is left untouched
// and reported with created set to false.
func Init(baseDir string) (path string, created bool, err error) {
	paths, err := NewPaths(baseDir)
	if err != nil {
		return "", false, err
	}
	if err := paths.Ensure(); err != nil {
		return "", false, err
	}
	if _, err := os.Stat(paths.ConfigFile); err == nil {
		return paths.ConfigFile, false, nil
	}

	v := newViper(paths)
	if err := v.WriteConfigAs(paths.ConfigFile); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return paths.ConfigFile, true, nil
}

// Show renders the effective configuration as TOML, with secrets masked
func Show(baseDir string) ([]byte, error) {
	paths, err := NewPaths(baseDir)
	if err != nil {
		return nil, err
	}

	v := newViper(paths)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	settings := v.AllSettings()
	mask(settings)
	data, err := toml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

func mask(settings map[string]interface{}) {
	for k := range settings {
		switch v := settings[k].(type) {
		case map[string]interface{}:
			mask(v)
		case string:
			for _, secret := range secretKeys {
				if k == secret && v != "" {
					settings[k] = "********"
				}
			}
		}
	}
}
