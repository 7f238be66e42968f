package app

import (
	"fmt"
	"os"
	"path/filepath"

	"arc-go/internal/config"
)

// Defaults are the locations arc uses before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	StoreDir   string
	StateDir   string
}

// GetDefaults resolves the default locations. config.EnvConfigPath and
// config.EnvHome override the config file and the base directory; every
// other location is derived from the base directory the same way a fresh
// config.NewConfig lays it out.
func GetDefaults() (Defaults, error) {
	configPath, err := resolvePath(config.EnvConfigPath, config.DefaultConfigPath)
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := resolvePath(config.EnvHome, config.DefaultHome)
	if err != nil {
		return Defaults{}, err
	}

	cfg := config.NewConfig("", baseDir)
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     cfg.LogDir,
		StoreDir:   cfg.Store.FSRoot,
		StateDir:   cfg.StateDir(),
	}, nil
}

func resolvePath(env string, underHome []string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, underHome...)...), nil
}
