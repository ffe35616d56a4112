package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the application's default paths. Each path can be
// overridden through its environment variable:
//   - BACKHAUL_CONFIG_PATH: config file (default ~/.config/backhaul.toml)
//   - BACKHAUL_HOME: data base directory (default ~/.local/share/backhaul)
func GetDefaults() (map[string]string, error) {
	configPath, err := envPath("BACKHAUL_CONFIG_PATH", ".config", "backhaul.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envPath("BACKHAUL_HOME", ".local", "share", "backhaul")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envPath returns the value of env when set, otherwise the given elements
// joined under the home directory.
func envPath(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
