package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDBPath returns the path to the on-disk store, creating the data
// directory if needed. Uses XDG_DATA_HOME when set, else ~/.local/share.
func DefaultDBPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(dataHome, "cerechat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(dir, "cerechat.db"), nil
}
