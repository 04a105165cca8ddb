package config

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the reviewherd config directory, respecting
// XDG_CONFIG_HOME. Defaults to ~/.config/reviewherd/.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "reviewherd"), nil
}

// CredentialsPath returns the path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.toml"), nil
}

// DataDir returns the reviewherd data directory, respecting XDG_DATA_HOME.
// Defaults to ~/.local/share/reviewherd/.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "reviewherd"), nil
}

// StateDir returns the reviewherd state directory, respecting
// XDG_STATE_HOME. Defaults to ~/.local/state/reviewherd/.
func StateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "reviewherd"), nil
}
