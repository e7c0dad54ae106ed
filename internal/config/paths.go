// Package config provides configuration for the fshare server and client.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDirectory returns the per-user configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\fshare
//   - Unix: ~/.config/fshare
func ConfigDirectory() string {
	if runtime.GOOS != "windows" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config", "fshare")
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fshare")
	}
	return filepath.Join(dir, "fshare")
}

// DefaultSettingsPath returns the client settings file location.
func DefaultSettingsPath() string {
	return filepath.Join(ConfigDirectory(), "settings.yaml")
}

// DefaultServerConfigPath returns the server config file location.
func DefaultServerConfigPath() string {
	return filepath.Join(ConfigDirectory(), "server_config.yaml")
}

// DefaultDownloadDirectory returns ~/Downloads, or the working directory if
// the home directory cannot be determined.
func DefaultDownloadDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// writeFileAtomic writes data to path via a temp file and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
