package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	appDirName     = "reshadeck"
	configFile     = "config.json"
	settingsFile   = "settings.toml"
	seedDirName    = "shaders"
	applyScript    = "set_shader.sh"
	socketFileName = "reshadeck.sock"
)

// GetConfigDir returns the settings directory for reshadeck.
// $XDG_CONFIG_HOME/reshadeck, falling back to ~/.config/reshadeck.
func GetConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// GetDataHome returns the XDG data home ($XDG_DATA_HOME or ~/.local/share).
// gamescope's reshade directory and the bundled shader sources live under it.
func GetDataHome() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// GetSettingsPath returns the full path to settings.toml
func GetSettingsPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFile), nil
}

// GetSocketPath returns the default control socket path
func GetSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketFileName)
	}
	return filepath.Join(os.TempDir(), socketFileName)
}

// AtomicWriteJSON writes data to a JSON file atomically.
// It writes to a temporary file first, then renames to the target path.
// This ensures the file is never in a partially-written state.
func AtomicWriteJSON(fs afero.Fs, path string, data interface{}) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tempFile := path + ".tmp"
	f, err := fs.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		fs.Remove(tempFile)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tempFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tempFile)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename temp file to target (atomic on most filesystems)
	if err := fs.Rename(tempFile, path); err != nil {
		fs.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadJSON reads and unmarshals a JSON file
func ReadJSON(fs afero.Fs, path string, data interface{}) error {
	jsonData, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(jsonData, data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}
