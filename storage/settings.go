package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// Settings holds the daemon's paths and tunables, read from settings.toml
type Settings struct {
	ShaderDir         string        `toml:"shader_dir"`   // gamescope's live reshade Shaders directory
	SeedDir           string        `toml:"seed_dir"`     // Bundled shader sources copied on start
	ApplyScript       string        `toml:"apply_script"` // Script that activates a shader in gamescope
	ConfigFile        string        `toml:"config_file"`  // Per-application profiles
	Socket            string        `toml:"socket"`
	Display           string        `toml:"display"`
	TunableShader     string        `toml:"tunable_shader"`
	StartupDelay      time.Duration `toml:"startup_delay"`
	FocusPollInterval time.Duration `toml:"focus_poll_interval"` // 0 disables focus polling
	LogLevel          string        `toml:"log_level"`
}

// DefaultSettings returns settings derived from the XDG directories
func DefaultSettings() (*Settings, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	dataHome, err := GetDataHome()
	if err != nil {
		return nil, err
	}

	seedDir := filepath.Join(dataHome, appDirName, seedDirName)
	return &Settings{
		ShaderDir:         filepath.Join(dataHome, "gamescope", "reshade", "Shaders"),
		SeedDir:           seedDir,
		ApplyScript:       filepath.Join(seedDir, applyScript),
		ConfigFile:        filepath.Join(configDir, configFile),
		Socket:            GetSocketPath(),
		Display:           ":0",
		TunableShader:     "CAS.fx",
		StartupDelay:      5 * time.Second,
		FocusPollInterval: 5 * time.Second,
		LogLevel:          "info",
	}, nil
}

// LoadSettings reads path over the defaults.
// A missing file returns the defaults. Keys in the file that do not map to
// a setting are logged and ignored.
func LoadSettings(fs afero.Fs, path string, logger hclog.Logger) (*Settings, error) {
	settings, err := DefaultSettings()
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	meta, err := toml.Decode(string(data), settings)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if logger != nil {
		for _, key := range meta.Undecoded() {
			logger.Warn("unknown settings key", "key", key.String(), "file", path)
		}
	}

	// The script ships with the seed shaders unless placed elsewhere
	if settings.ApplyScript == "" || (meta.IsDefined("seed_dir") && !meta.IsDefined("apply_script")) {
		settings.ApplyScript = filepath.Join(settings.SeedDir, applyScript)
	}
	if settings.TunableShader == "" {
		settings.TunableShader = "CAS.fx"
	}
	return settings, nil
}
