package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
)

// DefaultPath returns the default config location, $HOME/.unifi-protect-backup/config.toml,
// falling back to a relative "config.toml" when HOME is unset.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultConfigFile
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

// Load reads and decodes the TOML document at path, applies defaults for
// unset fields, and validates the result. Every failure is wrapped in
// *apperr.ConfigError.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.ConfigError{Field: path, Err: err}
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, &apperr.ConfigError{Field: path, Err: fmt.Errorf("parsing toml: %w", err)}
	}

	applyDefaults(&cfg)

	if problems := Validate(&cfg); len(problems) > 0 {
		return nil, &apperr.ConfigError{Err: fmt.Errorf(strings.Join(problems, "; "))}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Unifi.Port == 0 {
		cfg.Unifi.Port = DefaultUnifiPort
	}
	if cfg.Backup.FileStructureFormat == "" {
		cfg.Backup.FileStructureFormat = DefaultFileStructureFormat
	}
	if cfg.Backup.DownloadBufferSize == 0 {
		cfg.Backup.DownloadBufferSize = DefaultDownloadBufferSize
	}
	if cfg.Backup.ParallelUploads == 0 {
		cfg.Backup.ParallelUploads = DefaultParallelUploads
	}

	// Open Question #2 (DESIGN.md): default the archive source path to the
	// first configured LocalFs backup destination rather than a hard-coded
	// "./.data".
	if cfg.Archive.SourcePath == "" {
		for _, remote := range cfg.Backup.Remote {
			if remote.Local != nil {
				cfg.Archive.SourcePath = remote.Local.PathBuf
				break
			}
		}
	}
}
