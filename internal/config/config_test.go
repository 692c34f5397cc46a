package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleTOML = `
[unifi]
address = "192.168.1.1"
port = 443
username = "backup"
password = "secret"
verify_ssl = false

[backup]
retention_period = "30d"
poll_interval = "30s"
max_event_length = "5m"
purge_interval = "24h"
file_structure_format = "{camera_name}/{date}/{time}_{detection_type}.mp4"
detection_types = ["motion"]
ignore_cameras = []
cameras = []
download_buffer_size = 8192
parallel_uploads = 3
skip_missing = false

[[backup.remote]]
local = { path_buf = "./data" }

[archive]
archive_interval = "1d"
retention_period = "365d"
purge_interval = "1w"

[database]
path = "./events.db"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, sampleTOML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Unifi.Address != "192.168.1.1" {
		t.Errorf("unifi.address = %q", cfg.Unifi.Address)
	}
	if cfg.Backup.RetentionPeriod.Duration != 30*24*time.Hour {
		t.Errorf("backup.retention_period = %v, want 720h", cfg.Backup.RetentionPeriod.Duration)
	}
	if cfg.Backup.PurgeInterval.Duration != 24*time.Hour {
		t.Errorf("backup.purge_interval = %v, want 24h", cfg.Backup.PurgeInterval.Duration)
	}
	if len(cfg.Backup.Remote) != 1 || cfg.Backup.Remote[0].Local == nil {
		t.Fatalf("expected one local backup remote, got %+v", cfg.Backup.Remote)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, `
[unifi]
address = ""

[backup]

[archive]

[database]
path = ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected ConfigError for missing required fields")
	}
}

func TestSecretEnvPrefix(t *testing.T) {
	t.Setenv("UNIFI_BACKUP_TEST_PASSWORD", "from-env")
	resolved, err := ResolveSecret("env:UNIFI_BACKUP_TEST_PASSWORD")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if resolved != "from-env" {
		t.Errorf("resolved = %q, want from-env", resolved)
	}
}

func TestSecretFilePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(path, []byte("file-secret\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	resolved, err := ResolveSecret("file:" + path)
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if resolved != "file-secret" {
		t.Errorf("resolved = %q, want file-secret", resolved)
	}
}

func TestSecretEnvPrefixMissing(t *testing.T) {
	_, err := ResolveSecret("env:UNIFI_BACKUP_DEFINITELY_UNSET_VAR")
	if err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}

func TestParseHumanDurationDaySuffix(t *testing.T) {
	cases := map[string]time.Duration{
		"30d": 30 * 24 * time.Hour,
		"24h": 24 * time.Hour,
		"5m":  5 * time.Minute,
		"30s": 30 * time.Second,
	}
	for raw, want := range cases {
		got, err := ParseHumanDuration(raw)
		if err != nil {
			t.Errorf("ParseHumanDuration(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParseHumanDuration(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestArchiveSourcePathDefaultsFromLocalRemote(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Archive.SourcePath != "./data" {
		t.Errorf("archive.source_path = %q, want ./data (defaulted from backup.remote[0].local.path_buf)", cfg.Archive.SourcePath)
	}
}
