// Package config loads the TOML configuration document described in
// SPEC_FULL.md §A.1: the unifi/backup/archive/database sections plus the
// optional logging/tracing/metrics/notifications blocks, human-readable
// durations, and file:/env: secret resolution.
package config

const (
	// DefaultConfigDir is the directory under $HOME holding the config file
	// and, by convention, the default database path.
	DefaultConfigDir = ".unifi-protect-backup"
	// DefaultConfigFile is the filename of the config document within
	// DefaultConfigDir.
	DefaultConfigFile = "config.toml"

	// DefaultUnifiPort is the default HTTPS port the recorder listens on.
	DefaultUnifiPort = 443

	// DefaultDownloadBufferSize is the default for
	// backup.download_buffer_size, in bytes. The controller client reads
	// each video export whole and does not consult this setting.
	DefaultDownloadBufferSize uint64 = 8192
	// DefaultParallelUploads caps how many destinations one event is
	// stored to concurrently; the events of a dispatcher batch run
	// concurrently with each other, each under its own cap.
	DefaultParallelUploads uint = 3
	// DefaultBatchSize is the dispatcher's fixed per-tick batch size
	// (spec.md §4.6, not configurable).
	DefaultBatchSize = 10

	// DefaultFileStructureFormat is the filename template applied when the
	// operator does not override it.
	DefaultFileStructureFormat = "{camera_name}/{date}/{time}_{detection_type}.mp4"

	// DefaultRcloneChunkSize is the fixed chunk size used by the Rclone
	// adapter's chunked-stream upload mode (spec.md §4.4).
	DefaultRcloneChunkSize = 100 * 1024 * 1024
)

// Config is the fully decoded, resolved configuration document.
type Config struct {
	Unifi         UnifiConfig         `toml:"unifi"`
	Database      DatabaseConfig      `toml:"database"`
	Backup        BackupConfig        `toml:"backup"`
	Archive       ArchiveConfig       `toml:"archive"`
	Logging       *LoggingConfig      `toml:"logging"`
	Tracing       *TracingConfig      `toml:"tracing"`
	Metrics       *MetricsConfig      `toml:"metrics"`
	Notifications *NotificationConfig `toml:"notifications"`
}

// UnifiConfig describes how to reach and authenticate to the recorder.
type UnifiConfig struct {
	Address   string `toml:"address"`
	Port      int    `toml:"port"`
	Username  string `toml:"username"`
	Password  Secret `toml:"password"`
	VerifySSL bool   `toml:"verify_ssl"`
}

// DatabaseConfig locates the ledger's SQLite file.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// BackupConfig controls per-event backup behavior and lists the configured
// backup destinations.
type BackupConfig struct {
	RetentionPeriod     Duration       `toml:"retention_period"`
	PollInterval        Duration       `toml:"poll_interval"`
	MaxEventLength      Duration       `toml:"max_event_length"`
	PurgeInterval       Duration       `toml:"purge_interval"`
	FileStructureFormat string         `toml:"file_structure_format"`
	DetectionTypes      []string       `toml:"detection_types"`
	IgnoreCameras       []string       `toml:"ignore_cameras"`
	Cameras             []string       `toml:"cameras"`
	DownloadBufferSize  uint64         `toml:"download_buffer_size"`
	ParallelUploads     uint           `toml:"parallel_uploads"`
	SkipMissing         bool           `toml:"skip_missing"`
	Remote              []BackupRemote `toml:"remote"`
}

// BackupRemote is a tagged-union config entry: exactly one of Local or
// Rclone should be set.
type BackupRemote struct {
	Local  *LocalRemoteConfig  `toml:"local"`
	Rclone *RcloneRemoteConfig `toml:"rclone"`
}

// LocalRemoteConfig configures a LocalFs backup destination.
type LocalRemoteConfig struct {
	PathBuf string `toml:"path_buf"`
}

// RcloneRemoteConfig configures an Rclone backup destination.
type RcloneRemoteConfig struct {
	Remote             string `toml:"remote"`
	BasePath           string `toml:"base_path"`
	StreamUpload       bool   `toml:"stream_upload"`
	ChunkStreamUploads bool   `toml:"chunk_stream_uploads"`
}

// ArchiveConfig controls the maintenance scheduler's archival loop and
// lists the configured archival destinations.
type ArchiveConfig struct {
	ArchiveInterval Duration        `toml:"archive_interval"`
	RetentionPeriod Duration        `toml:"retention_period"`
	PurgeInterval   Duration        `toml:"purge_interval"`
	SourcePath      string          `toml:"source_path"`
	Remote          []ArchiveRemote `toml:"remote"`
}

// ArchiveRemote is a tagged-union config entry for archival destinations.
type ArchiveRemote struct {
	Borg *BorgRemoteConfig `toml:"borg"`
}

// BorgRemoteConfig configures a Borg archival destination.
type BorgRemoteConfig struct {
	SSHKeyPath     string `toml:"ssh_key_path"`
	BorgRepo       string `toml:"borg_repo"`
	BorgPassphrase Secret `toml:"borg_passphrase"`
	AppendOnly     bool   `toml:"append_only"`
}

// NotificationConfig is accepted and validated but not consumed by any
// core component; spec.md scopes notification delivery as an external
// collaborator.
type NotificationConfig struct {
	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPUsername string `toml:"smtp_username"`
	SMTPPassword Secret `toml:"smtp_password"`
	EmailFrom    string `toml:"email_from"`
	EmailTo      string `toml:"email_to"`
}

// LoggingConfig optionally forwards structured log records to Loki.
type LoggingConfig struct {
	Loki *LokiConfig `toml:"loki"`
}

// LokiConfig describes a Grafana Loki push endpoint.
type LokiConfig struct {
	URL      string            `toml:"url"`
	Username string            `toml:"username"`
	Password Secret            `toml:"password"`
	Labels   map[string]string `toml:"labels"`
}

// TracingConfig is accepted for schema parity with the original's
// OpenTelemetry/Tempo exporter; spec.md scopes exporter wiring out as an
// external collaborator, so no tracer is constructed from it.
type TracingConfig struct {
	Tempo *TempoConfig `toml:"tempo"`
}

// TempoConfig describes a Tempo OTLP endpoint.
type TempoConfig struct {
	URL  string `toml:"url"`
	Port int    `toml:"port"`
}

// MetricsConfig is accepted for schema parity with the original's
// Prometheus endpoint; spec.md's Non-goals exclude a user-facing API, so no
// HTTP server is started from it.
type MetricsConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}
