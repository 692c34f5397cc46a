package config

import "fmt"

// Validate checks the decoded and defaulted config for missing or
// inconsistent fields, returning a slice of human-readable problems (empty
// when the config is usable). Mirrors the teacher's accumulate-then-join
// style rather than failing fast on the first bad field, so an operator
// sees every mistake in one pass.
func Validate(cfg *Config) []string {
	var problems []string

	if cfg.Unifi.Address == "" {
		problems = append(problems, "unifi.address must not be empty")
	}
	if cfg.Unifi.Username == "" {
		problems = append(problems, "unifi.username must not be empty")
	}
	if cfg.Unifi.Password == "" {
		problems = append(problems, "unifi.password must not be empty")
	}

	if cfg.Database.Path == "" {
		problems = append(problems, "database.path must not be empty")
	}

	if cfg.Backup.PollInterval.Duration <= 0 {
		problems = append(problems, "backup.poll_interval must be a positive duration")
	}
	if cfg.Backup.RetentionPeriod.Duration <= 0 {
		problems = append(problems, "backup.retention_period must be a positive duration")
	}
	if cfg.Backup.PurgeInterval.Duration <= 0 {
		problems = append(problems, "backup.purge_interval must be a positive duration")
	}
	if len(cfg.Backup.Remote) == 0 {
		problems = append(problems, "backup.remote must configure at least one destination")
	}
	for i, remote := range cfg.Backup.Remote {
		if (remote.Local == nil) == (remote.Rclone == nil) {
			problems = append(problems, fmt.Sprintf("backup.remote[%d] must set exactly one of local or rclone", i))
		}
		if remote.Local != nil && remote.Local.PathBuf == "" {
			problems = append(problems, fmt.Sprintf("backup.remote[%d].local.path_buf must not be empty", i))
		}
		if remote.Rclone != nil && remote.Rclone.Remote == "" {
			problems = append(problems, fmt.Sprintf("backup.remote[%d].rclone.remote must not be empty", i))
		}
	}

	for i, remote := range cfg.Archive.Remote {
		if remote.Borg == nil {
			problems = append(problems, fmt.Sprintf("archive.remote[%d] must set borg", i))
			continue
		}
		if remote.Borg.BorgRepo == "" {
			problems = append(problems, fmt.Sprintf("archive.remote[%d].borg.borg_repo must not be empty", i))
		}
	}
	if len(cfg.Archive.Remote) > 0 {
		if cfg.Archive.ArchiveInterval.Duration <= 0 {
			problems = append(problems, "archive.archive_interval must be a positive duration when archive.remote is configured")
		}
		if cfg.Archive.SourcePath == "" {
			problems = append(problems, "archive.source_path must not be empty when archive.remote is configured and no local backup destination is configured to default from")
		}
	}

	return problems
}
