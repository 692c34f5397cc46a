package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnsureExists runs the first-launch interactive wizard and writes a
// starter config file when path does not yet exist. It is skipped entirely
// when the operator passed --config explicitly; callers only invoke this
// for the default path (SPEC_FULL.md §C.1).
func EnsureExists(path string, in io.Reader, out io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	fmt.Fprintln(out, "Configuration file not found. Setting up initial configuration...")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := promptForConfig(bufio.NewReader(in), out)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	return nil
}

func promptForConfig(in *bufio.Reader, out io.Writer) string {
	fmt.Fprintln(out, "Welcome to unifi-protect-backup setup!")
	fmt.Fprintln(out, "Press Enter to use default values shown in brackets.")
	fmt.Fprintln(out)

	address := prompt(in, out, "UniFi Protect address", "192.168.1.100")
	port := prompt(in, out, "Port", "443")
	username := prompt(in, out, "Username", "backup-user")
	password := prompt(in, out, "Password", "your-password")
	verifySSL := prompt(in, out, "Verify SSL (true/false)", "false")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Select a backup target:")
	fmt.Fprintln(out, "1. Local filesystem")
	fmt.Fprintln(out, "2. Rclone (cloud storage)")
	backupTarget := prompt(in, out, "Backup target", "1")

	retentionPeriod := prompt(in, out, "Backup retention period (e.g., 30d, 1w)", "30d")
	pollInterval := prompt(in, out, "Poll interval (e.g., 30s, 1m)", "30s")
	detectionTypes := prompt(in, out, "Detection types (comma-separated)", "motion,person,vehicle")
	fileStructureFormat := prompt(in, out, "File structure format", DefaultFileStructureFormat)
	ignoreCameras := prompt(in, out, "Ignore cameras (comma-separated, optional)", "")
	cameras := prompt(in, out, "Cameras to backup (comma-separated, optional)", "")
	maxEventLength := prompt(in, out, "Max event length (e.g., 5m, 300s)", "5m")
	purgeInterval := prompt(in, out, "Purge interval (e.g., 24h, 1d)", "24h")

	var remoteBlock string
	switch backupTarget {
	case "2", "rclone":
		remote := prompt(in, out, "Rclone remote name", "s3")
		basePath := prompt(in, out, "Base path in remote", "unifi-protect")
		streamUpload := prompt(in, out, "Enable streaming upload (true/false)", "true")
		remoteBlock = fmt.Sprintf("[[backup.remote]]\nrclone = { remote = %q, base_path = %q, stream_upload = %s }",
			remote, basePath, strings.ToLower(streamUpload))
	default:
		localPath := prompt(in, out, "Local backup path", "./data")
		remoteBlock = fmt.Sprintf("[[backup.remote]]\nlocal = { path_buf = %q }", localPath)
	}

	databasePath := prompt(in, out, "Database path", filepath.Join(defaultHomeOr("."), DefaultConfigDir, "events.db"))

	return fmt.Sprintf(`[unifi]
address = %q
port = %s
username = %q
password = %q
verify_ssl = %s

[backup]
retention_period = %q
poll_interval = %q
max_event_length = %q
purge_interval = %q
file_structure_format = %q
detection_types = [%s]
ignore_cameras = [%s]
cameras = [%s]
download_buffer_size = %d
parallel_uploads = %d
skip_missing = false

%s

[archive]
archive_interval = "1d"
retention_period = "365d"
purge_interval = "1w"
remote = []

[database]
path = %q
`,
		address, port, username, password, strings.ToLower(verifySSL),
		retentionPeriod, pollInterval, maxEventLength, purgeInterval, fileStructureFormat,
		csvQuoted(detectionTypes), csvQuoted(ignoreCameras), csvQuoted(cameras),
		DefaultDownloadBufferSize, DefaultParallelUploads,
		remoteBlock, databasePath)
}

func csvQuoted(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	parts := strings.Split(raw, ",")
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		quoted = append(quoted, fmt.Sprintf("%q", strings.TrimSpace(p)))
	}
	return strings.Join(quoted, ", ")
}

func defaultHomeOr(fallback string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return fallback
}

func prompt(in *bufio.Reader, out io.Writer, label, def string) string {
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
