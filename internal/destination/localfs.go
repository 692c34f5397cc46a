package destination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
)

// LocalFs stores event video under a local directory tree, naming each
// file by expanding file_structure_format against the event (spec.md §4.4,
// §6). Adapted from internal/replay's retention-sweep walk, generalized
// from a fixed match/header naming scheme to the configurable filename
// template this domain uses.
type LocalFs struct {
	basePath        string
	fileStructure   string
	retentionPeriod time.Duration
	log             *logging.Logger
	now             func() time.Time
}

// NewLocalFs constructs a LocalFs destination rooted at basePath.
func NewLocalFs(basePath, fileStructureFormat string, retentionPeriod time.Duration) *LocalFs {
	return &LocalFs{
		basePath:        basePath,
		fileStructure:   fileStructureFormat,
		retentionPeriod: retentionPeriod,
		log:             logging.L().With(logging.String("component", "destination"), logging.Destination("local")),
		now:             time.Now,
	}
}

// Name identifies this destination for logging and ledger remote_path
// disambiguation.
func (l *LocalFs) Name() string { return "local:" + l.basePath }

// Store writes data to basePath/expand(fileStructure, event), creating
// parent directories as needed, and returns the path relative to
// basePath.
func (l *LocalFs) Store(_ context.Context, event domain.Event, data []byte) (string, error) {
	relative := event.FormatFilename(l.fileStructure)
	fullPath := filepath.Join(l.basePath, relative)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", fullPath, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("writing %s: %w", fullPath, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing %s: %w", fullPath, err)
	}

	return relative, nil
}

// Prune recursively walks basePath, deleting regular files older than
// retentionPeriod and removing directories left empty afterward.
// Individual entry errors log-and-continue; the call as a whole reports
// success with counters (spec.md §4.4).
func (l *LocalFs) Prune(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	cutoff := l.now().Add(-l.retentionPeriod)

	if _, err := os.Stat(l.basePath); os.IsNotExist(err) {
		return result, nil
	}

	if err := l.pruneDir(ctx, l.basePath, cutoff, &result); err != nil {
		return result, &apperr.PruneError{Destination: l.Name(), Err: err}
	}
	return result, nil
}

// pruneDir deletes expired files under dir and, after recursing, removes
// dir itself if it ended up empty. dir is never removed if it is
// basePath.
func (l *LocalFs) pruneDir(ctx context.Context, dir string, cutoff time.Time, result *PruneResult) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	remaining := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := l.pruneDir(ctx, path, cutoff, result); err != nil {
				l.log.Warn("prune recurse failed", logging.String("path", path), logging.Error(err))
				remaining++
				continue
			}
			if _, err := os.Stat(path); err == nil {
				remaining++
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			l.log.Warn("prune stat failed", logging.String("path", path), logging.Error(err))
			remaining++
			continue
		}
		if info.ModTime().After(cutoff) {
			remaining++
			continue
		}

		size := info.Size()
		if err := os.Remove(path); err != nil {
			l.log.Warn("prune remove failed", logging.String("path", path), logging.Error(err))
			remaining++
			continue
		}
		result.FilesDeleted++
		result.BytesFreed += size
	}

	if remaining == 0 && dir != l.basePath {
		_ = os.Remove(dir) // best-effort; a concurrent writer may have added a file back
	}
	return nil
}
