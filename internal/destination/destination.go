// Package destination implements the uniform adapter contract (C4) over
// the three backup/archival targets: LocalFs, Rclone and Borg. Grounded on
// the teacher's ffmpeg subprocess pattern (vincent99-velocipi/server/dvr)
// for exec.CommandContext usage and on internal/replay's retention-sweep
// walk for LocalFs.Prune.
package destination

import (
	"context"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
)

// Storer stores one event's video bytes and returns the destination's
// identifier for the stored object (spec.md §4.4: relative path for
// LocalFs, remote path for Rclone).
type Storer interface {
	Name() string
	Store(ctx context.Context, event domain.Event, data []byte) (remotePath string, err error)
}

// Pruner deletes objects older than its configured retention period and
// reports counters.
type Pruner interface {
	Name() string
	Prune(ctx context.Context) (PruneResult, error)
}

// Archiver produces a deduplicated, versioned snapshot of a data root.
type Archiver interface {
	Name() string
	Archive(ctx context.Context) (archiveName string, err error)
}

// PruneResult summarizes one destination's retention sweep.
type PruneResult struct {
	FilesDeleted int
	BytesFreed   int64
}
