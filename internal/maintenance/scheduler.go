// Package maintenance implements the maintenance scheduler (C7): two
// independent interval loops for archival snapshots and destination
// pruning (spec.md §4.7).
package maintenance

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/destination"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
)

// Scheduler runs the archiver and pruner loops.
type Scheduler struct {
	archivers       []destination.Archiver
	pruners         []destination.Pruner
	archiveInterval time.Duration
	purgeInterval   time.Duration
	log             *logging.Logger
}

// Config configures a Scheduler. Archivers and Pruners may overlap (a Borg
// destination implements both); they are passed as separate slices because
// LocalFs/Rclone only implement Pruner.
type Config struct {
	Archivers       []destination.Archiver
	Pruners         []destination.Pruner
	ArchiveInterval time.Duration
	PurgeInterval   time.Duration
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		archivers:       cfg.Archivers,
		pruners:         cfg.Pruners,
		archiveInterval: cfg.ArchiveInterval,
		purgeInterval:   cfg.PurgeInterval,
		log:             logging.L().With(logging.String("component", "maintenance")),
	}
}

// Run starts the archiver and pruner loops and blocks until ctx is
// cancelled or one loop returns an error (it normally never does; per-
// destination errors are logged and do not stop the loop per spec.md
// §4.7).
func (s *Scheduler) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	if s.archiveInterval > 0 && len(s.archivers) > 0 {
		group.Go(func() error { return s.runArchiver(ctx) })
	}
	if s.purgeInterval > 0 {
		group.Go(func() error { return s.runPruner(ctx) })
	}
	return group.Wait()
}

func (s *Scheduler) runArchiver(ctx context.Context) error {
	ticker := time.NewTicker(s.archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.archiveOnce(ctx)
		}
	}
}

func (s *Scheduler) archiveOnce(ctx context.Context) {
	for _, a := range s.archivers {
		name, err := a.Archive(ctx)
		if err != nil {
			s.log.Error("archive failed", logging.Destination(a.Name()), logging.Error(err))
			continue
		}
		s.log.Info("archive created", logging.Destination(a.Name()), logging.String("archive", name))
	}
}

func (s *Scheduler) runPruner(ctx context.Context) error {
	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pruneOnce(ctx)
		}
	}
}

// pruneOnce concurrently invokes Prune on every backup AND archival
// destination (spec.md §4.7: "concurrently invoke prune() on all backup
// destinations AND all archival destinations").
func (s *Scheduler) pruneOnce(ctx context.Context) {
	var group errgroup.Group
	for _, p := range s.pruners {
		p := p
		group.Go(func() error {
			result, err := p.Prune(ctx)
			if err != nil {
				s.log.Error("prune failed", logging.Destination(p.Name()), logging.Error(err))
				return nil
			}
			s.log.Info("prune completed", logging.Destination(p.Name()),
				logging.Int("files_deleted", result.FilesDeleted), logging.Int64("bytes_freed", result.BytesFreed))
			return nil
		})
	}
	_ = group.Wait()
}
