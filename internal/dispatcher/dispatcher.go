// Package dispatcher implements the backup dispatcher (C6): a poll loop
// that downloads completed events' video and fans it out to every
// configured backup destination with an all-or-nothing marked-backed-up
// outcome (spec.md §4.6).
package dispatcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/destination"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
)

// stateMutex is a tiny helper so the fan-out closures below can flip the
// shared allSucceeded flag without each call site re-deriving the
// lock/unlock pair.
type stateMutex struct{ mu sync.Mutex }

func (s *stateMutex) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// BatchSize is the dispatcher's fixed per-tick batch size (spec.md §4.6,
// not configurable).
const BatchSize = 10

// VideoClient downloads one event's raw video export.
type VideoClient interface {
	DownloadEventVideo(ctx context.Context, cameraID string, startMs, endMs int64) ([]byte, error)
}

// Ledger is the subset of *ledger.Ledger the dispatcher reads/writes.
type Ledger interface {
	GetEventsReadyForBackup(ctx context.Context) ([]domain.Event, error)
	MarkEventBackedUp(ctx context.Context, id string) error
	InsertBackup(ctx context.Context, b domain.Backup) error
}

// Filter narrows which ready events are actually downloaded and stored,
// resolving spec.md §9's open question: detection_types/ignore_cameras/
// cameras filters apply here, immediately before download.
type Filter struct {
	DetectionTypes []string
	IgnoreCameras  []string
	Cameras        []string
}

func (f Filter) allows(e domain.Event) bool {
	if !e.ShouldBackup(f.DetectionTypes) {
		return false
	}
	if containsString(f.IgnoreCameras, e.CameraID) {
		return false
	}
	if len(f.Cameras) > 0 && !containsString(f.Cameras, e.CameraID) {
		return false
	}
	return true
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Dispatcher polls the ledger and fans completed events out to every
// configured destination.
type Dispatcher struct {
	ledger       Ledger
	client       VideoClient
	destinations []destination.Storer
	bootstrap    func() domain.Bootstrap
	filter       Filter
	pollInterval time.Duration
	maxInFlight  int
	log          *logging.Logger
	now          func() time.Time
}

// Config configures a Dispatcher.
type Config struct {
	Ledger          Ledger
	Client          VideoClient
	Destinations    []destination.Storer
	Bootstrap       func() domain.Bootstrap
	Filter          Filter
	PollInterval    time.Duration
	ParallelUploads int
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	maxInFlight := cfg.ParallelUploads
	if maxInFlight <= 0 {
		maxInFlight = len(cfg.Destinations)
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Dispatcher{
		ledger:       cfg.Ledger,
		client:       cfg.Client,
		destinations: cfg.Destinations,
		bootstrap:    cfg.Bootstrap,
		filter:       cfg.Filter,
		pollInterval: cfg.PollInterval,
		maxInFlight:  maxInFlight,
		log:          logging.L().With(logging.String("component", "dispatcher")),
		now:          time.Now,
	}
}

// Run polls every pollInterval until ctx is cancelled (spec.md §4.6).
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	if err := d.tick(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick processes every event currently ready for backup, in batches of
// BatchSize processed sequentially; within a batch every event is handled
// concurrently (spec.md §4.6, §5).
func (d *Dispatcher) tick(ctx context.Context) error {
	pending, err := d.ledger.GetEventsReadyForBackup(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for start := 0; start < len(pending); start += BatchSize {
		end := start + BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		d.processBatch(ctx, pending[start:end])
	}
	return nil
}

// processBatch runs every event in the batch concurrently (spec.md §4.6
// step 3: "Within a batch, all events are processed concurrently").
func (d *Dispatcher) processBatch(ctx context.Context, batch []domain.Event) {
	var wg errgroup.Group
	for _, event := range batch {
		event := event
		wg.Go(func() error {
			d.processEvent(ctx, event)
			return nil
		})
	}
	_ = wg.Wait() // processEvent never returns an error; per-event failures are logged and leave the event unbacked.
}

// processEvent downloads video, fans it out to every destination, and
// marks the event backed up only if every destination succeeded
// (spec.md §4.6 step d).
func (d *Dispatcher) processEvent(ctx context.Context, event domain.Event) {
	log := d.log.With(logging.EventID(event.ID), logging.CameraID(event.CameraID))

	if !d.filter.allows(event) {
		log.Debug("event excluded by filter, skipping")
		return
	}

	if bs := d.bootstrap(); event.CameraID != "" {
		if cam, ok := bs.Cameras[event.CameraID]; ok && event.CameraName == "" {
			event.CameraName = cam.Name
		}
	}

	if event.EndTimeMs == nil {
		// Invariant guard: GetEventsReadyForBackup already filters on
		// end_time IS NOT NULL, so this should be unreachable.
		log.Error("ready event missing end_time, skipping")
		return
	}

	data, err := d.client.DownloadEventVideo(ctx, event.CameraID, event.StartTimeMs, *event.EndTimeMs)
	if err != nil {
		log.Error("downloading event video failed", logging.Error(err))
		return
	}

	// Fan out to every destination, bounded to parallel_uploads concurrent
	// stores (spec.md §6 backup.parallel_uploads).
	var fanOut errgroup.Group
	fanOut.SetLimit(d.maxInFlight)
	var mu stateMutex
	allSucceeded := true
	for _, dest := range d.destinations {
		dest := dest
		fanOut.Go(func() error {
			remotePath, storeErr := dest.Store(ctx, event, data)
			if storeErr != nil {
				mu.withLock(func() { allSucceeded = false })
				log.Error("store failed", logging.Destination(dest.Name()), logging.Error(&apperr.StoreError{Destination: dest.Name(), Err: storeErr}))
				return nil
			}

			backup := domain.Backup{
				EventID:    event.ID,
				RemotePath: dest.Name() + "/" + remotePath,
				BackupTime: d.now(),
				SizeBytes:  uint64(len(data)),
			}
			if err := d.ledger.InsertBackup(ctx, backup); err != nil {
				mu.withLock(func() { allSucceeded = false })
				log.Error("recording backup row failed", logging.Destination(dest.Name()), logging.Error(err))
				return nil
			}
			log.Info("stored event", logging.Destination(dest.Name()))
			return nil
		})
	}
	_ = fanOut.Wait()

	if !allSucceeded {
		log.Warn("one or more destinations failed, event stays unbacked and will retry next tick")
		return
	}

	if err := d.ledger.MarkEventBackedUp(ctx, event.ID); err != nil {
		log.Error("marking event backed up failed", logging.Error(err))
		return
	}
	log.Info("event fully backed up")
}
