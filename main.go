// Command unifi-protect-backup mirrors motion/event video clips from a
// UniFi Protect recorder to one or more backup destinations, with a
// durable event ledger that survives restarts and retries (spec.md §1-2).
//
// This is the supervisor (C8): it wires the controller client, ledger,
// destination adapters, event listener, backup dispatcher and maintenance
// scheduler together and starts C5-C7 concurrently. The first task to
// return, success or error, triggers shutdown of the whole process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/config"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/controller"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/destination"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/dispatcher"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/ledger"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/listener"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/maintenance"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "unifi-protect-backup:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("unifi-protect-backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml (default $HOME/.unifi-protect-backup/config.toml)")
	validateOnly := fs.Bool("validate", false, "parse and validate the config, then exit")
	borgInit := fs.String("borg-init", "", "initialize the named borg archive destination's repository and exit (SPEC_FULL.md §C.2)")
	borgCheck := fs.String("borg-check", "", "run borg check against the named archive destination's repository and exit (SPEC_FULL.md §C.2)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	explicitPath := *configPath != ""
	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}

	if !explicitPath {
		if err := config.EnsureExists(path, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("first-launch setup: %w", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if *validateOnly {
		fmt.Println("config OK:", path)
		return nil
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	logging.ReplaceGlobals(log)

	if *borgInit != "" {
		return runBorgLifecycle(cfg, *borgInit, (*destination.Borg).Init)
	}
	if *borgCheck != "" {
		return runBorgLifecycle(cfg, *borgCheck, (*destination.Borg).Check)
	}

	return runSupervisor(cfg, log)
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logDir := filepath.Dir(cfg.Database.Path)
	if logDir == "" || logDir == "." {
		logDir = filepath.Join(config.DefaultPath(), "..")
	}

	var loki *logging.LokiSink
	if cfg.Logging != nil && cfg.Logging.Loki != nil {
		l := cfg.Logging.Loki
		loki = logging.NewLokiSink(l.URL, l.Username, string(l.Password), l.Labels)
	}

	return logging.New(logging.RotationConfig{
		Level:      "info",
		Path:       filepath.Join(logDir, "unifi-protect-backup.log"),
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}, loki)
}

// runBorgLifecycle locates the named borg archive destination in cfg and
// invokes the requested lifecycle operation (SPEC_FULL.md §C.2).
func runBorgLifecycle(cfg *config.Config, repo string, op func(*destination.Borg, context.Context) error) error {
	for _, remote := range cfg.Archive.Remote {
		if remote.Borg == nil || remote.Borg.BorgRepo != repo {
			continue
		}
		b := destination.NewBorg(remote.Borg.BorgRepo, cfg.Archive.SourcePath, remote.Borg.SSHKeyPath,
			string(remote.Borg.BorgPassphrase), remote.Borg.AppendOnly, cfg.Archive.RetentionPeriod.Duration)
		return op(b, context.Background())
	}
	return fmt.Errorf("no archive.remote.borg configured with borg_repo %q", repo)
}

// runSupervisor builds every component and starts C5-C7 concurrently
// (spec.md §4.8). The first task to return ends the group and the
// process exits with its error, if any.
func runSupervisor(cfg *config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	client := controller.New(controller.Config{
		Address:   cfg.Unifi.Address,
		Port:      cfg.Unifi.Port,
		Username:  cfg.Unifi.Username,
		Password:  string(cfg.Unifi.Password),
		VerifySSL: cfg.Unifi.VerifySSL,
	})

	if err := client.Login(ctx); err != nil {
		return err
	}

	bootstrap, err := client.GetBootstrap(ctx)
	if err != nil {
		return err
	}
	log.Info("bootstrap fetched", logging.Int("cameras", len(bootstrap.Cameras)))
	// The bootstrap snapshot is immutable for the life of a run (spec.md
	// §3); every component that needs it reads the same closed-over value.
	bootstrapFn := func() domain.Bootstrap { return bootstrap }

	backupDestinations, err := buildBackupDestinations(cfg)
	if err != nil {
		return err
	}
	archivePruners, archivers, err := buildArchiveDestinations(cfg)
	if err != nil {
		return err
	}

	var pruners []destination.Pruner
	for _, d := range backupDestinations {
		if p, ok := d.(destination.Pruner); ok {
			pruners = append(pruners, p)
			continue
		}
		log.Warn("backup destination does not support pruning, retention will not apply to it", logging.Destination(d.Name()))
	}
	pruners = append(pruners, archivePruners...)

	eventListener := listener.New(client, store, bootstrapFn)

	dispatch := dispatcher.New(dispatcher.Config{
		Ledger:       store,
		Client:       client,
		Destinations: backupDestinations,
		Bootstrap:    bootstrapFn,
		Filter: dispatcher.Filter{
			DetectionTypes: cfg.Backup.DetectionTypes,
			IgnoreCameras:  cfg.Backup.IgnoreCameras,
			Cameras:        cfg.Backup.Cameras,
		},
		PollInterval:    cfg.Backup.PollInterval.Duration,
		ParallelUploads: int(cfg.Backup.ParallelUploads),
	})

	scheduler := maintenance.New(maintenance.Config{
		Archivers:       archivers,
		Pruners:         pruners,
		ArchiveInterval: cfg.Archive.ArchiveInterval.Duration,
		PurgeInterval:   cfg.Backup.PurgeInterval.Duration,
	})

	retentionTicker := time.NewTicker(dayOrPurgeInterval(cfg))
	defer retentionTicker.Stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return eventListener.Run(gctx) })
	group.Go(func() error { return dispatch.Run(gctx) })
	group.Go(func() error { return scheduler.Run(gctx) })
	group.Go(func() error { return runLedgerRetention(gctx, store, cfg.Backup.RetentionPeriod.Duration, retentionTicker) })

	err = group.Wait()
	if err != nil && ctx.Err() != nil {
		// Cancellation via signal, not a genuine task failure.
		return nil
	}
	return err
}

// runLedgerRetention periodically deletes ledger rows past
// backup.retention_period (spec.md §4.3 cleanup_old_events).
func runLedgerRetention(ctx context.Context, store *ledger.Ledger, retention time.Duration, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := store.CleanupOldEvents(ctx, retention, time.Now())
			if err != nil {
				logging.L().Error("ledger retention cleanup failed", logging.Error(err))
				continue
			}
			if n > 0 {
				logging.L().Info("ledger retention cleanup", logging.Int64("rows_deleted", n))
			}
		}
	}
}

func dayOrPurgeInterval(cfg *config.Config) time.Duration {
	if cfg.Backup.PurgeInterval.Duration > 0 {
		return cfg.Backup.PurgeInterval.Duration
	}
	return 24 * time.Hour
}

func buildBackupDestinations(cfg *config.Config) ([]destination.Storer, error) {
	var out []destination.Storer
	for _, remote := range cfg.Backup.Remote {
		switch {
		case remote.Local != nil:
			out = append(out, destination.NewLocalFs(remote.Local.PathBuf, cfg.Backup.FileStructureFormat, cfg.Backup.RetentionPeriod.Duration))
		case remote.Rclone != nil:
			mode := destination.UploadModeTempFile
			switch {
			case remote.Rclone.ChunkStreamUploads:
				mode = destination.UploadModeChunkedStream
			case remote.Rclone.StreamUpload:
				mode = destination.UploadModeSingleStream
			}
			out = append(out, destination.NewRclone(remote.Rclone.Remote, remote.Rclone.BasePath,
				cfg.Backup.FileStructureFormat, mode, cfg.Backup.RetentionPeriod.Duration))
		default:
			return nil, fmt.Errorf("backup.remote entry configures neither local nor rclone")
		}
	}
	return out, nil
}

func buildArchiveDestinations(cfg *config.Config) ([]destination.Pruner, []destination.Archiver, error) {
	var pruners []destination.Pruner
	var archivers []destination.Archiver
	for _, remote := range cfg.Archive.Remote {
		if remote.Borg == nil {
			return nil, nil, fmt.Errorf("archive.remote entry missing borg configuration")
		}
		b := destination.NewBorg(remote.Borg.BorgRepo, cfg.Archive.SourcePath, remote.Borg.SSHKeyPath,
			string(remote.Borg.BorgPassphrase), remote.Borg.AppendOnly, cfg.Archive.RetentionPeriod.Duration)
		pruners = append(pruners, b)
		archivers = append(archivers, b)
	}
	return pruners, archivers, nil
}
