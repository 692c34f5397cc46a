package destination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
)

// Borg is an archival-only destination backed by the borg binary
// (spec.md §4.4): it never implements Storer, only Archiver and Pruner.
type Borg struct {
	repo            string
	sourcePath      string
	sshKeyPath      string
	passphrase      string
	appendOnly      bool
	retentionPeriod time.Duration
	runner          commandRunner
	log             *logging.Logger
	now             func() time.Time
}

// NewBorg constructs a Borg archival destination. sourcePath is the data
// root archived into repo (DESIGN.md Open Question #2: always an explicit
// configured path, never a hard-coded literal).
func NewBorg(repo, sourcePath, sshKeyPath, passphrase string, appendOnly bool, retentionPeriod time.Duration) *Borg {
	return &Borg{
		repo:            repo,
		sourcePath:      sourcePath,
		sshKeyPath:      sshKeyPath,
		passphrase:      passphrase,
		appendOnly:      appendOnly,
		retentionPeriod: retentionPeriod,
		runner:          execRunner{},
		log:             logging.L().With(logging.String("component", "destination"), logging.Destination("borg")),
		now:             time.Now,
	}
}

// Name identifies this destination.
func (b *Borg) Name() string { return "borg:" + b.repo }

func (b *Borg) env() []string {
	var env []string
	if b.passphrase != "" {
		env = append(env, "BORG_PASSPHRASE="+b.passphrase)
	}
	if b.sshKeyPath != "" {
		env = append(env, "BORG_RSH=ssh -i "+b.sshKeyPath)
	}
	return env
}

// Archive runs `borg create` against a timestamped archive name
// (spec.md §4.4).
func (b *Borg) Archive(ctx context.Context) (string, error) {
	archiveName := b.now().UTC().Format("2006-01-02T15-04-05")
	target := fmt.Sprintf("%s::%s", b.repo, archiveName)

	args := []string{
		"create", "--verbose", "--filter=AME", "--list", "--stats", "--show-rc",
		"--compression=lz4", target, b.sourcePath,
	}
	_, stderr, exitCode, err := b.runner.Run(ctx, "borg", args, nil, b.env())
	if err != nil {
		return "", &apperr.ArchiveError{Destination: b.Name(), Err: fmt.Errorf("running borg create: %w", err)}
	}
	if exitCode != 0 {
		return "", &apperr.ArchiveError{Destination: b.Name(), Err: fmt.Errorf("borg create exited %d: %s", exitCode, stderr)}
	}
	return archiveName, nil
}

// Prune runs `borg prune --keep-daily N`, skipped entirely when
// append_only is set (spec.md §4.4, scenario 6).
func (b *Borg) Prune(ctx context.Context) (PruneResult, error) {
	if b.appendOnly {
		b.log.Info("skipping prune: repository is append-only")
		return PruneResult{}, nil
	}

	keepDaily := int64(b.retentionPeriod / (24 * time.Hour))
	if keepDaily < 1 {
		keepDaily = 1
	}

	args := []string{
		"prune", "--verbose", "--list", "--show-rc",
		"--keep-daily", fmt.Sprintf("%d", keepDaily), b.repo,
	}
	_, stderr, exitCode, err := b.runner.Run(ctx, "borg", args, nil, b.env())
	if err != nil {
		return PruneResult{}, &apperr.PruneError{Destination: b.Name(), Err: fmt.Errorf("running borg prune: %w", err)}
	}
	if exitCode != 0 {
		return PruneResult{}, &apperr.PruneError{Destination: b.Name(), Err: fmt.Errorf("borg prune exited %d: %s", exitCode, stderr)}
	}
	return PruneResult{}, nil
}

// Init runs `borg init` against the repository, treating "already exists"
// stderr as success (SPEC_FULL.md §C.2, a repository-lifecycle helper the
// original carries beyond the steady-state archive/prune pair).
func (b *Borg) Init(ctx context.Context) error {
	_, stderr, exitCode, err := b.runner.Run(ctx, "borg", []string{"init", "--encryption=repokey", b.repo}, nil, b.env())
	if err != nil {
		return fmt.Errorf("running borg init: %w", err)
	}
	if exitCode != 0 && !alreadyExists(stderr) {
		return fmt.Errorf("borg init exited %d: %s", exitCode, stderr)
	}
	return nil
}

// Check runs `borg check` against the repository, a maintenance helper
// beyond the steady-state archive/prune pair (SPEC_FULL.md §C.2).
func (b *Borg) Check(ctx context.Context) error {
	_, stderr, exitCode, err := b.runner.Run(ctx, "borg", []string{"check", b.repo}, nil, b.env())
	if err != nil {
		return fmt.Errorf("running borg check: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("borg check exited %d: %s", exitCode, stderr)
	}
	return nil
}

// ListArchives runs `borg list --short` and returns one archive name per
// line (SPEC_FULL.md §C.2).
func (b *Borg) ListArchives(ctx context.Context) ([]string, error) {
	stdout, stderr, exitCode, err := b.runner.Run(ctx, "borg", []string{"list", "--short", b.repo}, nil, b.env())
	if err != nil {
		return nil, fmt.Errorf("running borg list: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("borg list exited %d: %s", exitCode, stderr)
	}
	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// alreadyExists reports whether stderr indicates a non-fatal
// "already exists" condition on repository init (spec.md §6).
func alreadyExists(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "already exists")
}
