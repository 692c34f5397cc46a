package destination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
)

func TestBorgArchiveInvokesCreateWithSourceAndEnv(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBorg("ssh://host/repo", "/data/local", "/home/u/.ssh/id_ed25519", "s3cr3t", false, 30*24*time.Hour)
	b.runner = runner
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	name, err := b.Archive(context.Background())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if name != "2026-01-02T03-04-05" {
		t.Fatalf("unexpected archive name: %q", name)
	}
	if len(runner.calls) != 1 || runner.calls[0][1] != "create" {
		t.Fatalf("unexpected calls: %v", runner.calls)
	}
	last := runner.calls[0][len(runner.calls[0])-1]
	if last != "/data/local" {
		t.Fatalf("expected source path as last arg, got %q", last)
	}
}

func TestBorgPruneSkippedWhenAppendOnly(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBorg("ssh://host/repo", "/data/local", "", "", true, 30*24*time.Hour)
	b.runner = runner

	if _, err := b.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no borg invocation when append-only, got %v", runner.calls)
	}
}

func TestBorgPruneDerivesKeepDailyFromRetention(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBorg("ssh://host/repo", "/data/local", "", "", false, 10*24*time.Hour)
	b.runner = runner

	if _, err := b.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	found := false
	for i, a := range runner.calls[0] {
		if a == "--keep-daily" && runner.calls[0][i+1] == "10" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --keep-daily 10, got %v", runner.calls[0])
	}
}

func TestBorgInitTreatsAlreadyExistsAsSuccess(t *testing.T) {
	runner := &fakeRunner{exit: 2, stderr: "A repository already exists at this location"}
	b := NewBorg("ssh://host/repo", "/data/local", "", "", false, time.Hour)
	b.runner = runner

	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("expected already-exists to be treated as success, got %v", err)
	}
}

func TestBorgArchiveFailsOnGenuineError(t *testing.T) {
	runner := &fakeRunner{exit: 2, stderr: "permission denied"}
	b := NewBorg("ssh://host/repo", "/data/local", "", "", false, time.Hour)
	b.runner = runner

	_, err := b.Archive(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var archiveErr *apperr.ArchiveError
	if !errors.As(err, &archiveErr) {
		t.Fatalf("expected *apperr.ArchiveError, got %T", err)
	}
}

func TestBorgPruneFailsOnGenuineErrorAsPruneError(t *testing.T) {
	runner := &fakeRunner{exit: 2, stderr: "permission denied"}
	b := NewBorg("ssh://host/repo", "/data/local", "", "", false, time.Hour)
	b.runner = runner

	_, err := b.Prune(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var pruneErr *apperr.PruneError
	if !errors.As(err, &pruneErr) {
		t.Fatalf("expected *apperr.PruneError, got %T", err)
	}
}
