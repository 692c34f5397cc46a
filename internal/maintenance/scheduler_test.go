package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/destination"
)

type countingPruner struct {
	name  string
	calls int32
	fail  bool
}

func (p *countingPruner) Name() string { return p.name }
func (p *countingPruner) Prune(context.Context) (destination.PruneResult, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.fail {
		return destination.PruneResult{}, errors.New("boom")
	}
	return destination.PruneResult{FilesDeleted: 1}, nil
}

type countingArchiver struct {
	name  string
	calls int32
}

func (a *countingArchiver) Name() string { return a.name }
func (a *countingArchiver) Archive(context.Context) (string, error) {
	atomic.AddInt32(&a.calls, 1)
	return "archive-1", nil
}

func TestSchedulerPrunesAllDestinationsConcurrently(t *testing.T) {
	local := &countingPruner{name: "local"}
	borg := &countingPruner{name: "borg", fail: true}

	s := New(Config{
		Pruners:       []destination.Pruner{local, borg},
		PurgeInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-ctx.Done()
	<-done

	if atomic.LoadInt32(&local.calls) == 0 {
		t.Fatal("expected local pruner invoked")
	}
	if atomic.LoadInt32(&borg.calls) == 0 {
		t.Fatal("expected borg pruner invoked despite failing")
	}
}

func TestSchedulerArchivesIndependentlyOfPruning(t *testing.T) {
	archiver := &countingArchiver{name: "borg"}

	s := New(Config{
		Archivers:       []destination.Archiver{archiver},
		ArchiveInterval: 20 * time.Millisecond,
		PurgeInterval:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-ctx.Done()
	<-done

	if atomic.LoadInt32(&archiver.calls) == 0 {
		t.Fatal("expected archiver invoked on its own interval")
	}
}

func TestSchedulerSkipsArchiverWhenNoArchivalDestinations(t *testing.T) {
	var mu sync.Mutex
	var pruneCalls int
	p := &countingPruner{name: "local"}

	s := New(Config{
		Pruners:       []destination.Pruner{p},
		PurgeInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-ctx.Done()
	<-done

	mu.Lock()
	pruneCalls = int(atomic.LoadInt32(&p.calls))
	mu.Unlock()
	if pruneCalls == 0 {
		t.Fatal("expected pruner to still run when no archivers are configured")
	}
}
