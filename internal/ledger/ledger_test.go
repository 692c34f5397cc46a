package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestUpsertEventInsertsNewRow(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	err := l.UpsertEvent(ctx, domain.Event{
		ID: "evt1", EventType: domain.EventMotion, CameraID: "camA",
		StartTimeMs: 1_700_000_000_000, BackedUp: false,
	})
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	event, ok, err := l.GetEventByID(ctx, "evt1")
	if err != nil {
		t.Fatalf("GetEventByID: %v", err)
	}
	if !ok {
		t.Fatal("expected event to exist")
	}
	if event.EndTimeMs != nil {
		t.Errorf("expected nil end_time, got %v", event.EndTimeMs)
	}
	if event.BackedUp {
		t.Error("expected backed_up = false on initial insert")
	}
}

func TestUpsertEventNeverLowersBackedUp(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	_ = l.UpsertEvent(ctx, domain.Event{ID: "evt1", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000})
	if err := l.MarkEventBackedUp(ctx, "evt1"); err != nil {
		t.Fatalf("MarkEventBackedUp: %v", err)
	}

	// A listener upsert for the same id (e.g. a late-arriving duplicate
	// start frame) must not undo the backed_up flag.
	end := int64(2000)
	if err := l.UpsertEvent(ctx, domain.Event{ID: "evt1", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000, EndTimeMs: &end}); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	event, _, err := l.GetEventByID(ctx, "evt1")
	if err != nil {
		t.Fatalf("GetEventByID: %v", err)
	}
	if !event.BackedUp {
		t.Error("expected backed_up to remain true across a subsequent upsert")
	}
}

func TestGetEventsReadyForBackup(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	end := int64(2000)
	_ = l.UpsertEvent(ctx, domain.Event{ID: "finished", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000, EndTimeMs: &end})
	_ = l.UpsertEvent(ctx, domain.Event{ID: "unfinished", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000})
	_ = l.MarkEventBackedUp(ctx, "finished")
	end2 := int64(3000)
	_ = l.UpsertEvent(ctx, domain.Event{ID: "ready", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000, EndTimeMs: &end2})

	ready, err := l.GetEventsReadyForBackup(ctx)
	if err != nil {
		t.Fatalf("GetEventsReadyForBackup: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "ready" {
		t.Fatalf("expected exactly [ready], got %+v", ready)
	}
}

func TestInsertBackupIdempotent(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	_ = l.UpsertEvent(ctx, domain.Event{ID: "evt1", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: 1000})

	b := domain.Backup{EventID: "evt1", RemotePath: "/data/evt1.mp4", BackupTime: time.Unix(100, 0), SizeBytes: 1024}
	if err := l.InsertBackup(ctx, b); err != nil {
		t.Fatalf("InsertBackup: %v", err)
	}
	b.SizeBytes = 2048
	if err := l.InsertBackup(ctx, b); err != nil {
		t.Fatalf("InsertBackup (replace): %v", err)
	}
}

func TestCleanupOldEvents(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	now := time.Now()

	_ = l.UpsertEvent(ctx, domain.Event{ID: "old", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: now.Add(-48 * time.Hour).UnixMilli()})
	_ = l.UpsertEvent(ctx, domain.Event{ID: "new", EventType: domain.EventMotion, CameraID: "camA", StartTimeMs: now.UnixMilli()})

	deleted, err := l.CleanupOldEvents(ctx, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("CleanupOldEvents: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted, got %d", deleted)
	}

	if _, ok, _ := l.GetEventByID(ctx, "old"); ok {
		t.Error("expected old event to be deleted")
	}
	if _, ok, _ := l.GetEventByID(ctx, "new"); !ok {
		t.Error("expected new event to survive cleanup")
	}
}

func TestGetEventByIDMissing(t *testing.T) {
	l := openTestLedger(t)
	_, ok, err := l.GetEventByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetEventByID: %v", err)
	}
	if ok {
		t.Fatal("expected ok = false for missing row")
	}
}
