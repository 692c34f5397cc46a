package destination

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
)

func TestLocalFsStoreWritesFileAndReturnsRelativePath(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFs(dir, "{camera_name}/{date}/{time}_{detection_type}.mp4", time.Hour)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	end := start + 20000
	event := domain.Event{
		ID: "evt1", EventType: domain.EventMotion, CameraName: "Driveway",
		StartTimeMs: start, EndTimeMs: &end,
	}

	relPath, err := fs.Store(context.Background(), event, []byte("video-bytes"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	want := "Driveway/2026-01-02/03-04-05_motion.mp4"
	if relPath != want {
		t.Fatalf("got %q want %q", relPath, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, relPath))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestLocalFsPruneDeletesOldFilesAndEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	fs := NewLocalFs(dir, "{event_id}.mp4", time.Hour)
	fs.now = func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) }

	oldDir := filepath.Join(dir, "CamA", "2026-01-01")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldFile := filepath.Join(oldDir, "old.mp4")
	if err := os.WriteFile(oldFile, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := fs.now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatal(err)
	}

	freshDir := filepath.Join(dir, "CamB", "2026-01-10")
	if err := os.MkdirAll(freshDir, 0o755); err != nil {
		t.Fatal(err)
	}
	freshFile := filepath.Join(freshDir, "new.mp4")
	if err := os.WriteFile(freshFile, []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := fs.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if result.FilesDeleted != 1 {
		t.Fatalf("expected 1 file deleted, got %d", result.FilesDeleted)
	}
	if result.BytesFreed != int64(len("stale")) {
		t.Fatalf("expected %d bytes freed, got %d", len("stale"), result.BytesFreed)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Fatal("expected old file removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "CamA")); !os.IsNotExist(err) {
		t.Fatal("expected now-empty CamA directory removed")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Fatal("expected fresh file preserved")
	}
}

func TestLocalFsPruneFailureIsPruneError(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(basePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := NewLocalFs(basePath, "{event_id}.mp4", time.Hour)

	_, err := fs.Prune(context.Background())
	if err == nil {
		t.Fatal("expected error when basePath is not a directory")
	}
	var pruneErr *apperr.PruneError
	if !errors.As(err, &pruneErr) {
		t.Fatalf("expected *apperr.PruneError, got %T", err)
	}
}

func TestLocalFsPruneOnMissingBasePathIsNoop(t *testing.T) {
	fs := NewLocalFs(filepath.Join(t.TempDir(), "missing"), "{event_id}.mp4", time.Hour)
	result, err := fs.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if result.FilesDeleted != 0 {
		t.Fatalf("expected no-op, got %+v", result)
	}
}
