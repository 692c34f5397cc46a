package destination

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
)

// fakeRunner records every invocation and returns a scripted response,
// letting the Rclone/Borg adapters be exercised without a real binary.
type fakeRunner struct {
	calls   [][]string
	stdins  [][]byte
	stdout  string
	stderr  string
	exit    int
	err     error
	onCall  func(args []string) (stdout, stderr string, exit int, err error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, stdin io.Reader, _ []string) (string, string, int, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		f.stdins = append(f.stdins, data)
	}
	if f.onCall != nil {
		return f.onCall(args)
	}
	return f.stdout, f.stderr, f.exit, f.err
}

func testEvent() domain.Event {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	end := start + 20000
	return domain.Event{
		ID: "evt1", EventType: domain.EventMotion, CameraName: "Driveway",
		StartTimeMs: start, EndTimeMs: &end,
	}
}

func TestRcloneStoreTempFileMode(t *testing.T) {
	runner := &fakeRunner{}
	r := NewRclone("b2", "base", "{camera_name}/{event_id}.mp4", UploadModeTempFile, time.Hour)
	r.runner = runner

	dest, err := r.Store(context.Background(), testEvent(), []byte("bytes"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if dest != "b2:base/Driveway/evt1.mp4" {
		t.Fatalf("unexpected dest: %q", dest)
	}
	if len(runner.calls) != 1 || runner.calls[0][1] != "copyto" {
		t.Fatalf("unexpected calls: %v", runner.calls)
	}
}

func TestRcloneStoreSingleStreamMode(t *testing.T) {
	runner := &fakeRunner{}
	r := NewRclone("b2", "base", "{event_id}.mp4", UploadModeSingleStream, time.Hour)
	r.runner = runner

	_, err := r.Store(context.Background(), testEvent(), []byte("hello-world"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0][1] != "rcat" {
		t.Fatalf("unexpected calls: %v", runner.calls)
	}
	if string(runner.stdins[0]) != "hello-world" {
		t.Fatalf("unexpected stdin: %q", runner.stdins[0])
	}
}

func TestRcloneStoreChunkedStreamModeSendsFullPayload(t *testing.T) {
	runner := &fakeRunner{}
	r := NewRclone("b2", "base", "{event_id}.mp4", UploadModeChunkedStream, time.Hour)
	r.runner = runner

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	_, err := r.Store(context.Background(), testEvent(), payload)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(runner.stdins[0]) != len(payload) {
		t.Fatalf("expected full payload streamed, got %d bytes", len(runner.stdins[0]))
	}
}

func TestRcloneStoreFailsOnNonZeroExit(t *testing.T) {
	runner := &fakeRunner{exit: 1, stderr: "boom"}
	r := NewRclone("b2", "base", "{event_id}.mp4", UploadModeTempFile, time.Hour)
	r.runner = runner

	_, err := r.Store(context.Background(), testEvent(), []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRclonePruneRunsDryRunThenDeleteThenCleanup(t *testing.T) {
	runner := &fakeRunner{onCall: func(args []string) (string, string, int, error) {
		switch args[0] {
		case "delete":
			for _, a := range args {
				if a == "--dry-run" {
					return "2026/01/01: Deleted\n2026/01/02: Deleted\n", "", 0, nil
				}
			}
			return "", "", 0, nil
		case "cleanup":
			return "", "", 0, nil
		}
		return "", "", 0, nil
	}}
	r := NewRclone("b2", "base", "{event_id}.mp4", UploadModeTempFile, 90*time.Second)
	r.runner = runner

	result, err := r.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if result.FilesDeleted != 2 {
		t.Fatalf("expected 2 candidates counted, got %d", result.FilesDeleted)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected dry-run + delete + cleanup, got %d calls: %v", len(runner.calls), runner.calls)
	}

	// retention_period=90s must derive "--min-age 1m" (spec.md scenario 5).
	found := false
	for i, a := range runner.calls[0] {
		if a == "--min-age" && runner.calls[0][i+1] == "1m" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --min-age 1m, calls: %v", runner.calls[0])
	}
}

func TestRclonePruneFailureIsPruneError(t *testing.T) {
	runner := &fakeRunner{exit: 1, stderr: "boom"}
	r := NewRclone("b2", "base", "{event_id}.mp4", UploadModeTempFile, time.Hour)
	r.runner = runner

	_, err := r.Prune(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var pruneErr *apperr.PruneError
	if !errors.As(err, &pruneErr) {
		t.Fatalf("expected *apperr.PruneError, got %T", err)
	}
}
