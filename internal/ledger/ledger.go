// Package ledger is the transactional event/backup store (C3): a single
// SQLite file owning the events and backups tables, opened with foreign
// keys enforced and a bounded connection pool.
package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
)

// maxOpenConns bounds the ledger's connection pool (spec.md §5: "Ledger
// pool: bounded to 5 concurrent connections").
const maxOpenConns = 5

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	smart_detect_types TEXT NOT NULL DEFAULT '',
	camera_id TEXT NOT NULL,
	camera_name TEXT NOT NULL DEFAULT '',
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	backed_up INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backups (
	event_id TEXT NOT NULL,
	remote_path TEXT NOT NULL,
	backup_time INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	PRIMARY KEY (event_id, remote_path),
	FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
);
`

// Ledger owns the database connection pool. The ledger is the only writer;
// C5, C6 and C7 share it read/write by identity but writes are serialized
// by the pool and by SQLite itself.
type Ledger struct {
	db *sql.DB
}

// Open creates the on-disk file if missing, bootstraps the schema
// idempotently, and enables foreign-key enforcement.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &apperr.LedgerError{Op: "mkdir", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, &apperr.LedgerError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(maxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &apperr.LedgerError{Op: "bootstrap schema", Err: err}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &apperr.LedgerError{Op: "enable foreign keys", Err: err}
	}

	return &Ledger{db: db}, nil
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// UpsertEvent inserts a brand-new row, or updates an existing one while
// preserving a true backed_up flag (DESIGN.md Open Question #1): the
// update clause never lowers backed_up, so a listener write racing a
// dispatcher mark can never undo it.
func (l *Ledger) UpsertEvent(ctx context.Context, e domain.Event) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, smart_detect_types, camera_id, camera_name, start_time, end_time, backed_up)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			smart_detect_types = excluded.smart_detect_types,
			camera_id = excluded.camera_id,
			camera_name = CASE WHEN excluded.camera_name != '' THEN excluded.camera_name ELSE events.camera_name END,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			backed_up = events.backed_up OR excluded.backed_up
	`,
		e.ID, string(e.EventType), encodeSmartDetectTypes(e.SmartDetectTypes), e.CameraID, e.CameraName,
		e.StartTimeMs, nullableInt64(e.EndTimeMs), e.BackedUp,
	)
	if err != nil {
		return &apperr.LedgerError{Op: "upsert_event", Err: err}
	}
	return nil
}

// MarkEventBackedUp sets backed_up = true for a single row. Idempotent.
func (l *Ledger) MarkEventBackedUp(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE events SET backed_up = 1 WHERE id = ?`, id)
	if err != nil {
		return &apperr.LedgerError{Op: "mark_event_backed_up", Err: err}
	}
	return nil
}

// GetEventByID fetches a single event row. Returns (domain.Event{}, false, nil)
// when no row matches.
func (l *Ledger) GetEventByID(ctx context.Context, id string) (domain.Event, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, event_type, smart_detect_types, camera_id, camera_name, start_time, end_time, backed_up
		FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, &apperr.LedgerError{Op: "get_event_by_id", Err: err}
	}
	return event, true, nil
}

// GetEventsReadyForBackup returns every row with backed_up = false AND
// end_time IS NOT NULL, per spec.md §4.3 and the invariant in §8.
func (l *Ledger) GetEventsReadyForBackup(ctx context.Context) ([]domain.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, smart_detect_types, camera_id, camera_name, start_time, end_time, backed_up
		FROM events WHERE backed_up = 0 AND end_time IS NOT NULL`)
	if err != nil {
		return nil, &apperr.LedgerError{Op: "get_events_ready_for_backup", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByCamera returns every event row recorded for cameraID.
func (l *Ledger) GetEventsByCamera(ctx context.Context, cameraID string) ([]domain.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, smart_detect_types, camera_id, camera_name, start_time, end_time, backed_up
		FROM events WHERE camera_id = ?`, cameraID)
	if err != nil {
		return nil, &apperr.LedgerError{Op: "get_events_by_camera", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// InsertBackup records one successful store of an event to one
// destination. Idempotent on (event_id, remote_path).
func (l *Ledger) InsertBackup(ctx context.Context, b domain.Backup) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backups (event_id, remote_path, backup_time, size_bytes)
		VALUES (?, ?, ?, ?)`,
		b.EventID, b.RemotePath, b.BackupTime.UTC().Unix(), int64(b.SizeBytes),
	)
	if err != nil {
		return &apperr.LedgerError{Op: "insert_backup", Err: err}
	}
	return nil
}

// CleanupOldEvents deletes rows whose start_time predates now-retention.
// Backup rows cascade-delete with their parent event.
func (l *Ledger) CleanupOldEvents(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	cutoffMs := now.Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE start_time < ?`, cutoffMs)
	if err != nil {
		return 0, &apperr.LedgerError{Op: "cleanup_old_events", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &apperr.LedgerError{Op: "cleanup_old_events", Err: err}
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (domain.Event, error) {
	var (
		e                 domain.Event
		eventType         string
		smartDetectTypes  string
		endTime           sql.NullInt64
		backedUp          int
	)
	if err := row.Scan(&e.ID, &eventType, &smartDetectTypes, &e.CameraID, &e.CameraName, &e.StartTimeMs, &endTime, &backedUp); err != nil {
		return domain.Event{}, err
	}
	e.EventType = domain.EventType(eventType)
	e.SmartDetectTypes = decodeSmartDetectTypes(smartDetectTypes)
	e.BackedUp = backedUp != 0
	if endTime.Valid {
		v := endTime.Int64
		e.EndTimeMs = &v
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func encodeSmartDetectTypes(types []domain.SmartDetectType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ","
		}
		s += string(t)
	}
	return s
}

func decodeSmartDetectTypes(raw string) []domain.SmartDetectType {
	if raw == "" {
		return nil
	}
	var out []domain.SmartDetectType
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, domain.SmartDetectType(raw[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
