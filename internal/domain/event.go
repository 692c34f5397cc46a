// Package domain holds the types shared across the controller, ledger,
// listener and dispatcher packages: events, cameras and the bootstrap
// snapshot, plus the pure filename-templating and filter helpers that act on
// them.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies the kind of detection interval a camera reported.
type EventType string

const (
	EventMotion      EventType = "motion"
	EventRing        EventType = "ring"
	EventLine        EventType = "line"
	EventSmartDetect EventType = "smartdetect"
)

// SmartDetectType is a sub-classification attached to SmartDetect events.
type SmartDetectType string

const (
	SmartDetectPerson       SmartDetectType = "person"
	SmartDetectVehicle      SmartDetectType = "vehicle"
	SmartDetectPackage      SmartDetectType = "package"
	SmartDetectAnimal       SmartDetectType = "animal"
	SmartDetectFace         SmartDetectType = "face"
	SmartDetectLicensePlate SmartDetectType = "license_plate"
)

// Event is a row of the ledger's events table: one motion/detection interval
// on one camera.
type Event struct {
	ID               string
	EventType        EventType
	SmartDetectTypes []SmartDetectType
	CameraID         string
	CameraName       string
	StartTimeMs      int64
	EndTimeMs        *int64
	BackedUp         bool
}

// IsFinished reports whether the event has a recorded end time.
func (e Event) IsFinished() bool {
	return e.EndTimeMs != nil
}

// Backup is one successful store of an Event to one destination.
type Backup struct {
	EventID    string
	RemotePath string
	BackupTime time.Time
	SizeBytes  uint64
}

// ShouldBackup reports whether e matches the configured detection-type
// filter. An empty filter matches everything.
func (e Event) ShouldBackup(detectionTypes []string) bool {
	if len(detectionTypes) == 0 {
		return true
	}
	switch e.EventType {
	case EventMotion:
		return containsString(detectionTypes, "motion")
	case EventRing:
		return containsString(detectionTypes, "ring")
	case EventLine:
		return containsString(detectionTypes, "line")
	case EventSmartDetect:
		for _, t := range e.SmartDetectTypes {
			if containsString(detectionTypes, string(t)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// FormatDetectionType renders the event's detection type(s) as a single
// filename-safe token, joining multiple smart-detect types with underscores.
func (e Event) FormatDetectionType() string {
	switch e.EventType {
	case EventMotion:
		return "motion"
	case EventRing:
		return "ring"
	case EventLine:
		return "line"
	case EventSmartDetect:
		if len(e.SmartDetectTypes) == 0 {
			return "smart_detect"
		}
		parts := make([]string, 0, len(e.SmartDetectTypes))
		for _, t := range e.SmartDetectTypes {
			parts = append(parts, string(t))
		}
		return strings.Join(parts, "_")
	default:
		return string(e.EventType)
	}
}

// FormatFilename expands the configured file_structure_format against this
// event. Substitution happens once; none of the replacement values contain
// `{` so re-applying the same format string to the result is a no-op.
func (e Event) FormatFilename(format string) string {
	start := time.UnixMilli(e.StartTimeMs).UTC()

	endStr := "ongoing"
	if e.EndTimeMs != nil {
		endStr = time.UnixMilli(*e.EndTimeMs).UTC().Format("15-04-05")
	}

	cameraName := e.CameraName
	if cameraName == "" {
		cameraName = "Unknown"
	}

	replacer := strings.NewReplacer(
		"{camera_name}", cameraName,
		"{camera_id}", e.CameraID,
		"{date}", start.Format("2006-01-02"),
		"{time}", start.Format("15-04-05"),
		"{end_time}", endStr,
		"{detection_type}", e.FormatDetectionType(),
		"{event_id}", e.ID,
	)
	return replacer.Replace(format)
}

// AgeString derives the rclone --min-age argument from a retention duration:
// days when the duration is at least a day, else hours, else minutes
// (minimum 1).
func AgeString(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int64(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	default:
		minutes := int64(d / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("%dm", minutes)
	}
}
