// Package audit appends structured event records to a JSONL log and
// answers lookups over it, such as whether a required agent review has
// been recorded for a stage.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the controller.
const (
	EventTransition      = "TRANSITION"
	EventManualCheck     = "MANUAL_CHECK"
	EventAgentReview     = "AGENT_REVIEW"
	EventPhaseAdded      = "PHASE_ADDED"
	EventPhaseRemoved    = "PHASE_REMOVED"
	EventPhaseTransition = "PHASE_TRANSITION"
	EventTrackCreated    = "TRACK_CREATED"
	EventTrackSwitch     = "TRACK_SWITCH"
	EventTracksJoined    = "TRACKS_JOINED"
	EventTrackDeleted    = "TRACK_DELETED"
)

type Logger struct {
	dir     string
	logFile string
}

func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Logger{dir: dir, logFile: filepath.Join(dir, "workflow.log")}, nil
}

// LogFile returns the path of the append-only event log.
func (l *Logger) LogFile() string {
	return l.logFile
}

// LogEvent appends one JSON line: timestamp, a fresh event ID, the event
// type, and the given fields.
func (l *Logger) LogEvent(eventType string, fields map[string]any) error {
	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"event_id":  uuid.NewString(),
		"event":     eventType,
	}
	for k, v := range fields {
		entry[k] = v
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	f, err := os.OpenFile(l.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// RecordTransition logs a completed stage transition with its rule results.
func (l *Logger) RecordTransition(from, to, module string, results []map[string]any, forced bool, reason string) error {
	fields := map[string]any{
		"from":          from,
		"to":            to,
		"module":        module,
		"rules_checked": results,
		"forced":        forced,
	}
	if forced {
		fields["reason"] = reason
	}
	return l.LogEvent(EventTransition, fields)
}

// HasAgentReview reports whether an AGENT_REVIEW event exists for the
// given agent at the given stage, scoped to the given track ("" = global).
// A review recorded for one track never satisfies another track at the
// same stage.
func (l *Logger) HasAgentReview(agent, stage, track string) bool {
	f, err := os.Open(l.logFile)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["event"] != EventAgentReview {
			continue
		}
		if entry["agent"] != agent || entry["stage"] != stage {
			continue
		}
		logTrack, _ := entry["track"].(string)
		if logTrack == track {
			return true
		}
	}
	return false
}

// FileHash returns the SHA-256 of a file as hex, used as transition
// evidence. Sentinels instead of errors: "not_found" and "error".
func FileHash(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "not_found"
	}
	f, err := os.Open(path)
	if err != nil {
		return "error"
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "error"
	}
	return hex.EncodeToString(h.Sum(nil))
}
