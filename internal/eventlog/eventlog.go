// Package eventlog implements the append-only, daily-rotated CSV event
// journal described in spec.md §4.2 and §6, plus the read-side summarizer
// used by the analytics endpoint.
//
// The rotation discipline (one file per UTC calendar day, header written
// once, never duplicated on reopen) is a direct port of
// original_source/hub/logging_utils.py's CsvEventLogger. The Go shape —
// a mutex-guarded *os.File behind a small interface — follows
// aldrin-isaac-newtron/pkg/audit/logger.go. The package has no
// package-level default instance; callers construct a FileLogger with New.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Kind is one of the closed set of event kinds spec.md §6 defines.
type Kind string

const (
	KindHeartbeatReceived Kind = "heartbeat_received"
	KindFragmentTriggered Kind = "fragment_triggered"
	KindNarrativeUnlocked Kind = "narrative_unlocked"
	KindConfigPushOK      Kind = "config_push_ok"
	KindConfigPushTimeout Kind = "config_push_timeout"
	KindConfigAck         Kind = "config_ack"
	KindAdminAction       Kind = "admin_action"
)

// Columns is the fixed CSV header, in order.
var Columns = []string{"timestamp", "event", "node_id", "detail"}

// Record is one row of the event journal.
type Record struct {
	Timestamp time.Time
	Event     Kind
	NodeID    string
	Detail    string
}

// Logger appends event records to the rotating CSV journal.
type Logger interface {
	Record(kind Kind, nodeID, detail string) error
	Latest() (string, bool)
	Summarize() (Summary, error)
	Close() error
}

// FileLogger is the on-disk Logger implementation.
type FileLogger struct {
	dir string

	mu          sync.Mutex
	currentDate string
	file        *os.File
	writer      *csv.Writer
}

var _ Logger = (*FileLogger)(nil)

// New creates a FileLogger rooted at dir, creating dir if necessary. No
// file is opened until the first Record call, matching the teacher's
// lazy-open-on-first-write discipline.
func New(dir string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: creating log directory %s: %w", dir, err)
	}
	return &FileLogger{dir: dir}, nil
}

// Record appends exactly one row, opening a new dated file first if the
// UTC calendar day has advanced since the last call.
func (l *FileLogger) Record(kind Kind, nodeID, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if err := l.ensureWriterLocked(now); err != nil {
		return err
	}

	row := []string{now.Format(time.RFC3339), string(kind), nodeID, detail}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("eventlog: writing record: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("eventlog: flushing record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("eventlog: syncing record to disk: %w", err)
	}
	return nil
}

func (l *FileLogger) ensureWriterLocked(now time.Time) error {
	date := now.Format("2006-01-02")
	if l.currentDate == date && l.writer != nil {
		return nil
	}
	l.closeLocked()

	path := filepath.Join(l.dir, date+"_events.csv")
	existed := fileExists(path)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: opening %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.currentDate = date

	if !existed {
		if err := l.writer.Write(Columns); err != nil {
			return fmt.Errorf("eventlog: writing header to %s: %w", path, err)
		}
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (l *FileLogger) closeLocked() {
	if l.file != nil {
		l.file.Close()
	}
	l.file = nil
	l.writer = nil
}

// Close closes the current file handle, if any.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	l.currentDate = ""
	return nil
}

// Latest returns the path of the "*_events.csv" file in the log directory
// whose name is lexicographically greatest.
func (l *FileLogger) Latest() (string, bool) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*_events.csv"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}
