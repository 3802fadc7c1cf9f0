// Package events keeps the exec journal: one JSON line per remote command run.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/treykane/sshexec/internal/appconfig"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusError  = "error"
)

// Event is one exec record persisted to journal.jsonl.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	HostAlias  string    `json:"host_alias,omitempty"`
	Command    string    `json:"command"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Query controls event filtering and bounded reads.
type Query struct {
	HostAlias string
	Status    string
	Since     time.Time
	Limit     int
}

// Store provides append/read access to the exec journal.
type Store struct {
	path string
}

// NewStore returns a Store for the default journal path.
func NewStore() (*Store, error) {
	path, err := appconfig.JournalPath()
	if err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// NewStoreAt returns a Store backed by path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Append writes a single event as one JSON line. Missing IDs and timestamps
// are filled in. Concurrent writers are serialized with a file lock.
func (s *Store) Append(evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return evt, err
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return evt, fmt.Errorf("lock journal: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return evt, err
	}
	defer f.Close()

	b, err := json.Marshal(evt)
	if err != nil {
		return evt, err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return evt, err
	}
	return evt, nil
}

// Read returns events in append order, filtered by query, with optional limit.
func (s *Store) Read(q Query) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if !matches(evt, q) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}

func matches(evt Event, q Query) bool {
	if strings.TrimSpace(q.HostAlias) != "" && evt.HostAlias != q.HostAlias {
		return false
	}
	if strings.TrimSpace(q.Status) != "" && evt.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
