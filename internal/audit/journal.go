// Package audit is the broker's operator-facing history of settled
// request/response exchanges, keyed by the world clientId that routed
// them: an append-only per-client JSONL log using a file-lock directory
// and ULID record IDs. Only settled exchanges are written, never
// in-flight ones.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var clientIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Entry is one completed request/response pair routed through a world.
type Entry struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	Op         string          `json:"op"`
	Request    json.RawMessage `json:"request,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Journal is an append-only, per-clientId log of settled exchanges.
type Journal struct {
	RootDir string
}

// NewJournal returns a Journal rooted at rootDir, creating it if absent.
func NewJournal(rootDir string) (*Journal, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create root dir: %w", err)
	}
	return &Journal{RootDir: rootDir}, nil
}

func (j *Journal) filePath(clientID string) string {
	safe := clientIDSanitizer.ReplaceAllString(clientID, "_")
	return filepath.Join(j.RootDir, safe+".jsonl")
}

func (j *Journal) lockPath(clientID string) string {
	safe := clientIDSanitizer.ReplaceAllString(clientID, "_")
	return filepath.Join(j.RootDir, safe+".lock")
}

const (
	lockStaleDuration = 30 * time.Second
	lockTimeout       = 10 * time.Second
	lockPollInterval  = 8 * time.Millisecond
)

func (j *Journal) withClientFileLock(clientID string, fn func() error) error {
	lock := j.lockPath(clientID)
	deadline := time.Now().Add(lockTimeout)
	for {
		err := os.Mkdir(lock, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		// Break stale locks left by crashed processes.
		if info, statErr := os.Stat(lock); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleDuration {
				_ = os.RemoveAll(lock)
				continue
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("audit: timed out acquiring lock for clientId %s", clientID)
		}
		time.Sleep(lockPollInterval)
	}
	defer func() {
		_ = os.RemoveAll(lock)
	}()
	return fn()
}

// Record appends entry to clientId's journal, assigning it a fresh ULID if
// it doesn't already have an ID.
func (j *Journal) Record(clientID string, entry Entry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}

	return j.withClientFileLock(clientID, func() error {
		f, err := os.OpenFile(j.filePath(clientID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(line, '\n'))
		return err
	})
}

// Tail returns up to limit of the most recent entries recorded for
// clientId, oldest first. A limit <= 0 returns every entry.
func (j *Journal) Tail(clientID string, limit int) ([]Entry, error) {
	f, err := os.Open(j.filePath(clientID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	entries := make([]Entry, 0, 128)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// RecordExchange adapts internal/dispatch.AuditSink to Record, building an
// Entry from the raw request/result payloads and an optional error message
// (world-reported, or the session-loss reason). Marshal failures are swallowed: audit logging never fails
// a REST dispatch that has already succeeded.
func (j *Journal) RecordExchange(clientID, op, requestID string, request, result []byte, errMsg string) {
	_ = j.Record(clientID, Entry{
		RequestID: requestID,
		Op:        op,
		Request:   json.RawMessage(request),
		Result:    json.RawMessage(result),
		Error:     errMsg,
	})
}

// Cleanup removes the journal's entire root directory, entries and lock
// directories alike. Nothing in the broker calls it; graceful shutdown
// leaves the journal's directory in place.
func (j *Journal) Cleanup() error {
	return os.RemoveAll(j.RootDir)
}
