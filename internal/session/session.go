// Package session persists conversation history as JSONL, one file per
// conversation key. The log is append-only: records are never mutated or
// reordered, and each append is a single write of one complete line.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
)

// Role values for session entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one turn in a conversation log.
type Entry struct {
	TS          float64             `json:"ts"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// Store reads and appends session logs under a single sessions directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// first append.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".jsonl")
}

// sanitizeKey maps a conversation key to a safe filename component, so a key
// carrying path separators cannot escape the sessions directory.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Append writes one record to the log identified by key, creating the file
// and directory if absent. The record is serialized and written in a single
// O_APPEND write so concurrent appends never interleave partial lines.
func (s *Store) Append(key, role, content string, attachments []domain.Attachment) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	entry := Entry{
		TS:      float64(time.Now().UnixNano()) / 1e9,
		Role:    role,
		Content: content,
	}
	if len(attachments) > 0 {
		entry.Attachments = attachments
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append session entry: %w", err)
	}
	return f.Close()
}

// History returns the last limit entries for key in append order. A key with
// no log yields an empty slice. Reading never truncates or compacts the log.
func (s *Store) History(key string, limit int) ([]Entry, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse session entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
