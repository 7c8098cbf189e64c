// Package memory manages an agent workspace's long-term notes: MEMORY.md,
// replaced whole on every update, and HISTORY.md, an append-only event log.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	memoryFile  = "MEMORY.md"
	historyFile = "HISTORY.md"
)

// Read returns the full MEMORY.md content, or "" if the file does not exist.
func Read(workspace string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, memoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read memory: %w", err)
	}
	return string(data), nil
}

// Write replaces MEMORY.md atomically: the new content is written to a temp
// file in the same directory and renamed over the old one, so a concurrent
// reader never observes a partial write.
func Write(workspace, content string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	tmp, err := os.CreateTemp(workspace, memoryFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close memory file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(workspace, memoryFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace memory: %w", err)
	}
	return nil
}

// ReadHistory returns the full HISTORY.md content, or "" if absent.
func ReadHistory(workspace string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read history: %w", err)
	}
	return string(data), nil
}

// AppendHistory adds one timestamped event line to HISTORY.md.
func AppendHistory(workspace, event string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	line := fmt.Sprintf("- [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), event)
	f, err := os.OpenFile(filepath.Join(workspace, historyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}
