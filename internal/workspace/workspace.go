// Package workspace provisions and resolves per-agent state directories. A
// workspace holds the agent's persona (SOUL.md), long-term memory, history
// log, session logs, and transient attachments.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/jasoncorneliog/caveclaw/internal/config"
)

const soulFile = "SOUL.md"

// Manager provisions agent workspaces under agentsDir, seeding new ones from
// templatesDir.
type Manager struct {
	agentsDir    string
	templatesDir string
}

// NewManager creates a Manager. An empty templatesDir falls back to the
// bundled template locations: ./agents for local checkouts, /app/agents in
// containers.
func NewManager(agentsDir, templatesDir string) *Manager {
	if templatesDir == "" {
		templatesDir = "agents"
		if info, err := os.Stat(templatesDir); err != nil || !info.IsDir() {
			templatesDir = "/app/agents"
		}
	}
	return &Manager{agentsDir: agentsDir, templatesDir: templatesDir}
}

// Dir returns the workspace path for a named agent, provisioned or not.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.agentsDir, name)
}

// SessionsDir returns the conversation-log directory inside a workspace.
func SessionsDir(workspace string) string {
	return filepath.Join(workspace, "sessions")
}

// AttachmentsDir returns the transient attachment directory inside a workspace.
func AttachmentsDir(workspace string) string {
	return filepath.Join(workspace, "attachments")
}

// SoulPath returns the persona file path inside a workspace.
func SoulPath(workspace string) string {
	return filepath.Join(workspace, soulFile)
}

// Ensure lazily provisions the workspace for name and returns its path. A new
// workspace is seeded from the matching template directory, or with a stub
// persona when no template exists. Safe to call repeatedly: an existing
// workspace is never overwritten, only its sessions subdirectory is ensured.
func (m *Manager) Ensure(name string) (string, error) {
	dest := m.Dir(name)

	if _, err := os.Stat(dest); os.IsNotExist(err) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", fmt.Errorf("create workspace %s: %w", name, err)
		}
		template := filepath.Join(m.templatesDir, name)
		if info, err := os.Stat(template); err == nil && info.IsDir() {
			if err := copyTemplateFiles(template, dest); err != nil {
				return "", fmt.Errorf("copy template %s: %w", name, err)
			}
		} else {
			stub := fmt.Sprintf("# Soul\n\nYou are %s, an AI assistant.\n", name)
			if err := os.WriteFile(SoulPath(dest), []byte(stub), 0o644); err != nil {
				return "", fmt.Errorf("write persona stub: %w", err)
			}
		}
	}

	if err := os.MkdirAll(SessionsDir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create sessions dir: %w", err)
	}
	return dest, nil
}

// Resolve returns the model and provisioned workspace path for a named agent.
func (m *Manager) Resolve(cfg *config.Config, name string) (model, dir string, err error) {
	dir, err = m.Ensure(name)
	if err != nil {
		return "", "", err
	}
	return cfg.AgentModel(name), dir, nil
}

// Templates lists the bundled agent template names, sorted.
func (m *Manager) Templates() []string {
	entries, err := os.ReadDir(m.templatesDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// copyTemplateFiles copies the regular files at the top of src into dest.
func copyTemplateFiles(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
