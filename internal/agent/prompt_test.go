package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
	"github.com/jasoncorneliog/caveclaw/internal/session"
)

func TestBuildSystemPromptEmptyWorkspace(t *testing.T) {
	prompt, err := buildSystemPrompt(t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if prompt != "" {
		t.Errorf("got %q, want empty", prompt)
	}
}

func TestBuildSystemPromptSoulOnly(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("# Soul\n\nYou are TestAgent.\n"), 0o644)

	prompt, err := buildSystemPrompt(ws)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if prompt != "# Soul\n\nYou are TestAgent." {
		t.Errorf("got %q", prompt)
	}
}

func TestBuildSystemPromptWithMemory(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("# Soul\n\nYou are TestAgent.\n"), 0o644)
	os.WriteFile(filepath.Join(ws, "MEMORY.md"), []byte("Remember: user likes coffee\n"), 0o644)

	prompt, err := buildSystemPrompt(ws)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt, "## Memory") {
		t.Error("memory section missing")
	}
	if !strings.Contains(prompt, "user likes coffee") {
		t.Error("memory content missing")
	}
	if !strings.HasPrefix(prompt, "# Soul") {
		t.Error("persona must come first")
	}
}

func TestRenderHistory(t *testing.T) {
	entries := []session.Entry{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant, Content: "hi there"},
		{Role: session.RoleUser, Content: "look", Attachments: []domain.Attachment{
			{Filename: "a.png"}, {Filename: "b.png"},
		}},
	}
	got := renderHistory(entries)
	want := "User: hello\n\nAssistant: hi there\n\nUser: look [attached: a.png, b.png]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildAttachmentPromptEmpty(t *testing.T) {
	if got := buildAttachmentPrompt(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestBuildAttachmentPromptWithFiles(t *testing.T) {
	got := buildAttachmentPrompt([]domain.Attachment{
		{Path: "/tmp/photo.png", Filename: "photo.png", ContentType: "image/png", Size: 1024},
	})
	for _, want := range []string{"photo.png", "image/png", "1024 bytes", "/tmp/photo.png", "Read tool"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q: %q", want, got)
		}
	}
}
