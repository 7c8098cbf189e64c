package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
	"github.com/jasoncorneliog/caveclaw/internal/memory"
	"github.com/jasoncorneliog/caveclaw/internal/session"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

// buildSystemPrompt combines the workspace persona and long-term memory into
// a system prompt. Empty sources are omitted; an empty workspace yields "".
func buildSystemPrompt(ws string) (string, error) {
	var parts []string

	soul, err := os.ReadFile(workspace.SoulPath(ws))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read persona: %w", err)
	}
	if trimmed := strings.TrimSpace(string(soul)); trimmed != "" {
		parts = append(parts, trimmed)
	}

	mem, err := memory.Read(ws)
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(mem); trimmed != "" {
		parts = append(parts, "## Memory\n\n"+trimmed)
	}

	return strings.Join(parts, "\n\n"), nil
}

// renderHistory formats prior session entries for the system prompt.
func renderHistory(entries []session.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "Assistant"
		if e.Role == session.RoleUser {
			prefix = "User"
		}
		text := e.Content
		if len(e.Attachments) > 0 {
			names := make([]string, len(e.Attachments))
			for i, a := range e.Attachments {
				names[i] = a.Filename
			}
			text += " [attached: " + strings.Join(names, ", ") + "]"
		}
		lines = append(lines, prefix+": "+text)
	}
	return strings.Join(lines, "\n\n")
}

// buildAttachmentPrompt builds a query suffix directing the agent to read
// each attached file. The capability does not see attachments on its own;
// the prompt must name them.
func buildAttachmentPrompt(attachments []domain.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	lines := []string{"\n\n---\nThe user attached the following file(s). " +
		"Use the Read tool to view each one:"}
	for _, att := range attachments {
		lines = append(lines, fmt.Sprintf("- **%s** (%s, %d bytes): `%s`",
			att.Filename, att.ContentType, att.Size, att.Path))
	}
	return strings.Join(lines, "\n")
}
