// Package runner executes single-turn agent invocations through the Claude
// Code CLI subprocess and streams its output back as response fragments.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
)

const defaultCommand = "claude"

// Scanner buffer cap for one stream-json line. Tool-heavy turns can emit
// large events.
const maxLineBytes = 8 << 20

// Claude runs the agent CLI in --print mode, one subprocess per invocation.
// The workspace directory becomes the subprocess working directory, so the
// agent's file tools operate on the agent's own files.
type Claude struct {
	command string
	logger  *slog.Logger
}

type ClaudeConfig struct {
	// Command is the agent executable, resolved through PATH. Empty means
	// "claude".
	Command string
	Logger  *slog.Logger
}

// NewClaude creates a subprocess-backed runner.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{command: cfg.Command, logger: cfg.Logger}
}

// streamEvent is one line of the CLI's stream-json output. Only the event
// types carrying response text are decoded; everything else is skipped.
type streamEvent struct {
	Type    string         `json:"type"`
	Message *streamMessage `json:"message,omitempty"`
	Result  string         `json:"result,omitempty"`
}

type streamMessage struct {
	Content []streamBlock `json:"content"`
}

type streamBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Stream runs one invocation and emits fragments on out, closing it before
// returning. The query goes to the subprocess on stdin; stream-json events
// come back on stdout one per line.
func (c *Claude) Stream(ctx context.Context, inv domain.Invocation, out chan<- domain.Fragment) error {
	defer close(out)

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--system-prompt", inv.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = inv.WorkspaceDir
	cmd.Stdin = strings.NewReader(inv.Query)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	c.logger.Debug("starting agent subprocess", "command", c.command, "model", inv.Model, "dir", inv.WorkspaceDir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		for _, frag := range parseEvent(scanner.Bytes()) {
			select {
			case out <- frag:
			case <-ctx.Done():
				cmd.Process.Kill()
				cmd.Wait()
				return ctx.Err()
			}
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.command, err, msg)
		}
		return fmt.Errorf("%s: %w", c.command, err)
	}
	if scanErr != nil {
		return fmt.Errorf("read %s output: %w", c.command, scanErr)
	}
	return nil
}

// parseEvent decodes one stream-json line into zero or more fragments.
// Unknown event types and malformed lines yield nothing; a partially spoken
// turn is better served by the remaining events than by failing the stream.
func parseEvent(line []byte) []domain.Fragment {
	if len(line) == 0 {
		return nil
	}
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "assistant":
		if ev.Message == nil {
			return nil
		}
		var parts []string
		for _, block := range ev.Message.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return []domain.Fragment{{Kind: domain.FragmentAssistant, Text: strings.Join(parts, "")}}
	case "result":
		if ev.Result == "" {
			return nil
		}
		return []domain.Fragment{{Kind: domain.FragmentResult, Text: ev.Result}}
	}
	return nil
}
