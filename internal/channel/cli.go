// Package channel contains the chat surface adapters. Each adapter translates
// between its platform and the shared message bus.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"

	"github.com/jasoncorneliog/caveclaw/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. Each prompt is
// one synchronous turn: publish the line, spin until the reply arrives, print
// it, prompt again.
type CLI struct {
	sessionID   string
	agentName   string
	historyPath string
	logger      *slog.Logger
	out         io.Writer

	spinMu   sync.Mutex
	spinning bool
	spinStop chan struct{}
}

type CLIConfig struct {
	// SessionID keys the conversation log; resuming with the same id
	// continues the same conversation.
	SessionID string
	AgentName string
	// HistoryPath is the readline history file. Empty disables persistence.
	HistoryPath string
	Logger      *slog.Logger
	Out         io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		sessionID:   cfg.SessionID,
		agentName:   cfg.AgentName,
		historyPath: cfg.HistoryPath,
		logger:      cfg.Logger,
		out:         cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until the user exits or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if c.historyPath != "" {
		if f, err := os.Open(c.historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer c.writeHistory(line)
	}

	fmt.Fprintf(c.out, "Chatting with %s (session %s). Type exit to quit.\n", c.agentName, c.sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(c.out)
				return nil
			}
			return fmt.Errorf("read prompt: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		line.AppendHistory(input)

		c.startSpinner()
		bus.PublishInbound(domain.InboundMessage{
			Channel:   "cli",
			SenderID:  "user",
			ChatID:    c.sessionID,
			Content:   input,
			AgentName: c.agentName,
		})

		reply, err := bus.ConsumeOutbound(ctx)
		c.stopSpinner()
		if err != nil {
			return nil
		}
		fmt.Fprintf(c.out, "\n%s\n\n", reply.Content)
	}
}

func (c *CLI) writeHistory(line *liner.State) {
	if err := os.MkdirAll(filepath.Dir(c.historyPath), 0o755); err != nil {
		c.logger.Warn("history dir creation failed", "err", err)
		return
	}
	f, err := os.Create(c.historyPath)
	if err != nil {
		c.logger.Warn("history save failed", "err", err)
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func (c *CLI) startSpinner() {
	c.spinMu.Lock()
	defer c.spinMu.Unlock()
	if c.spinning {
		return
	}
	c.spinning = true
	c.spinStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s working", frames[i%len(frames)])
				i++
			}
		}
	}(c.spinStop)
}

func (c *CLI) stopSpinner() {
	c.spinMu.Lock()
	defer c.spinMu.Unlock()
	if !c.spinning {
		return
	}
	c.spinning = false
	close(c.spinStop)
}
