// Package agent is the dispatch core: it turns one inbound message into one
// outbound reply, end to end, with per-message failure isolation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/domain"
	"github.com/jasoncorneliog/caveclaw/internal/memory"
	"github.com/jasoncorneliog/caveclaw/internal/session"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

const (
	historyLimit = 50
	noResponse   = "(no response)"
)

// Dispatcher consumes inbound messages and processes each in its own
// goroutine. A failing message produces an error reply; it never stops the
// loop or touches other in-flight messages.
type Dispatcher struct {
	cfg        *config.Config
	workspaces *workspace.Manager
	runner     domain.Runner
	bus        domain.MessageBus
	logger     *slog.Logger
	timeout    time.Duration
}

// DispatcherConfig holds all dependencies for the dispatcher.
type DispatcherConfig struct {
	Config     *config.Config
	Workspaces *workspace.Manager
	Runner     domain.Runner
	Bus        domain.MessageBus
	Logger     *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg.Config,
		workspaces: cfg.Workspaces,
		runner:     cfg.Runner,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		timeout:    time.Duration(cfg.Config.General.AgentTimeoutSeconds) * time.Second,
	}
}

// Run consumes inbound messages until ctx is cancelled. Handlers are
// fire-and-forget: the loop never waits on them.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started")
	for {
		msg, err := d.bus.ConsumeInbound(ctx)
		if err != nil {
			d.logger.Info("dispatcher stopping", "reason", err)
			return
		}
		go d.dispatch(ctx, msg)
	}
}

// dispatch is the per-message error boundary: any failure, including a
// panic, becomes an "Error: ..." reply so the user always hears back.
func (d *Dispatcher) dispatch(ctx context.Context, msg domain.InboundMessage) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
		if err != nil {
			d.logger.Error("message handling failed",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"err", err,
			)
			d.bus.PublishOutbound(domain.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: "Error: " + err.Error(),
			})
		}
	}()
	err = d.handle(ctx, msg)
}

// handle processes one inbound message through the named agent.
func (d *Dispatcher) handle(ctx context.Context, msg domain.InboundMessage) error {
	agentName := msg.AgentName
	if agentName == "" {
		agentName = d.cfg.General.DefaultAgent
	}

	model, ws, err := d.workspaces.Resolve(d.cfg, agentName)
	if err != nil {
		return fmt.Errorf("resolve agent %q: %w", agentName, err)
	}

	systemPrompt, err := buildSystemPrompt(ws)
	if err != nil {
		return err
	}

	sessions := session.NewStore(workspace.SessionsDir(ws))

	// Load history before the new turn is persisted, so it never includes
	// the current message.
	history, err := sessions.History(msg.ChatID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) > 0 {
		systemPrompt += "\n\n## Conversation History\n\n" + renderHistory(history)
	}

	queryText := msg.Content + buildAttachmentPrompt(msg.Attachments)

	// Persist the user turn before invoking the agent: a crash mid-invocation
	// still leaves a durable record of what was asked.
	if err := sessions.Append(msg.ChatID, session.RoleUser, queryText, msg.Attachments); err != nil {
		return err
	}

	result, err := d.invoke(ctx, domain.Invocation{
		SystemPrompt: systemPrompt,
		Query:        queryText,
		Model:        model,
		WorkspaceDir: ws,
	})
	if err != nil {
		return err
	}
	if result == "" {
		result = noResponse
	}

	if err := sessions.Append(msg.ChatID, session.RoleAssistant, result, nil); err != nil {
		return err
	}
	if err := memory.AppendHistory(ws, fmt.Sprintf("Responded to %s in %s", msg.SenderID, msg.Channel)); err != nil {
		return err
	}

	d.bus.PublishOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result,
	})
	return nil
}

// invoke streams the capability response and returns the last non-empty
// fragment text. Fragments overwrite each other rather than concatenating;
// only the final meaningful fragment counts.
func (d *Dispatcher) invoke(ctx context.Context, inv domain.Invocation) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	fragments := make(chan domain.Fragment, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runner.Stream(ctx, inv, fragments)
	}()

	var result string
	for frag := range fragments {
		if frag.Text != "" {
			result = frag.Text
		}
	}
	// Stream implementations close the fragment channel before returning, so
	// blocking here guarantees the goroutine's return value is visible.
	if err := <-errCh; err != nil {
		return "", fmt.Errorf("agent invocation: %w", err)
	}
	return result, nil
}
