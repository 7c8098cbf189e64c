package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jasoncorneliog/caveclaw/internal/bus"
	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/domain"
	"github.com/jasoncorneliog/caveclaw/internal/session"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

// stubRunner replays canned fragments, recording the invocation it received.
type stubRunner struct {
	fragments []domain.Fragment
	err       error
	inv       domain.Invocation
}

func (r *stubRunner) Stream(ctx context.Context, inv domain.Invocation, out chan<- domain.Fragment) error {
	defer close(out)
	r.inv = inv
	for _, f := range r.fragments {
		out <- f
	}
	return r.err
}

type fixture struct {
	dispatcher *Dispatcher
	bus        *bus.InMemoryBus
	runner     *stubRunner
	agentsDir  string
}

func newFixture(t *testing.T, runner *stubRunner) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	agentsDir := filepath.Join(t.TempDir(), "agents")
	b := bus.New(logger)
	d := NewDispatcher(DispatcherConfig{
		Config:     config.Defaults(),
		Workspaces: workspace.NewManager(agentsDir, filepath.Join(t.TempDir(), "no-templates")),
		Runner:     runner,
		Bus:        b,
		Logger:     logger,
	})
	return &fixture{dispatcher: d, bus: b, runner: runner, agentsDir: agentsDir}
}

func (f *fixture) roundTrip(t *testing.T, msg domain.InboundMessage) domain.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go f.dispatcher.Run(ctx)

	f.bus.PublishInbound(msg)
	out, err := f.bus.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("no outbound message: %v", err)
	}
	return out
}

func TestDispatchPublishesResponse(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "I am the response"},
	}})

	out := f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s1", Content: "hi", AgentName: "claw",
	})

	if out.Channel != "test" || out.ChatID != "s1" {
		t.Errorf("wrong routing: %+v", out)
	}
	if out.Content != "I am the response" {
		t.Errorf("content: got %q", out.Content)
	}

	// Session log gained the user and assistant turns, in order.
	store := session.NewStore(workspace.SessionsDir(filepath.Join(f.agentsDir, "claw")))
	entries, err := store.History("s1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Role != session.RoleUser || entries[0].Content != "hi" {
		t.Errorf("user turn: %+v", entries[0])
	}
	if entries[1].Role != session.RoleAssistant || entries[1].Content != "I am the response" {
		t.Errorf("assistant turn: %+v", entries[1])
	}
}

func TestDispatchNoResponseFallback(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	out := f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s2", Content: "hi", AgentName: "claw",
	})
	if out.Content != "(no response)" {
		t.Errorf("got %q, want %q", out.Content, "(no response)")
	}
}

func TestDispatchLastNonEmptyFragmentWins(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "first draft"},
		{Kind: domain.FragmentAssistant, Text: ""},
		{Kind: domain.FragmentResult, Text: "final answer"},
	}})
	out := f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s3", Content: "hi", AgentName: "claw",
	})
	if out.Content != "final answer" {
		t.Errorf("got %q, want %q", out.Content, "final answer")
	}
}

func TestDispatchErrorProducesErrorReply(t *testing.T) {
	f := newFixture(t, &stubRunner{err: errors.New("boom")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go f.dispatcher.Run(ctx)

	f.bus.PublishInbound(domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s4", Content: "hi", AgentName: "claw",
	})
	out, err := f.bus.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("no outbound message: %v", err)
	}
	if !strings.HasPrefix(out.Content, "Error:") {
		t.Errorf("got %q, want Error: prefix", out.Content)
	}

	// The loop survives: a following message still gets a reply.
	f.runner.err = nil
	f.runner.fragments = []domain.Fragment{{Kind: domain.FragmentAssistant, Text: "recovered"}}
	f.bus.PublishInbound(domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s5", Content: "again", AgentName: "claw",
	})
	out, err = f.bus.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("bus unusable after failure: %v", err)
	}
	if out.Content != "recovered" {
		t.Errorf("got %q, want %q", out.Content, "recovered")
	}
}

func TestDispatchFailedAttemptLeavesOnlyUserTurn(t *testing.T) {
	f := newFixture(t, &stubRunner{err: errors.New("boom")})
	out := f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s6", Content: "doomed", AgentName: "claw",
	})
	if !strings.HasPrefix(out.Content, "Error:") {
		t.Fatalf("got %q", out.Content)
	}

	store := session.NewStore(workspace.SessionsDir(filepath.Join(f.agentsDir, "claw")))
	entries, err := store.History("s6", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Role != session.RoleUser {
		t.Errorf("expected only the user turn, got %+v", entries)
	}
}

func TestDispatchCorruptHistoryFailsTheMessage(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "ok"},
	}})

	if _, err := workspace.NewManager(f.agentsDir, "").Ensure("claw"); err != nil {
		t.Fatal(err)
	}
	sessionsDir := workspace.SessionsDir(filepath.Join(f.agentsDir, "claw"))
	if err := os.WriteFile(filepath.Join(sessionsDir, "s10.jsonl"), []byte("{not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// An unreadable log must fail the message, not silently drop the
	// conversation's past.
	out := f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s10", Content: "hi", AgentName: "claw",
	})
	if !strings.HasPrefix(out.Content, "Error:") {
		t.Errorf("got %q, want Error: prefix", out.Content)
	}
}

func TestDispatchHistoryExcludesCurrentTurn(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "second reply"},
	}})

	store := session.NewStore(workspace.SessionsDir(filepath.Join(f.agentsDir, "claw")))
	// Pre-provision the workspace and seed a prior exchange.
	if _, err := workspace.NewManager(f.agentsDir, "").Ensure("claw"); err != nil {
		t.Fatal(err)
	}
	store.Append("s7", session.RoleUser, "earlier question", nil)
	store.Append("s7", session.RoleAssistant, "earlier answer", nil)

	f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s7", Content: "new question", AgentName: "claw",
	})

	prompt := f.runner.inv.SystemPrompt
	if !strings.Contains(prompt, "## Conversation History") {
		t.Fatalf("history heading missing from prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "User: earlier question") {
		t.Error("prior user turn missing from prompt")
	}
	if strings.Contains(prompt, "new question") {
		t.Error("current turn leaked into the history block")
	}
}

func TestDispatchAttachmentSuffixInQueryAndLog(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "ok"},
	}})
	att := domain.Attachment{Path: "/tmp/pic.png", Filename: "pic.png", ContentType: "image/png", Size: 9}

	f.roundTrip(t, domain.InboundMessage{
		Channel: "test", SenderID: "u", ChatID: "s8", Content: "see this",
		AgentName: "claw", Attachments: []domain.Attachment{att},
	})

	if !strings.Contains(f.runner.inv.Query, "pic.png") {
		t.Errorf("attachment not named in query: %q", f.runner.inv.Query)
	}

	store := session.NewStore(workspace.SessionsDir(filepath.Join(f.agentsDir, "claw")))
	entries, _ := store.History("s8", 10)
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if len(entries[0].Attachments) != 1 || entries[0].Attachments[0] != att {
		t.Errorf("attachment metadata not persisted: %+v", entries[0].Attachments)
	}
	if len(entries[1].Attachments) != 0 {
		t.Error("assistant turn must not carry attachments")
	}
}

func TestDispatchDefaultAgentWhenUnset(t *testing.T) {
	f := newFixture(t, &stubRunner{fragments: []domain.Fragment{
		{Kind: domain.FragmentAssistant, Text: "ok"},
	}})
	f.roundTrip(t, domain.InboundMessage{Channel: "test", SenderID: "u", ChatID: "s9", Content: "hi"})

	if _, err := os.Stat(filepath.Join(f.agentsDir, "claw")); err != nil {
		t.Errorf("default agent workspace not provisioned: %v", err)
	}
}
