package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/domain"
	"github.com/jasoncorneliog/caveclaw/internal/state"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

const (
	discordMaxMsgLen = 2000

	// Discord drops the typing indicator after ~10 seconds, so it has to be
	// refreshed while a reply is in flight.
	typingInterval = 8 * time.Second
)

// Discord implements domain.Channel for Discord.
type Discord struct {
	cfg        *config.Config
	workspaces *workspace.Manager
	state      *state.Store
	logger     *slog.Logger

	session *discordgo.Session
	client  *http.Client

	mu     sync.Mutex
	typing map[string]context.CancelFunc // channel id -> stop typing
}

// DiscordSettings configures the Discord channel.
type DiscordSettings struct {
	Config     *config.Config
	Workspaces *workspace.Manager
	State      *state.Store
	Logger     *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(s DiscordSettings) *Discord {
	return &Discord{
		cfg:        s.Config,
		workspaces: s.Workspaces,
		state:      s.State,
		logger:     s.Logger,
		client:     &http.Client{Timeout: 60 * time.Second},
		typing:     make(map[string]context.CancelFunc),
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and listens until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	if d.cfg.Discord.Token == "" {
		return fmt.Errorf("discord: no bot token configured")
	}

	session, err := discordgo.New("Bot " + d.cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		d.onMessage(ctx, bus, m)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	go d.deliverOutbound(ctx, bus)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// onMessage filters, downloads attachments, and publishes the inbound message.
func (d *Discord) onMessage(ctx context.Context, bus domain.MessageBus, m *discordgo.MessageCreate) {
	// Ignore all bot authors, not just ourselves: two allow-listed bots
	// answering each other would loop forever.
	if m.Author.Bot {
		return
	}
	if !d.senderAllowed(m.Author.ID) {
		d.logger.Debug("discord message from disallowed sender", "author", m.Author.ID)
		return
	}

	content := strings.TrimSpace(m.Content)
	if strings.HasPrefix(content, "!agent") {
		d.handleAgentCommand(ctx, m.ChannelID, content)
		return
	}
	if content == "" && len(m.Attachments) == 0 {
		return
	}

	agentName := d.resolveAgent(ctx, m.ChannelID)
	agentDir, err := d.workspaces.Ensure(agentName)
	if err != nil {
		d.logger.Error("workspace provisioning failed", "agent", agentName, "err", err)
		return
	}

	attachments := d.collectAttachments(ctx, agentDir, m.Attachments)

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"agent", agentName,
		"attachments", len(attachments),
	)

	d.startTyping(ctx, m.ChannelID)
	bus.PublishInbound(domain.InboundMessage{
		Channel:     "discord",
		SenderID:    m.Author.ID,
		ChatID:      m.ChannelID,
		Content:     content,
		AgentName:   agentName,
		Attachments: attachments,
	})
}

// senderAllowed checks the allow-list. An empty list allows everyone.
func (d *Discord) senderAllowed(id string) bool {
	if len(d.cfg.Discord.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range d.cfg.Discord.AllowFrom {
		if allowed == id {
			return true
		}
	}
	return false
}

// resolveAgent picks the agent for a Discord channel: a !agent override stored
// in the state db wins, then the static routing table, then the default.
func (d *Discord) resolveAgent(ctx context.Context, channelID string) string {
	if d.state != nil {
		name, err := d.state.Get(ctx, "channel:"+channelID, "")
		if err != nil {
			d.logger.Warn("agent override lookup failed", "channel_id", channelID, "err", err)
		} else if name != "" {
			return name
		}
	}
	if name, ok := d.cfg.Discord.Routing[channelID]; ok && name != "" {
		return name
	}
	return d.cfg.General.DefaultAgent
}

// handleAgentCommand implements the !agent channel command: bare !agent shows
// the current assignment, !agent <name> switches the channel and persists the
// choice.
func (d *Discord) handleAgentCommand(ctx context.Context, channelID, content string) {
	arg := strings.TrimSpace(strings.TrimPrefix(content, "!agent"))
	available := d.workspaces.Templates()

	if arg == "" {
		current := d.resolveAgent(ctx, channelID)
		reply := fmt.Sprintf("Current agent: **%s**", current)
		if len(available) > 0 {
			reply += "\nAvailable: " + strings.Join(available, ", ")
		}
		d.send(channelID, reply)
		return
	}

	for _, name := range available {
		if name == arg {
			if d.state != nil {
				if err := d.state.Set(ctx, "channel:"+channelID, arg); err != nil {
					d.logger.Error("agent override save failed", "channel_id", channelID, "err", err)
					d.send(channelID, "Error: could not save the agent assignment")
					return
				}
			}
			d.send(channelID, fmt.Sprintf("Switched to agent **%s**", arg))
			return
		}
	}
	d.send(channelID, fmt.Sprintf("Unknown agent %q. Available: %s", arg, strings.Join(available, ", ")))
}

// collectAttachments validates and downloads message attachments into the
// agent's workspace, returning metadata for the accepted ones. Rejected
// attachments are logged and skipped; the message itself still goes through.
func (d *Discord) collectAttachments(ctx context.Context, agentDir string, atts []*discordgo.MessageAttachment) []domain.Attachment {
	if len(atts) == 0 {
		return nil
	}

	dir := workspace.AttachmentsDir(agentDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.logger.Error("attachment dir creation failed", "dir", dir, "err", err)
		return nil
	}

	if removed, err := cleanupOldAttachments(dir, time.Duration(d.cfg.Discord.AttachmentRetentionDays)*24*time.Hour); err != nil {
		d.logger.Warn("attachment cleanup failed", "dir", dir, "err", err)
	} else if removed > 0 {
		d.logger.Info("expired attachments removed", "dir", dir, "count", removed)
	}

	var out []domain.Attachment
	for _, att := range atts {
		if !d.attachmentTypeAllowed(att.ContentType) {
			d.logger.Warn("attachment type not allowed", "filename", att.Filename, "content_type", att.ContentType)
			continue
		}
		if int64(att.Size) > d.cfg.Discord.MaxAttachmentBytes {
			d.logger.Warn("attachment too large", "filename", att.Filename, "size", att.Size)
			continue
		}

		path := filepath.Join(dir, uuid.NewString()[:8]+"-"+filepath.Base(att.Filename))
		size, err := d.download(ctx, att.URL, path)
		if err != nil {
			d.logger.Error("attachment download failed", "filename", att.Filename, "err", err)
			continue
		}
		out = append(out, domain.Attachment{
			Path:        path,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        size,
		})
	}
	return out
}

func (d *Discord) attachmentTypeAllowed(contentType string) bool {
	for _, allowed := range d.cfg.Discord.AllowedAttachmentTypes {
		if contentType == allowed || strings.HasPrefix(contentType, allowed+";") {
			return true
		}
	}
	return false
}

func (d *Discord) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, d.cfg.Discord.MaxAttachmentBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	if n > d.cfg.Discord.MaxAttachmentBytes {
		os.Remove(dest)
		return 0, fmt.Errorf("attachment exceeds %d bytes", d.cfg.Discord.MaxAttachmentBytes)
	}
	return n, nil
}

// cleanupOldAttachments removes files older than maxAge and reports how many
// were deleted. A missing directory is not an error.
func cleanupOldAttachments(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// deliverOutbound consumes replies from the bus and sends them to Discord.
func (d *Discord) deliverOutbound(ctx context.Context, bus domain.MessageBus) {
	for {
		msg, err := bus.ConsumeOutbound(ctx)
		if err != nil {
			return
		}
		if msg.Channel != "discord" {
			d.logger.Warn("outbound message for another channel dropped", "channel", msg.Channel)
			continue
		}
		d.stopTyping(msg.ChatID)
		if msg.Content == "" {
			continue
		}
		d.send(msg.ChatID, msg.Content)
	}
}

func (d *Discord) send(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel_id", channelID, "err", err)
		}
	}
}

// startTyping shows the typing indicator for a channel and keeps refreshing
// it until the reply lands or a newer message supersedes this one.
func (d *Discord) startTyping(ctx context.Context, channelID string) {
	typingCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if prev, ok := d.typing[channelID]; ok {
		prev()
	}
	d.typing[channelID] = cancel
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			d.session.ChannelTyping(channelID)
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *Discord) stopTyping(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.typing[channelID]; ok {
		cancel()
		delete(d.typing, channelID)
	}
}

// splitMessage splits a message into chunks that fit within the max length.
// Any newline in the window wins; only a window without one is hard-cut, and
// the hard cut lands on a rune boundary.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx >= 0 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
