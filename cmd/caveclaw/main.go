package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jasoncorneliog/caveclaw/internal/agent"
	"github.com/jasoncorneliog/caveclaw/internal/bus"
	"github.com/jasoncorneliog/caveclaw/internal/channel"
	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/runner"
	"github.com/jasoncorneliog/caveclaw/internal/state"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = newLogger(slog.LevelInfo)

	root := &cobra.Command{
		Use:     "caveclaw",
		Short:   "caveclaw: personal AI agents on your own machine",
		Long:    "caveclaw routes chat messages from the terminal or Discord to persistent AI agents, each with its own persona, memory, and conversation history.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.caveclaw/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(taskCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger = newLogger(logLevel(cfg.General.LogLevel))
	return cfg, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and the default agent workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists", "path", cfgPath)
			} else {
				if err := config.Save(cfgPath, config.Defaults()); err != nil {
					return err
				}
				logger.Info("config written", "path", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspaces := workspace.NewManager(config.DefaultAgentsDir(), cfg.General.TemplatesDir)
			dir, err := workspaces.Ensure(cfg.General.DefaultAgent)
			if err != nil {
				return err
			}
			logger.Info("initialized", "agent", cfg.General.DefaultAgent, "workspace", dir)
			return nil
		},
	}
}

func agentCmd() *cobra.Command {
	var agentName, sessionID string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with an agent in the terminal",
		Long:  "Starts an interactive terminal session with one agent. Pass --session to resume an earlier conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if agentName == "" {
				agentName = cfg.General.DefaultAgent
			}
			if sessionID == "" {
				sessionID = uuid.NewString()[:8]
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			messageBus := bus.New(logger)
			dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
				Config:     cfg,
				Workspaces: workspace.NewManager(config.DefaultAgentsDir(), cfg.General.TemplatesDir),
				Runner:     runner.NewClaude(runner.ClaudeConfig{Command: cfg.General.AgentCommand, Logger: logger}),
				Bus:        messageBus,
				Logger:     logger,
			})
			go dispatcher.Run(ctx)

			cli := channel.NewCLI(channel.CLIConfig{
				SessionID:   sessionID,
				AgentName:   agentName,
				HistoryPath: filepath.Join(config.DefaultConfigDir(), "prompt_history"),
				Logger:      logger,
			})
			return cli.Start(ctx, messageBus)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent to chat with (default: general.defaultAgent)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to resume (default: a fresh id)")
	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the Discord gateway",
		Long:  "Connects the Discord bot and the agent dispatcher. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" {
				return fmt.Errorf("no Discord token: set discord.token in %s or the DISCORD_TOKEN environment variable", resolveConfigPath())
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stateStore, err := state.Open(config.DefaultDBPath(), logger)
			if err != nil {
				return fmt.Errorf("state store: %w", err)
			}
			defer stateStore.Close()

			messageBus := bus.New(logger)
			workspaces := workspace.NewManager(config.DefaultAgentsDir(), cfg.General.TemplatesDir)

			dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
				Config:     cfg,
				Workspaces: workspaces,
				Runner:     runner.NewClaude(runner.ClaudeConfig{Command: cfg.General.AgentCommand, Logger: logger}),
				Bus:        messageBus,
				Logger:     logger,
			})
			go dispatcher.Run(ctx)

			discord := channel.NewDiscord(channel.DiscordSettings{
				Config:     cfg,
				Workspaces: workspaces,
				State:      stateStore,
				Logger:     logger,
			})
			logger.Info("gateway starting. Press Ctrl+C to stop.")
			return discord.Start(ctx, messageBus)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultAgent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultAgent shadow)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(resolveConfigPath(), cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
