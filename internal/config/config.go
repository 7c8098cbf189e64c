package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for caveclaw.
type Config struct {
	General GeneralConfig          `json:"general"`
	Discord DiscordConfig          `json:"discord"`
	Agents  map[string]AgentConfig `json:"agents,omitempty"`
}

type GeneralConfig struct {
	Model               string `json:"model"`
	DefaultAgent        string `json:"defaultAgent"`
	LogLevel            string `json:"logLevel"`
	AgentCommand        string `json:"agentCommand"`
	AgentTimeoutSeconds int    `json:"agentTimeoutSeconds,omitempty"` // 0 = no timeout
	TemplatesDir        string `json:"templatesDir,omitempty"`
}

type DiscordConfig struct {
	Token                   string            `json:"token,omitempty"`
	AllowFrom               FlexStringList    `json:"allowFrom,omitempty"`
	Routing                 map[string]string `json:"routing,omitempty"`
	MaxAttachmentBytes      int64             `json:"maxAttachmentBytes"`
	AllowedAttachmentTypes  []string          `json:"allowedAttachmentTypes,omitempty"`
	AttachmentRetentionDays int               `json:"attachmentRetentionDays"`
}

// AgentConfig is a per-agent override block.
type AgentConfig struct {
	Model string `json:"model,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (Discord ids are often pasted as numbers).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.caveclaw).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caveclaw"
	}
	return filepath.Join(home, ".caveclaw")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// DefaultDBPath returns the default state database path.
func DefaultDBPath() string {
	return filepath.Join(DefaultConfigDir(), "caveclaw.db")
}

// DefaultAgentsDir returns where agent workspaces are provisioned.
func DefaultAgentsDir() string {
	return filepath.Join(DefaultConfigDir(), "agents")
}

// Load reads the config file at path. A missing file yields the defaults; a
// malformed or invalid file is an error. DISCORD_TOKEN in the environment
// overrides the file value.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	} else {
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	cfg.General.TemplatesDir = ExpandPath(cfg.General.TemplatesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.DefaultAgent == "" {
		errs = append(errs, "general.defaultAgent must not be empty")
	}
	if cfg.General.AgentCommand == "" {
		errs = append(errs, "general.agentCommand must not be empty")
	}
	if cfg.General.AgentTimeoutSeconds < 0 {
		errs = append(errs, "general.agentTimeoutSeconds must be >= 0")
	}
	if cfg.Discord.MaxAttachmentBytes < 1 {
		errs = append(errs, "discord.maxAttachmentBytes must be >= 1")
	}
	if cfg.Discord.AttachmentRetentionDays < 1 {
		errs = append(errs, "discord.attachmentRetentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// AgentModel returns the model for a named agent: per-agent override when
// set, the global default otherwise.
func (c *Config) AgentModel(name string) string {
	if ac, ok := c.Agents[name]; ok && ac.Model != "" {
		return ac.Model
	}
	return c.General.Model
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
