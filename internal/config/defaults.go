package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Model:        "claude-sonnet-4-6",
			DefaultAgent: "claw",
			LogLevel:     "info",
			AgentCommand: "claude",
		},
		Discord: DiscordConfig{
			MaxAttachmentBytes:      10 * 1024 * 1024,
			AllowedAttachmentTypes:  defaultAttachmentTypes(),
			AttachmentRetentionDays: 7,
		},
	}
}

func defaultAttachmentTypes() []string {
	return []string{
		"image/png",
		"image/jpeg",
		"image/gif",
		"image/webp",
	}
}
