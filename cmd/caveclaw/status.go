package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/state"
	"github.com/jasoncorneliog/caveclaw/internal/workspace"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run diagnostic checks on your caveclaw installation",
		Long: `Verifies that caveclaw's configuration, state database, agent command,
and workspace templates are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("caveclaw status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (defaults apply)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("invalid configuration")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Agent command resolvable
			if path, err := exec.LookPath(cfg.General.AgentCommand); err != nil {
				printFail("Agent command", fmt.Sprintf("%q not found in PATH", cfg.General.AgentCommand))
				failed++
			} else {
				printPass("Agent command", path)
				passed++
			}

			// 4. State database writable
			if st, err := state.Open(config.DefaultDBPath(), logger); err != nil {
				printFail("State database", err.Error())
				failed++
			} else {
				st.Close()
				printPass("State database", config.DefaultDBPath())
				passed++
			}

			// 5. Agent templates
			workspaces := workspace.NewManager(config.DefaultAgentsDir(), cfg.General.TemplatesDir)
			if templates := workspaces.Templates(); len(templates) == 0 {
				printWarn("Agent templates", "none found (new agents get a stub persona)")
				warned++
			} else {
				printPass("Agent templates", strings.Join(templates, ", "))
				passed++
			}

			// 6. Discord token
			if cfg.Discord.Token == "" {
				printWarn("Discord token", "not configured (gateway unavailable)")
				warned++
			} else {
				printPass("Discord token", "configured")
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running caveclaw.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ncaveclaw should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! caveclaw is ready to run.\n")
			}
			return nil
		},
	}
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
