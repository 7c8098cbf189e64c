package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasoncorneliog/caveclaw/internal/config"
	"github.com/jasoncorneliog/caveclaw/internal/state"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled tasks",
		Long:  "Register and inspect scheduled tasks stored in the state database.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [name] [cron] [command]",
		Short: "Register a scheduled task (e.g. task add backup \"0 3 * * *\" \"caveclaw agent ...\")",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.Open(config.DefaultDBPath(), logger)
			if err != nil {
				return fmt.Errorf("state store: %w", err)
			}
			defer st.Close()

			id, err := st.AddTask(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return fmt.Errorf("add task: %w", err)
			}
			logger.Info("task registered", "id", id, "name", args[0], "cron", args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List enabled scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.Open(config.DefaultDBPath(), logger)
			if err != nil {
				return fmt.Errorf("state store: %w", err)
			}
			defer st.Close()

			tasks, err := st.Tasks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Println("No scheduled tasks.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCRON\tCOMMAND\tCREATED")
			for _, t := range tasks {
				created := time.Unix(int64(t.CreatedAt), 0).Format("2006-01-02")
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Cron, t.Command, created)
			}
			return w.Flush()
		},
	})

	return cmd
}
