package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTickCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one notification tick and exit",
		Long: `Evaluate due, reminder and daily digest notifications once for every
active user, then print the tick report as JSON. Intended for cron or a
systemd timer when "nudge serve --no-scheduler" is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.scheduler.Tick(cmd.Context())

			failures := make([]map[string]any, 0, len(rep.Failures))
			for _, f := range rep.Failures {
				failures = append(failures, map[string]any{
					"routine_id": f.RoutineID,
					"user_id":    f.UserID,
					"error":      f.Err.Error(),
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{
				"tick_id":        rep.TickID,
				"users":          rep.Users,
				"skipped_users":  rep.SkippedUsers,
				"digests":        rep.Digests,
				"due_sent":       rep.DueSent,
				"reminders_sent": rep.RemindersSent,
				"failures":       failures,
				"abandoned":      rep.Abandoned,
				"duration":       rep.Duration.String(),
			}); err != nil {
				return err
			}
			if rep.Abandoned {
				return fmt.Errorf("tick %s exceeded its budget", rep.TickID)
			}
			return nil
		},
	}
}
