package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/nudge/internal/push"
)

func newVAPIDKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for Web Push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "NUDGE_VAPID_PUBLIC_KEY=%s\nNUDGE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}
