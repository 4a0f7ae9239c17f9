package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/cohost/pkg/cohost/auth"
)

// newLogoutCmd creates the `cohost logout` command that forgets the saved
// Twitch login.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved Twitch login from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := auth.NewTokenStore(cfg.Twitch.BotUsername).Clear(); err != nil {
				return err
			}
			fmt.Println("Saved Twitch login removed.")
			return nil
		},
	}
}
