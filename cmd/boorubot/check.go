package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"boorubot/internal/app"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d owner(s), batch providers %v\n",
			len(cfg.Telegram.OwnerUserIDs), cfg.Search.BatchIDs())
		return nil
	},
}
