package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the config file (json or yaml)")
}

var rootCmd = &cobra.Command{
	Use:           "boorubot",
	Short:         "Telegram bot serving random images from public image boards",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context(), configPath)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
