package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"boorubot/internal/app"
	"boorubot/internal/booru"
	"boorubot/internal/config"
	"boorubot/internal/search"
	logx "boorubot/pkg/logx"
)

func init() {
	searchCmd.Flags().StringP("provider", "p", "", "query a single provider")
	searchCmd.Flags().Bool("explicit", false, "search only the explicit pool")
	searchCmd.Flags().Duration("timeout", 45*time.Second, "overall search timeout")
	searchCmd.Flags().Bool("verbose", false, "log provider attempts to stderr")
	lo.Must0(searchCmd.RegisterFlagCompletionFunc("provider", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return lo.Map(booru.List(false), func(d booru.Descriptor, _ int) string { return d.Name() }), cobra.ShellCompDirectiveNoFileComp
	}))
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [tags...]",
	Short: "Run one search and print the image url",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := lo.Must(cmd.Flags().GetString("provider"))
		explicit := lo.Must(cmd.Flags().GetBool("explicit"))
		timeout := lo.Must(cmd.Flags().GetDuration("timeout"))

		log := logx.Nop()
		if lo.Must(cmd.Flags().GetBool("verbose")) {
			log = logx.NewWriter(os.Stderr, "DEBUG")
		}

		// The config file is optional here; it only contributes provider settings.
		var cfg *config.Config
		if cmd.Flags().Changed("config") {
			c, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = c
		}
		orch, err := app.NewStandaloneSearch(cfg, log)
		if err != nil {
			return err
		}

		var tags []string
		for _, a := range args {
			tags = append(tags, booru.SplitTags(a)...)
		}
		q := search.Query{Tags: tags, ForceExplicit: explicit}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var item booru.Item
		if provider != "" {
			id, ok := booru.ParseID(provider)
			if !ok {
				return fmt.Errorf("unknown provider %q", provider)
			}
			item, err = orch.SearchIn(ctx, q, id)
		} else {
			item, err = orch.Search(ctx, q)
		}
		if errors.Is(err, search.ErrNotFound) {
			return fmt.Errorf("no results for %q", strings.Join(tags, " "))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s #%s\n%s\n", item.Provider, item.RemoteID, item.FileURL)
		return nil
	},
}
