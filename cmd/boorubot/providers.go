package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"boorubot/internal/booru"
)

func init() {
	providersCmd.Flags().Bool("explicit", false, "list only the explicit pool")
	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the registered image boards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		explicit, err := cmd.Flags().GetBool("explicit")
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEXPLICIT\tTAGS")
		for _, d := range booru.List(explicit) {
			fmt.Fprintf(w, "%s\t%t\t%t\n", d.Name(), d.ExplicitOnly, d.SupportsTags)
		}
		return w.Flush()
	},
}
