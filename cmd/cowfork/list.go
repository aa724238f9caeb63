package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kahiteam/cowfork/internal/programs"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in programs",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, name := range programs.Names() {
			p, _ := programs.Lookup(name)
			fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Summary)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
