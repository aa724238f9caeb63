package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cowfork",
	Short:         "cowfork -- copy-on-write fork on a simulated paged kernel",
	Long:          "cowfork boots built-in user programs on a simulated MOS-style kernel and reports how fork shares and copies their pages.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search ./cowfork.toml, /etc/cowfork)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
