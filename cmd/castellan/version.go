package main

import (
	"fmt"
	"strings"

	"github.com/castellan-io/castellan"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of castellan",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("castellan version %s\n", strings.TrimSpace(castellan.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
