package main

import (
	"fmt"
	"os"

	"github.com/castellan-io/castellan/internal/cli"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive management shell",
	Long: `Starts a REPL that parses textual operation requests and sends them
to a management endpoint over the binary protocol.`,
	Run: func(cmd *cobra.Command, args []string) {
		repl := cli.NewREPL(cli.WithLogger(newLogger(cmd)))
		if err := repl.Run(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
