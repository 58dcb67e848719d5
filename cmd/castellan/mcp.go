package main

import (
	"fmt"
	"os"

	"github.com/castellan-io/castellan"
	mcpAdapter "github.com/castellan-io/castellan/pkg/adapters/mcp"
	"github.com/castellan-io/castellan/pkg/persistence/memory"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the management model over MCP on stdio",
	Run: func(cmd *cobra.Command, args []string) {
		server, err := castellan.New("castellan-mcp",
			castellan.WithLogger(newLogger(cmd)),
			castellan.WithPersister(memory.New()),
		)
		if err != nil {
			fmt.Printf("Error initializing controller: %v\n", err)
			os.Exit(1)
		}
		if err := mcpAdapter.NewServer(server.Controller(), castellan.Version).ServeStdio(); err != nil {
			fmt.Printf("MCP server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
