package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/castellan-io/castellan"
	"github.com/castellan-io/castellan/internal/config"
	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/internal/protocol"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Start a host controller federated to a domain controller",
	Long: `Starts a host controller: a local management server that registers
itself with a domain controller, receives the domain model snapshot, and
serves forwarded operations on its own protocol listener.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		if cfg.Domain.Endpoint == "" {
			fmt.Println("Error: domain.endpoint is required in host mode")
			os.Exit(1)
		}
		logger := newLogger(cmd)

		persister, err := buildPersister(cfg)
		if err != nil {
			fmt.Printf("Error initializing persistence: %v\n", err)
			os.Exit(1)
		}

		server, err := castellan.New(cfg.Name,
			castellan.WithLogger(logger),
			castellan.WithPersister(persister),
			castellan.WithMetrics(metrics.NewRecorder()),
		)
		if err != nil {
			fmt.Printf("Error initializing controller: %v\n", err)
			os.Exit(1)
		}

		native := protocol.NewServer(server.Controller(), protocol.WithServerLogger(logger))
		go func() {
			fmt.Printf("Host management protocol listening on %s\n", cfg.Bind.Native)
			if err := native.ListenAndServe(cfg.Bind.Native); err != nil {
				fmt.Printf("Server error: %v\n", err)
				os.Exit(1)
			}
		}()

		domain := protocol.NewHostClient(cfg.Name, cfg.Domain.Endpoint, protocol.WithClientLogger(logger))
		domainModel, err := domain.Register()
		if err != nil {
			fmt.Printf("Error registering with domain controller: %v\n", err)
			os.Exit(1)
		}
		logger.Info("registered with domain controller",
			"domain", cfg.Domain.Endpoint, "model_defined", domainModel.Defined())

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		sig := <-shutdown
		fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

		if err := domain.Unregister(); err != nil {
			logger.Warn("failed to unregister from domain controller", "err", err)
		}
		_ = native.Close()
		fmt.Println("Host controller stopped gracefully")
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
}
