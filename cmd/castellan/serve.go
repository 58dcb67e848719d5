package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/castellan-io/castellan"
	"github.com/castellan-io/castellan/internal/config"
	"github.com/castellan-io/castellan/internal/gateway"
	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/internal/protocol"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence/file"
	"github.com/castellan-io/castellan/pkg/persistence/memory"
	"github.com/castellan-io/castellan/pkg/persistence/redis"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a domain controller",
	Long: `Starts the management server: the binary wire protocol listener,
the HTTP/JSON gateway at /domain-api, and host-controller registration.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		logger := newLogger(cmd)

		persister, err := buildPersister(cfg)
		if err != nil {
			fmt.Printf("Error initializing persistence: %v\n", err)
			os.Exit(1)
		}

		recorder := metrics.NewRecorder()
		server, err := castellan.New(cfg.Name,
			castellan.WithLogger(logger),
			castellan.WithPersister(persister),
			castellan.WithMetrics(recorder),
		)
		if err != nil {
			fmt.Printf("Error initializing controller: %v\n", err)
			os.Exit(1)
		}

		hosts := newHostProxyRegistrar(server)
		native := protocol.NewServer(server.Controller(),
			protocol.WithServerLogger(logger),
			protocol.WithHostRegistrar(hosts),
			protocol.WithSnapshot(server.Model),
		)

		handler, err := gateway.NewHandler(server.Controller(),
			gateway.WithLogger(logger),
			gateway.WithMetrics(recorder),
		)
		if err != nil {
			fmt.Printf("Error initializing HTTP gateway: %v\n", err)
			os.Exit(1)
		}
		httpServer := &http.Server{Addr: cfg.Bind.HTTP, Handler: handler}

		serverErrors := make(chan error, 2)
		go func() {
			fmt.Printf("Management protocol listening on %s\n", cfg.Bind.Native)
			serverErrors <- native.ListenAndServe(cfg.Bind.Native)
		}()
		go func() {
			fmt.Printf("HTTP gateway listening on %s\n", cfg.Bind.HTTP)
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete: %v\n", err)
				_ = httpServer.Close()
			}
			_ = native.Close()
			fmt.Println("Castellan stopped gracefully")
		}
	},
}

func buildPersister(cfg config.Config) (ports.ConfigurationPersister, error) {
	switch cfg.Persistence.Backend {
	case "", "memory":
		return memory.New(), nil
	case "file":
		return file.New(cfg.Persistence.Path), nil
	case "redis":
		return redis.New(cfg.Persistence.Redis.Address, cfg.Persistence.Redis.Password, cfg.Persistence.Redis.DB), nil
	}
	return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
}

// hostProxyRegistrar wires registered host controllers into the domain
// model as proxied subtrees under /host=<name>.
type hostProxyRegistrar struct {
	server *castellan.Server
	mu     sync.Mutex
	hosts  map[string]model.Address
}

func newHostProxyRegistrar(server *castellan.Server) *hostProxyRegistrar {
	return &hostProxyRegistrar{server: server, hosts: map[string]model.Address{}}
}

func (r *hostProxyRegistrar) RegisterHost(name, remoteAddr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	anchor := model.NewAddress(model.Element("host", name))
	proxy := protocol.NewRemoteProxy(anchor, protocol.NewClient(remoteAddr))
	if err := r.server.Registry().RegisterProxyController(anchor, proxy); err != nil {
		return err
	}
	r.hosts[name] = anchor
	return nil
}

func (r *hostProxyRegistrar) UnregisterHost(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if anchor, ok := r.hosts[name]; ok {
		r.server.Registry().UnregisterProxyController(anchor)
		delete(r.hosts, name)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
