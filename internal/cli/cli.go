// Package cli wires the warehouse simulation and the message broker into a
// single Cobra command tree.
//
// Command structure:
//
//	warehouse-broker                  # root command
//	├── warehouse
//	│   └── run                       # run the simulation to completion
//	│       ├── --config, -c
//	│       ├── --fast
//	│       ├── --duration
//	│       ├── --loaders
//	│       └── --managers
//	└── broker
//	    ├── run                       # serve producer/consumer endpoints
//	    │   └── --config, -c
//	    └── status                    # print resolved queue configuration
//	        └── --config, -c
//
// Both run subcommands accept an optional --metrics-addr to expose
// Prometheus metrics over HTTP for the lifetime of the process.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/warehouse-broker/internal/broker"
	"github.com/ChuLiYu/warehouse-broker/internal/config"
	"github.com/ChuLiYu/warehouse-broker/internal/metrics"
	"github.com/ChuLiYu/warehouse-broker/internal/warehouse"
	"github.com/spf13/cobra"
)

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "warehouse-broker",
		Short:   "Warehouse simulation and message broker",
		Version: "1.0.0",
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	root.AddCommand(buildWarehouseCommand())
	root.AddCommand(buildBrokerCommand())
	return root
}

func buildWarehouseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Run the multi-zone warehouse simulation",
	}
	cmd.AddCommand(buildWarehouseRunCommand())
	return cmd
}

func buildWarehouseRunCommand() *cobra.Command {
	var fast bool
	var duration int
	var loaders int
	var managers int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the simulation and print reports when it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := warehouse.DefaultConfig()
			if configFile != "" {
				if err := config.Load(configFile, &cfg); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("loading warehouse config: %w", err)
				}
			}
			if cmd.Flags().Changed("fast") {
				cfg.FastMode = fast
			}
			if cmd.Flags().Changed("duration") {
				cfg.SimulationSeconds = duration
			}
			if cmd.Flags().Changed("loaders") {
				cfg.LoaderCount = loaders
			}
			if cmd.Flags().Changed("managers") {
				cfg.ManagerCount = managers
			}
			return runWarehouse(cfg, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "switch delays from seconds to milliseconds")
	cmd.Flags().IntVar(&duration, "duration", 0, "simulation duration in seconds")
	cmd.Flags().IntVar(&loaders, "loaders", 0, "loader worker count")
	cmd.Flags().IntVar(&managers, "managers", 0, "manager worker count")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics")
	return cmd
}

func runWarehouse(cfg warehouse.Config, metricsAddr string) error {
	w := warehouse.New(cfg)
	if metricsAddr != "" {
		w.SetMetrics(metrics.NewWarehouseCollector())
		startMetricsServer(metricsAddr)
	}
	w.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.SimulationSeconds > 0 {
		select {
		case <-sigCh:
		case <-time.After(cfg.SimulationDuration()):
		}
	} else {
		<-sigCh
	}

	w.Stop()
	w.Wait()

	w.BuildReports().Print(os.Stdout)
	return nil
}

func buildBrokerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the persistent message broker",
	}
	cmd.AddCommand(buildBrokerRunCommand())
	cmd.AddCommand(buildBrokerStatusCommand())
	return cmd
}

func buildBrokerRunCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the producer and consumer endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("broker run requires --config")
			}
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("reading broker config: %w", err)
			}
			cfg, err := broker.LoadConfig(data)
			if err != nil {
				return err
			}

			engine, err := broker.NewEngine(cfg.Queues, cfg.StorageRoot, cfg.SweepInterval)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				engine.SetMetrics(metrics.NewBrokerCollector())
				startMetricsServer(metricsAddr)
			}
			transport := broker.NewTransport(engine, cfg.ProducerEndpoint, cfg.ConsumerEndpoint)

			ctx, cancel := signalContext()
			defer cancel()

			go engine.Run(ctx)
			return transport.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics")
	return cmd
}

func buildBrokerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the resolved broker configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("broker status requires --config")
			}
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("reading broker config: %w", err)
			}
			cfg, err := broker.LoadConfig(data)
			if err != nil {
				return err
			}

			fmt.Printf("producer endpoint: %s\n", cfg.ProducerEndpoint)
			fmt.Printf("consumer endpoint: %s\n", cfg.ConsumerEndpoint)
			fmt.Printf("storage root:      %s\n", cfg.StorageRoot)
			fmt.Printf("sweep interval:    %s\n", cfg.SweepInterval)
			fmt.Printf("queues:\n")
			for _, q := range cfg.Queues {
				fmt.Printf("  - %s\n", q.Name)
			}
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func startMetricsServer(addr string) {
	go func() {
		if err := metrics.StartServer(parsePort(addr)); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
}

func parsePort(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0
	}
	port, _ := strconv.Atoi(addr[idx+1:])
	return port
}
