// Package cli wires the procpool cobra commands: run starts a pool and
// blocks for signals, submit starts a pool from the config file, runs one
// task on it and prints its result, status prints the configured shape of
// the pool described by a config file.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwiebe/procpool/internal/config"
	"github.com/mwiebe/procpool/internal/metrics"
	"github.com/mwiebe/procpool/pkg/procpool"
	"github.com/spf13/cobra"
)

var configFile string

// BuildCLI assembles the procpool root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "procpool",
		Short:   "procpool: a pool of OS worker processes for CPU-bound Go tasks",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pool and keep it running until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool()
		},
	}
	return cmd
}

func runPool() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Starting procpool with %d workers\n", cfg.Pool.Workers)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	pool, err := procpool.New(procpool.Config{
		Workers:       cfg.Pool.Workers,
		TaskLimit:     cfg.Pool.TaskLimit,
		Initializer:   cfg.Pool.Initializer,
		Deinitializer: cfg.Pool.Deinitializer,
		LockFilePath:  cfg.Pool.LockFilePath,
		Metrics:       collector,
	})
	if err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, stopping gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return pool.Close(ctx)
}

func buildSubmitCommand() *cobra.Command {
	var fn string
	var argsJSON string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a single task to a freshly started pool and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fn == "" {
				return fmt.Errorf("--fn is required")
			}
			return submitOne(fn, argsJSON, timeout)
		},
	}

	cmd.Flags().StringVar(&fn, "fn", "", "registered handler name to invoke")
	cmd.Flags().StringVar(&argsJSON, "args", "null", "JSON-encoded arguments passed to the handler")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "task timeout, 0 disables it")

	return cmd
}

func submitOne(fn string, argsJSON string, timeout time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := procpool.New(procpool.Config{
		Workers:       cfg.Pool.Workers,
		TaskLimit:     cfg.Pool.TaskLimit,
		Initializer:   cfg.Pool.Initializer,
		Deinitializer: cfg.Pool.Deinitializer,
		LockFilePath:  cfg.Pool.LockFilePath,
	})
	if err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}
	defer pool.Close(context.Background())

	args, err := normalizeArgsJSON(argsJSON)
	if err != nil {
		return fmt.Errorf("failed to parse --args: %w", err)
	}

	t, err := pool.Submit(fn, args, timeout)
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	value, err := t.Get()
	if err != nil {
		return fmt.Errorf("task failed: %w", err)
	}

	fmt.Println(string(value))
	return nil
}

func normalizeArgsJSON(raw string) ([]byte, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured shape of a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("Config file:      %s\n", configFile)
	fmt.Printf("Workers:          %d\n", cfg.Pool.Workers)
	fmt.Printf("Task limit:       %d\n", cfg.Pool.TaskLimit)
	fmt.Printf("Default timeout:  %s\n", cfg.Task.DefaultTimeout)
	if cfg.Metrics.Enabled {
		fmt.Printf("Metrics:          enabled on :%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("Metrics:          disabled")
	}
	return nil
}
