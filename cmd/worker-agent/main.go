package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/sandbox"
	"github.com/cuemby/dispatch-core/pkg/worker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "worker-agent",
	Short:   "Worker agent for the distributed command-execution dispatcher",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Register with the dispatcher and begin polling for work",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadWorker(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := log.WithComponent("worker-agent")

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		workerID, err := loadOrCreateWorkerID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("resolving worker id: %w", err)
		}

		rt, err := sandbox.New(cfg.SandboxSocket)
		if err != nil {
			return fmt.Errorf("connecting to sandbox runtime: %w", err)
		}
		defer rt.Close()

		agent := worker.New(workerID, cfg, rt)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := agent.Start(ctx); err != nil {
			return fmt.Errorf("starting agent: %w", err)
		}

		logger.Info().Str("workerId", workerID).Str("dispatcher", cfg.DispatcherAddr).Msg("worker agent running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		agent.Stop()
		return nil
	},
}

func init() {
	startCmd.Flags().String("config", "", "Path to YAML config file")
}

// loadOrCreateWorkerID resolves the worker's identity, generating and
// persisting a new one on first start (spec §3: "chosen by the worker and
// persisted across restarts").
func loadOrCreateWorkerID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "worker-id")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := "worker-" + uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
