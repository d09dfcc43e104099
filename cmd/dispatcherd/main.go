package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/dispatch-core/pkg/blobstore"
	"github.com/cuemby/dispatch-core/pkg/cache"
	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/dispatcher"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/metrics"
	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/scheduler"
	"github.com/cuemby/dispatch-core/pkg/storage"
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
	Use:     "dispatcherd",
	Short:   "Distributed command-execution dispatcher",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpStateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadDispatcher(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := log.WithComponent("dispatcherd")

		store, err := storage.NewBoltStore(cfg.StorageDataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		c := cache.New(cfg.CacheAddr, cfg.CacheDB)
		defer c.Close()

		reg := registry.New(store, c)
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		snap, err := reg.MakeSnapshot()
		if err != nil {
			return fmt.Errorf("snapshotting registry for cache warm-up: %w", err)
		}
		reg.WarmCache(snap)

		blobs, err := blobstore.NewFSStore(cfg.BlobStoreDir)
		if err != nil {
			return fmt.Errorf("opening blob store: %w", err)
		}

		sched := scheduler.New(reg, broker, cfg)
		sched.Start()
		defer sched.Stop()

		collector := metrics.NewCollector(reg)
		collector.Start()
		defer collector.Stop()

		srv := dispatcher.NewServer(reg, sched, c, broker, blobs, cfg)

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.ListenAddr).Msg("dispatcher listening")
			if err := http.ListenAndServe(cfg.ListenAddr, srv); err != nil {
				errCh <- fmt.Errorf("dispatcher server: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			return err
		}

		return nil
	},
}

// dumpStateCmd opens the authoritative store read-write (bbolt has no
// read-only mode that still lets us create missing buckets) and prints the
// registry's full job/worker snapshot as JSON, for operators inspecting
// cold-start state or debugging a stuck dispatcher without a live API.
var dumpStateCmd = &cobra.Command{
	Use:   "dump-state",
	Short: "Print a JSON snapshot of every job and worker in the authoritative store",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadDispatcher(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.StorageDataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		reg := registry.New(store, nil)
		snap, err := reg.MakeSnapshot()
		if err != nil {
			return fmt.Errorf("snapshotting registry: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}
