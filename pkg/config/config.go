// Package config loads the recognized configuration options (spec §6) from
// a YAML file with environment-variable overrides. The command-line flags in
// cmd/dispatcherd and cmd/worker-agent choose the file (--config); they do
// not override individual options.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Dispatcher holds the options the dispatcher process recognizes.
type Dispatcher struct {
	ListenAddr    string `yaml:"listenAddr"`
	MetricsAddr   string `yaml:"metricsAddr"`
	StorageDataDir string `yaml:"storageDataDir"`
	CacheAddr     string `yaml:"cacheAddr"`
	CacheDB       int    `yaml:"cacheDB"`
	BlobStoreDir  string `yaml:"blobStoreDir"`
	BlobRetentionHours int64 `yaml:"blobRetentionHours"`

	HeartbeatTimeoutMs int64 `yaml:"heartbeatTimeoutMs"`
	SchedulerTickMs    int64 `yaml:"schedulerTickMs"`
	CooldownMs         int64 `yaml:"cooldownMs"`

	DefaultTimeoutMs   int64   `yaml:"defaultTimeoutMs"`
	DefaultCPU         float64 `yaml:"defaultCpu"`
	DefaultRamMb       int64   `yaml:"defaultRamMb"`
	DefaultMaxRetries  int     `yaml:"defaultMaxRetries"`

	RateLimitWindowMs int64 `yaml:"rateLimitWindowMs"`
	RateLimitMax      int   `yaml:"rateLimitMax"`

	AllowedOrigins []string `yaml:"allowedOrigins"`

	JWTSecret         string `yaml:"jwtSecret"`
	WorkerTokenSecret string `yaml:"workerTokenSecret"`
}

// DefaultDispatcher returns the defaults enumerated in spec §6.
func DefaultDispatcher() Dispatcher {
	return Dispatcher{
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
		StorageDataDir: "./data",
		CacheAddr:      "127.0.0.1:6379",
		CacheDB:        0,
		BlobStoreDir:   "./data/blobs",

		HeartbeatTimeoutMs: 30000,
		SchedulerTickMs:    5000,
		CooldownMs:         30000,

		DefaultTimeoutMs:  300000,
		DefaultCPU:        1,
		DefaultRamMb:      256,
		DefaultMaxRetries: 3,

		RateLimitWindowMs: 60000,
		RateLimitMax:      100,

		AllowedOrigins: []string{"*"},
	}
}

// Worker holds the options the worker agent process recognizes.
type Worker struct {
	DispatcherAddr    string `yaml:"dispatcherAddr"`
	WorkerTokenSecret string `yaml:"workerTokenSecret"`
	DataDir           string `yaml:"dataDir"`

	MaxParallelJobs int `yaml:"maxParallelJobs"`

	PollIntervalMs      int64 `yaml:"workerPollIntervalMs"`
	HeartbeatIntervalMs int64 `yaml:"workerHeartbeatIntervalMs"`

	SandboxSocket      string `yaml:"sandboxSocket"`
	SandboxMemoryLimit int64  `yaml:"sandboxMemoryLimit"`
	SandboxCPULimit    float64 `yaml:"sandboxCpuLimit"`
	SandboxTmpfsMb     int64  `yaml:"sandboxTmpfsMb"`
	SandboxNetworkMode string `yaml:"sandboxNetworkMode"`
}

// DefaultWorker returns the worker-side defaults enumerated in spec §6/§9.
func DefaultWorker() Worker {
	return Worker{
		DispatcherAddr:  "http://127.0.0.1:8080",
		DataDir:         "./worker-data",
		MaxParallelJobs: 0,

		PollIntervalMs:      5000,
		HeartbeatIntervalMs: 10000,

		SandboxSocket:      "/run/containerd/containerd.sock",
		SandboxMemoryLimit: 512 * 1024 * 1024,
		SandboxCPULimit:    1,
		SandboxTmpfsMb:     64,
		SandboxNetworkMode: "none",
	}
}

// LoadDispatcher reads a YAML config file (if path is non-empty and exists)
// into the defaults, then applies DISPATCH_* environment overrides.
func LoadDispatcher(path string) (Dispatcher, error) {
	cfg := DefaultDispatcher()
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnvString("DISPATCH_LISTEN_ADDR", &cfg.ListenAddr)
	applyEnvString("DISPATCH_METRICS_ADDR", &cfg.MetricsAddr)
	applyEnvString("DISPATCH_STORAGE_DATA_DIR", &cfg.StorageDataDir)
	applyEnvString("DISPATCH_CACHE_ADDR", &cfg.CacheAddr)
	applyEnvString("DISPATCH_BLOB_STORE_DIR", &cfg.BlobStoreDir)
	applyEnvString("DISPATCH_JWT_SECRET", &cfg.JWTSecret)
	applyEnvString("DISPATCH_WORKER_TOKEN_SECRET", &cfg.WorkerTokenSecret)
	applyEnvInt64("DISPATCH_HEARTBEAT_TIMEOUT_MS", &cfg.HeartbeatTimeoutMs)
	applyEnvInt64("DISPATCH_SCHEDULER_TICK_MS", &cfg.SchedulerTickMs)
	applyEnvInt64("DISPATCH_COOLDOWN_MS", &cfg.CooldownMs)
	return cfg, nil
}

// LoadWorker reads a YAML config file (if path is non-empty and exists) into
// the defaults, then applies WORKER_* environment overrides.
func LoadWorker(path string) (Worker, error) {
	cfg := DefaultWorker()
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnvString("WORKER_DISPATCHER_ADDR", &cfg.DispatcherAddr)
	applyEnvString("WORKER_TOKEN_SECRET", &cfg.WorkerTokenSecret)
	applyEnvString("WORKER_DATA_DIR", &cfg.DataDir)
	applyEnvString("WORKER_SANDBOX_SOCKET", &cfg.SandboxSocket)
	applyEnvString("WORKER_SANDBOX_NETWORK_MODE", &cfg.SandboxNetworkMode)
	applyEnvInt64("WORKER_POLL_INTERVAL_MS", &cfg.PollIntervalMs)
	applyEnvInt64("WORKER_HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatIntervalMs)
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnvString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyEnvInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
