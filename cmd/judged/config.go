package main

import (
	"fmt"
	"os"
	"time"

	"judgecore/internal/sandbox"
	"judgecore/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultGRPCAddr        = "0.0.0.0:9095"
	defaultShutdownTimeout = 10 * time.Second
	defaultRateLimit       = 50.0
	defaultRateBurst       = 100
	defaultMaxPendingJobs  = 64
	defaultMaxQueueDepth   = 256
	defaultTempRoot        = "/var/lib/judged/scratch"
)

// GRPCConfig holds the Judger gRPC server's listen settings.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// RateLimitConfig configures the coordinator's process-wide token bucket,
// gating Judge and Exec calls ahead of the C1 Resource Semaphore.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// ResourceConfig configures the C1 Resource Semaphore and scratch storage.
type ResourceConfig struct {
	MaxPendingJobs int64  `yaml:"maxPendingJobs"`
	MaxMemoryBytes int64  `yaml:"maxMemoryBytes"`
	MaxQueueDepth  int    `yaml:"maxQueueDepth"`
	TempRoot       string `yaml:"tempRoot"`
}

// PlatformConfig carries the scaling constants JudgerInfo reports.
type PlatformConfig struct {
	TotalMemory uint64  `yaml:"totalMemory"`
	AccuracyNs  uint64  `yaml:"accuracyNs"`
	CPUFactor   float32 `yaml:"cpuFactor"`
}

// PluginsConfig points at the language plugin directory C8 loads at
// startup.
type PluginsConfig struct {
	Dir string `yaml:"dir"`
}

// AppConfig holds the full judged configuration.
type AppConfig struct {
	GRPC      GRPCConfig           `yaml:"grpc"`
	Logger    logger.Config        `yaml:"logger"`
	Secret    string               `yaml:"secret"`
	RateLimit RateLimitConfig      `yaml:"rateLimit"`
	Plugins   PluginsConfig        `yaml:"plugins"`
	Resources ResourceConfig       `yaml:"resources"`
	CGroup    sandbox.CGroupConfig `yaml:"cgroup"`
	Jailer    sandbox.JailerConfig `yaml:"jailer"`
	Platform  PlatformConfig       `yaml:"platform"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Plugins.Dir == "" {
		return nil, fmt.Errorf("plugins dir is required")
	}
	if cfg.Jailer.Runtime == "" {
		return nil, fmt.Errorf("jailer runtime path is required")
	}
	if cfg.CGroup.ParentPath == "" {
		return nil, fmt.Errorf("cgroup parent path is required")
	}

	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRateLimit
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.Resources.MaxPendingJobs <= 0 {
		cfg.Resources.MaxPendingJobs = defaultMaxPendingJobs
	}
	if cfg.Resources.MaxQueueDepth <= 0 {
		cfg.Resources.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.Resources.TempRoot == "" {
		cfg.Resources.TempRoot = defaultTempRoot
	}
	if cfg.CGroup.Version == "" {
		cfg.CGroup.Version = "v2"
	}
	if cfg.CGroup.Accuracy <= 0 {
		cfg.CGroup.Accuracy = 50 * time.Millisecond
	}
	if cfg.Jailer.CgroupVersion == "" {
		cfg.Jailer.CgroupVersion = cfg.CGroup.Version
	}

	return &cfg, nil
}
