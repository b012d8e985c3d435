package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the healing engine and the
// privileged helper.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Detector DetectorConfig `yaml:"detector"`
	Executor ExecutorConfig `yaml:"executor"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Rules    RulesConfig    `yaml:"rules"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the admin HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// EngineConfig controls the remediation loop.
type EngineConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Cooldown    time.Duration `yaml:"cooldown"`
	HourlyCap   int           `yaml:"hourlyCap"`
	HistorySize int           `yaml:"historySize"`
	// MinSeverity gates automatic remediation; less severe issues are
	// logged and observed only.
	MinSeverity string `yaml:"minSeverity"`
}

// DetectorConfig holds threshold values and the monitored service list.
type DetectorConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CPUPercent    float64       `yaml:"cpuPercent"`
	MemoryPercent float64       `yaml:"memoryPercent"`
	DiskPercent   float64       `yaml:"diskPercent"`
	// LoadPerCore is multiplied by the core count to form the load
	// average threshold.
	LoadPerCore float64  `yaml:"loadPerCore"`
	Services    []string `yaml:"services"`
	Mounts      []string `yaml:"mounts"`
}

// ExecutorConfig selects the permission boundary mode and helper transport.
type ExecutorConfig struct {
	// DevMode opts into direct in-process execution. Never enable in
	// production; set via LUMEN_HEAL_DEV_MODE=1.
	DevMode    bool          `yaml:"devMode"`
	SocketPath string        `yaml:"socketPath"`
	Timeout    time.Duration `yaml:"timeout"`
	// Secret signs helper requests (HMAC-SHA256). Usually injected via
	// LUMEN_HEAL_SECRET rather than the config file.
	Secret string `yaml:"secret"`
}

// WatcherConfig lists critical paths monitored for integrity violations.
type WatcherConfig struct {
	CriticalPaths []string      `yaml:"criticalPaths"`
	Debounce      time.Duration `yaml:"debounce"`
}

// RulesConfig controls resolver rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file plus environment overrides and
// validates it. Validation failures here are the only errors fatal to the
// process.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LUMEN_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8333",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Interval:    60 * time.Second,
			Cooldown:    5 * time.Minute,
			HourlyCap:   10,
			HistorySize: 1000,
			MinSeverity: "high",
		},
		Detector: DetectorConfig{
			Timeout:       2 * time.Second,
			CPUPercent:    80,
			MemoryPercent: 85,
			DiskPercent:   90,
			LoadPerCore:   1.5,
			Mounts:        []string{"/"},
		},
		Executor: ExecutorConfig{
			SocketPath: "/run/lumen-heal.sock",
			Timeout:    5 * time.Second,
		},
		Watcher: WatcherConfig{
			Debounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive, got %s", c.Engine.Interval)
	}
	if c.Engine.Cooldown < 0 {
		return fmt.Errorf("engine.cooldown must not be negative, got %s", c.Engine.Cooldown)
	}
	if c.Engine.HourlyCap <= 0 {
		return fmt.Errorf("engine.hourlyCap must be positive, got %d", c.Engine.HourlyCap)
	}
	if c.Engine.HistorySize <= 0 {
		return fmt.Errorf("engine.historySize must be positive, got %d", c.Engine.HistorySize)
	}
	switch strings.ToLower(c.Engine.MinSeverity) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("engine.minSeverity must be one of low, medium, high, critical; got %q", c.Engine.MinSeverity)
	}
	if c.Detector.Timeout <= 0 {
		return fmt.Errorf("detector.timeout must be positive, got %s", c.Detector.Timeout)
	}
	for name, v := range map[string]float64{
		"detector.cpuPercent":    c.Detector.CPUPercent,
		"detector.memoryPercent": c.Detector.MemoryPercent,
		"detector.diskPercent":   c.Detector.DiskPercent,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%s must be within (0, 100], got %.1f", name, v)
		}
	}
	if c.Detector.LoadPerCore <= 0 {
		return fmt.Errorf("detector.loadPerCore must be positive, got %.2f", c.Detector.LoadPerCore)
	}
	if c.Executor.SocketPath == "" {
		return fmt.Errorf("executor.socketPath must be set")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout must be positive, got %s", c.Executor.Timeout)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMEN_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LUMEN_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LUMEN_HEAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Interval = d
		}
	}
	if v := os.Getenv("LUMEN_HEAL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Cooldown = d
		}
	}
	if v := os.Getenv("LUMEN_HEAL_HOURLY_CAP"); v != "" {
		if cap, err := strconv.Atoi(v); err == nil {
			cfg.Engine.HourlyCap = cap
		}
	}
	if v := os.Getenv("LUMEN_HEAL_MIN_SEVERITY"); v != "" {
		cfg.Engine.MinSeverity = v
	}
	if v := os.Getenv("LUMEN_HEAL_SOCKET"); v != "" {
		cfg.Executor.SocketPath = v
	}
	if v := os.Getenv("LUMEN_HEAL_SECRET"); v != "" {
		cfg.Executor.Secret = v
	}
	if isTruthy(os.Getenv("LUMEN_HEAL_DEV_MODE")) {
		cfg.Executor.DevMode = true
	}
	if v := os.Getenv("LUMEN_HEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("LUMEN_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LUMEN_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "1") || strings.EqualFold(v, "true") || strings.EqualFold(v, "on")
}
