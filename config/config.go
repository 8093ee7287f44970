// Package config handles environment-based configuration loading and the
// optional YAML entity file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables of the library. Values are resolved in three
// layers: built-in defaults, then the YAML entity file, then SLUICE_*
// environment variables.
type Config struct {
	// App
	AppName string `yaml:"app_name"`

	// Statistics
	MetricSampleCount   uint32 `yaml:"metric_sample_count"`
	MetricIntervalMs    uint32 `yaml:"metric_interval_ms"`
	MetricRtDropValveMs int64  `yaml:"metric_rt_drop_valve_ms"`

	// Slot chain / context lifecycle
	MaxSlotChainSize  int `yaml:"max_slot_chain_size"`
	MaxContextNameSize int `yaml:"max_context_name_size"`

	// Flow control
	OccupyTimeoutMs   int64   `yaml:"occupy_timeout_ms"`
	WarmUpColdFactor  int32   `yaml:"warm_up_cold_factor"`

	// Hot-parameter flow
	ParamCacheBaseCapacity int `yaml:"param_cache_base_capacity"`
	ParamCacheTotalCap     int `yaml:"param_cache_total_cap"`

	// Cluster
	ClusterNamespaceQPSLimit float64 `yaml:"cluster_namespace_qps_limit"`
	ClusterStateDebounceMs   int64   `yaml:"cluster_state_debounce_ms"`
	ClusterMaxOccupyRatio    float64 `yaml:"cluster_max_occupy_ratio"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// NewDefaultConfig returns a Config populated with the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		AppName:                  "sluice",
		MetricSampleCount:        2,
		MetricIntervalMs:         1000,
		MetricRtDropValveMs:      4900,
		MaxSlotChainSize:         6000,
		MaxContextNameSize:       2000,
		OccupyTimeoutMs:          500,
		WarmUpColdFactor:         3,
		ParamCacheBaseCapacity:   4000,
		ParamCacheTotalCap:       20000,
		ClusterNamespaceQPSLimit: 30000,
		ClusterStateDebounceMs:   5000,
		ClusterMaxOccupyRatio:    1,
		LogLevel:                 "info",
	}
}

// Load resolves the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty or the file does not exist), then
// environment overrides. Returns an error listing every invalid setting.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var errs []string
	cfg.AppName = envStr("SLUICE_APP_NAME", cfg.AppName)
	cfg.MetricSampleCount = uint32(envInt("SLUICE_METRIC_SAMPLE_COUNT", int(cfg.MetricSampleCount), &errs))
	cfg.MetricIntervalMs = uint32(envInt("SLUICE_METRIC_INTERVAL_MS", int(cfg.MetricIntervalMs), &errs))
	cfg.MetricRtDropValveMs = int64(envInt("SLUICE_METRIC_RT_DROP_VALVE_MS", int(cfg.MetricRtDropValveMs), &errs))
	cfg.MaxSlotChainSize = envInt("SLUICE_MAX_SLOT_CHAIN_SIZE", cfg.MaxSlotChainSize, &errs)
	cfg.MaxContextNameSize = envInt("SLUICE_MAX_CONTEXT_NAME_SIZE", cfg.MaxContextNameSize, &errs)
	cfg.OccupyTimeoutMs = int64(envInt("SLUICE_OCCUPY_TIMEOUT_MS", int(cfg.OccupyTimeoutMs), &errs))
	cfg.WarmUpColdFactor = int32(envInt("SLUICE_WARM_UP_COLD_FACTOR", int(cfg.WarmUpColdFactor), &errs))
	cfg.ParamCacheBaseCapacity = envInt("SLUICE_PARAM_CACHE_BASE_CAPACITY", cfg.ParamCacheBaseCapacity, &errs)
	cfg.ParamCacheTotalCap = envInt("SLUICE_PARAM_CACHE_TOTAL_CAP", cfg.ParamCacheTotalCap, &errs)
	cfg.ClusterNamespaceQPSLimit = envFloat("SLUICE_CLUSTER_NAMESPACE_QPS_LIMIT", cfg.ClusterNamespaceQPSLimit, &errs)
	cfg.ClusterStateDebounceMs = int64(envInt("SLUICE_CLUSTER_STATE_DEBOUNCE_MS", int(cfg.ClusterStateDebounceMs), &errs))
	cfg.ClusterMaxOccupyRatio = envFloat("SLUICE_CLUSTER_MAX_OCCUPY_RATIO", cfg.ClusterMaxOccupyRatio, &errs)
	cfg.LogLevel = envStr("SLUICE_LOG_LEVEL", cfg.LogLevel)

	validate(cfg, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func validate(cfg *Config, errs *[]string) {
	if cfg.MetricSampleCount == 0 {
		*errs = append(*errs, "metric_sample_count: must be positive")
	}
	if cfg.MetricIntervalMs == 0 {
		*errs = append(*errs, "metric_interval_ms: must be positive")
	} else if cfg.MetricSampleCount != 0 && cfg.MetricIntervalMs%cfg.MetricSampleCount != 0 {
		*errs = append(*errs, fmt.Sprintf("metric_interval_ms: %d not divisible by sample count %d",
			cfg.MetricIntervalMs, cfg.MetricSampleCount))
	}
	if cfg.MaxSlotChainSize <= 0 {
		*errs = append(*errs, "max_slot_chain_size: must be positive")
	}
	if cfg.MaxContextNameSize <= 0 {
		*errs = append(*errs, "max_context_name_size: must be positive")
	}
	if cfg.WarmUpColdFactor <= 1 {
		*errs = append(*errs, fmt.Sprintf("warm_up_cold_factor: must be > 1, got %d", cfg.WarmUpColdFactor))
	}
	if cfg.ParamCacheBaseCapacity <= 0 || cfg.ParamCacheTotalCap <= 0 {
		*errs = append(*errs, "param cache capacities must be positive")
	}
	if cfg.ClusterStateDebounceMs < 5000 {
		*errs = append(*errs, fmt.Sprintf("cluster_state_debounce_ms: must be >= 5000, got %d", cfg.ClusterStateDebounceMs))
	}
}

var global atomic.Pointer[Config]

func init() {
	global.Store(NewDefaultConfig())
}

// Global returns the active configuration snapshot.
func Global() *Config {
	return global.Load()
}

// SetGlobal atomically replaces the active configuration. In-flight checks
// keep the snapshot they started with.
func SetGlobal(cfg *Config) {
	if cfg == nil {
		return
	}
	global.Store(cfg)
}

func envStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}
