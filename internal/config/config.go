package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the deepmark daemon. The
// daemon builds its components from the values read at startup and does
// not rebuild them on change. The config watcher in watcher.go reloads the
// file into the global pointer when it changes, and the daemon reapplies
// only server.log_level from the reloaded values.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"      toml:"server"`
	Vault       VaultConfig       `mapstructure:"vault"       toml:"vault"`
	Store       StoreConfig       `mapstructure:"store"       toml:"store"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" toml:"fingerprint"`
	Watermark   WatermarkConfig   `mapstructure:"watermark"   toml:"watermark"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"      toml:"ffmpeg"`
	Security    SecurityConfig    `mapstructure:"security"    toml:"security"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"  toml:"resilience"`
	Tracing     TracingConfig     `mapstructure:"tracing"     toml:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     toml:"metrics"`
	Plugins     PluginConfig      `mapstructure:"plugins"     toml:"plugins"`
}

// ServerConfig holds the daemon's own process settings: where it keeps
// its state, how it logs, and the bind address of the thin API surface
// (health/ready/metrics/ingest — see internal/api).
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	LogFile      string `mapstructure:"log_file"      toml:"log_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
}

// VaultConfig resolves the master key KeyVault is built from (§4.1).
// Key rotation is out of scope; this reference is read once at startup.
type VaultConfig struct {
	MasterKeyRef string `mapstructure:"master_key_ref" toml:"master_key_ref"`
}

// StoreConfig names the SQLite-backed ProvenanceStore's database file and
// its retention/pruning behavior.
type StoreConfig struct {
	Path          string `mapstructure:"path"            toml:"path"`
	RetentionDays int    `mapstructure:"retention_days"  toml:"retention_days"`
}

// FingerprintConfig controls the content-hash sampling stride.
type FingerprintConfig struct {
	FrameStride int `mapstructure:"frame_stride" toml:"frame_stride"`
}

// WatermarkConfig controls the DWT watermark's sampling stride and
// coefficient-perturbation strength.
type WatermarkConfig struct {
	FrameStride int     `mapstructure:"frame_stride" toml:"frame_stride"`
	Alpha       float64 `mapstructure:"alpha"        toml:"alpha"`
}

// FFmpegConfig names the ffmpeg/ffprobe binaries Watermark, Fingerprint,
// and MetaStamp shell out to, and the subprocess timeout shared by all
// three.
type FFmpegConfig struct {
	FFmpegBin      string `mapstructure:"ffmpeg_bin"      toml:"ffmpeg_bin"`
	FFprobeBin     string `mapstructure:"ffprobe_bin"     toml:"ffprobe_bin"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
}

// SecurityConfig groups per-user enforcement settings.
type SecurityConfig struct {
	WarningBound int `mapstructure:"warning_bound" toml:"warning_bound"`
}

// ResilienceConfig controls the Transient-error retry policy applied at
// the store/codec boundary (§7).
type ResilienceConfig struct {
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"  toml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" toml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms"  toml:"retry_max_delay_ms"`
}

// TracingConfig controls OpenTelemetry distributed tracing of ingest stages.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "deepmarkd"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the Prometheus-format ingest counters.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// PluginConfig controls the optional verification-channel registry
// (internal/plugin).
type PluginConfig struct {
	Enabled bool                              `mapstructure:"enabled" toml:"enabled"`
	Dir     string                            `mapstructure:"dir"     toml:"dir"`
	Configs map[string]map[string]interface{} `mapstructure:"configs" toml:"configs"`
}

// RetryMaxDelay returns the resilience retry ceiling as a time.Duration.
func (r ResilienceConfig) RetryMaxDelay() time.Duration {
	if r.RetryMaxDelayMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.RetryMaxDelayMs) * time.Millisecond
}

// RetryBaseDelay returns the resilience retry's initial backoff as a
// time.Duration.
func (r ResilienceConfig) RetryBaseDelay() time.Duration {
	if r.RetryBaseDelayMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(r.RetryBaseDelayMs) * time.Millisecond
}

// FFmpegTimeout returns the subprocess timeout as a time.Duration.
func (f FFmpegConfig) FFmpegTimeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (DEEPMARK_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.deepmark/deepmark.toml
//  4. ./deepmark.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: DEEPMARK_VAULT_MASTER_KEY_REF etc.
	v.SetEnvPrefix("DEEPMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".deepmark"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("deepmark")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir and store.path.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Store.Path = expandHome(cfg.Store.Path)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.deepmark/deepmark.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".deepmark")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.log_file", d.Server.LogFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	// Vault
	v.SetDefault("vault.master_key_ref", d.Vault.MasterKeyRef)

	// Store
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.retention_days", d.Store.RetentionDays)

	// Fingerprint
	v.SetDefault("fingerprint.frame_stride", d.Fingerprint.FrameStride)

	// Watermark
	v.SetDefault("watermark.frame_stride", d.Watermark.FrameStride)
	v.SetDefault("watermark.alpha", d.Watermark.Alpha)

	// FFmpeg
	v.SetDefault("ffmpeg.ffmpeg_bin", d.FFmpeg.FFmpegBin)
	v.SetDefault("ffmpeg.ffprobe_bin", d.FFmpeg.FFprobeBin)
	v.SetDefault("ffmpeg.timeout_seconds", d.FFmpeg.TimeoutSeconds)

	// Security
	v.SetDefault("security.warning_bound", d.Security.WarningBound)

	// Resilience
	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	// Plugins
	v.SetDefault("plugins.enabled", d.Plugins.Enabled)
	v.SetDefault("plugins.dir", d.Plugins.Dir)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
