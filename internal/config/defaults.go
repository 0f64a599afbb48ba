package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1:7677"

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.deepmark"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "deepmark.toml"

// DefaultStorePath is the default SQLite database path (before tilde
// expansion), inside DefaultDataDir.
const DefaultStorePath = "~/.deepmark/deepmark.db"

// DefaultRetentionDays is the default number of days activities/pruned
// rows are retained by Store.Prune.
const DefaultRetentionDays = 90

// DefaultFingerprintStride is the reference frame sampling interval
// Fingerprint uses when hashing video content (§4.2).
const DefaultFingerprintStride = 5

// DefaultWatermarkStride is the reference frame interval Watermark embeds
// into and checks on extraction (§4.3).
const DefaultWatermarkStride = 15

// DefaultWatermarkAlpha is the reference coefficient-perturbation
// strength applied to each embedded bit.
const DefaultWatermarkAlpha = 1.0

// DefaultFFmpegTimeoutSeconds is the default subprocess timeout shared by
// Fingerprint, Watermark, and MetaStamp's ffmpeg/ffprobe invocations.
const DefaultFFmpegTimeoutSeconds = 60

// DefaultWarningBound is the number of theft warnings a user accrues
// before IngestDecider locks them out (§3, §7 QuotaExhausted).
const DefaultWarningBound = 3

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in
// seconds. Set generously to accommodate large video uploads.
const DefaultWriteTimeout = 120

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultRetryMaxAttempts is the default maximum number of retry
// attempts for a Transient error at the store/codec boundary.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the default base delay for exponential
// backoff in milliseconds.
const DefaultRetryBaseDelayMs = 100

// DefaultRetryMaxDelayMs is the default maximum delay for exponential
// backoff in milliseconds.
const DefaultRetryMaxDelayMs = 5000

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "deepmarkd"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			DataDir:      DefaultDataDir,
			LogLevel:     DefaultLogLevel,
			LogFile:      "deepmarkd.log",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Vault: VaultConfig{
			MasterKeyRef: "keyring://deepmark/master-key",
		},
		Store: StoreConfig{
			Path:          DefaultStorePath,
			RetentionDays: DefaultRetentionDays,
		},
		Fingerprint: FingerprintConfig{
			FrameStride: DefaultFingerprintStride,
		},
		Watermark: WatermarkConfig{
			FrameStride: DefaultWatermarkStride,
			Alpha:       DefaultWatermarkAlpha,
		},
		FFmpeg: FFmpegConfig{
			FFmpegBin:      "ffmpeg",
			FFprobeBin:     "ffprobe",
			TimeoutSeconds: DefaultFFmpegTimeoutSeconds,
		},
		Security: SecurityConfig{
			WarningBound: DefaultWarningBound,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts: DefaultRetryMaxAttempts,
			RetryBaseDelayMs: DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:  DefaultRetryMaxDelayMs,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Plugins: PluginConfig{
			Enabled: false,
			Dir:     "~/.deepmark/plugins",
			Configs: map[string]map[string]interface{}{},
		},
	}
}
