package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.BindAddress == "" {
		errs = append(errs, "server.bind_address must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}

	// Vault validation
	if cfg.Vault.MasterKeyRef == "" {
		errs = append(errs, "vault.master_key_ref must not be empty")
	}

	// Store validation
	if cfg.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("store.retention_days must be non-negative, got %d", cfg.Store.RetentionDays))
	}

	// Fingerprint validation
	if cfg.Fingerprint.FrameStride < 1 {
		errs = append(errs, fmt.Sprintf("fingerprint.frame_stride must be at least 1, got %d", cfg.Fingerprint.FrameStride))
	}

	// Watermark validation
	if cfg.Watermark.FrameStride < 1 {
		errs = append(errs, fmt.Sprintf("watermark.frame_stride must be at least 1, got %d", cfg.Watermark.FrameStride))
	}
	if cfg.Watermark.Alpha <= 0 {
		errs = append(errs, fmt.Sprintf("watermark.alpha must be positive, got %f", cfg.Watermark.Alpha))
	}

	// FFmpeg validation
	if cfg.FFmpeg.FFmpegBin == "" {
		errs = append(errs, "ffmpeg.ffmpeg_bin must not be empty")
	}
	if cfg.FFmpeg.FFprobeBin == "" {
		errs = append(errs, "ffmpeg.ffprobe_bin must not be empty")
	}
	if cfg.FFmpeg.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("ffmpeg.timeout_seconds must be at least 1, got %d", cfg.FFmpeg.TimeoutSeconds))
	}

	// Security validation
	if cfg.Security.WarningBound < 1 {
		errs = append(errs, fmt.Sprintf("security.warning_bound must be at least 1, got %d", cfg.Security.WarningBound))
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be non-negative, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_base_delay_ms must be non-negative, got %d", cfg.Resilience.RetryBaseDelayMs))
	}
	if cfg.Resilience.RetryMaxDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_delay_ms must be non-negative, got %d", cfg.Resilience.RetryMaxDelayMs))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
